package api

import (
	"time"

	"scribe/internal/queue"
	"scribe/internal/results"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FromQueueItem converts a persisted queue item into its transport form.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	return QueueItem{
		ID:           item.ID,
		Source:       item.Source,
		SourceKind:   string(item.SourceKind),
		Title:        item.Title,
		LocalPath:    item.LocalPath,
		Status:       string(item.Status),
		ErrorMessage: item.ErrorMessage,
		ProposedName: item.ProposedName,
		CreatedAt:    formatTime(item.CreatedAt),
		UpdatedAt:    formatTime(item.UpdatedAt),
	}
}

// FromQueueItems converts a slice of queue items.
func FromQueueItems(items []*queue.Item) []QueueItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromTranscript converts a stored transcript into its transport form.
func FromTranscript(transcript *results.Transcript) TranscriptResponse {
	if transcript == nil {
		return TranscriptResponse{}
	}
	return TranscriptResponse{
		Name:      transcript.Name,
		Title:     transcript.Title,
		Source:    transcript.Source,
		Language:  transcript.Language,
		Model:     transcript.Model,
		Header:    transcript.Header,
		Content:   transcript.Content,
		CreatedAt: formatTime(transcript.CreatedAt),
		UpdatedAt: formatTime(transcript.UpdatedAt),
	}
}

// FromRemoveOutcome converts bulk removal counts.
func FromRemoveOutcome(outcome queue.RemoveOutcome) RemoveResponse {
	return RemoveResponse{
		Removed:      outcome.Removed,
		Cancelled:    outcome.Cancelled,
		NotFound:     outcome.NotFound,
		CannotRemove: outcome.CannotRemove,
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}
