// Package status derives a single phase and progress line from queue counts.
package status

import (
	"context"
	"fmt"

	"scribe/internal/queue"
)

// Phase summarizes what the pipeline is doing right now.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseQueued              Phase = "queued"
	PhaseDownloads           Phase = "processing_downloads"
	PhaseTranscriptions      Phase = "processing_transcriptions"
	PhaseCompleted           Phase = "completed"
	PhaseCompletedWithErrors Phase = "completed_with_errors"
)

// Snapshot is a point-in-time view of queue health.
type Snapshot struct {
	Phase         Phase          `json:"phase"`
	Progress      string         `json:"progress"`
	Total         int            `json:"total"`
	Processed     int            `json:"processed"`
	Failed        int            `json:"failed"`
	Pending       int            `json:"pendingResolution"`
	ProcessedList []string       `json:"processedList"`
	FailedList    []string       `json:"failedList"`
	ByStatus      map[string]int `json:"byStatus"`
}

// Aggregator computes snapshots from the queue store.
type Aggregator struct {
	store *queue.Store
}

// NewAggregator builds an Aggregator over the queue store.
func NewAggregator(store *queue.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Snapshot reads current counts and classifies the pipeline phase.
//
// Precedence mirrors how an operator reads the queue: any in-flight
// preparation counts as downloading, then transcription, then waiting work,
// then the terminal summary.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read queue stats: %w", err)
	}

	snap := Snapshot{ByStatus: make(map[string]int, len(stats))}
	for status, count := range stats {
		snap.Total += count
		snap.ByStatus[string(status)] = count
	}
	snap.Processed = stats[queue.StatusCompleted]
	snap.Failed = stats[queue.StatusFailed]
	snap.Pending = stats[queue.StatusDuplicatePending]

	if snap.Processed > 0 || snap.Failed > 0 {
		items, err := a.store.List(ctx, queue.StatusCompleted, queue.StatusFailed)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list finished items: %w", err)
		}
		for _, item := range items {
			switch item.Status {
			case queue.StatusCompleted:
				snap.ProcessedList = append(snap.ProcessedList, itemLabel(item))
			case queue.StatusFailed:
				snap.FailedList = append(snap.FailedList, itemLabel(item))
			}
		}
	}

	done := snap.Processed + snap.Failed + stats[queue.StatusCancelled]
	snap.Progress = fmt.Sprintf("%d/%d", done, snap.Total)
	snap.Phase = classify(stats, snap.Total, done)
	return snap, nil
}

// itemLabel prefers the human title over the raw source locator.
func itemLabel(item *queue.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.Source
}

func classify(stats map[queue.Status]int, total, done int) Phase {
	if total == 0 {
		return PhaseIdle
	}
	if stats[queue.StatusAcquiring] > 0 || stats[queue.StatusConverting] > 0 {
		return PhaseDownloads
	}
	if stats[queue.StatusTranscribing] > 0 {
		return PhaseTranscriptions
	}
	waiting := stats[queue.StatusQueued] +
		stats[queue.StatusConverted] +
		stats[queue.StatusSkippedConversion] +
		stats[queue.StatusDuplicatePending]
	if waiting > 0 {
		return PhaseQueued
	}
	if stats[queue.StatusFailed] > 0 {
		return PhaseCompletedWithErrors
	}
	return PhaseCompleted
}
