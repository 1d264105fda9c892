package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/internal/dedup"
	"scribe/internal/engine"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/results"
)

// runWorker executes one transcription job on a claimed item using the given
// slot's engine handle.
func (o *Orchestrator) runWorker(ctx context.Context, s *slot, item *queue.Item) {
	defer func() {
		o.releaseSlot(s)
		o.store.Release(item.ID)
		o.wg.Done()
		o.Wake()
	}()

	logger := o.logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldStage, "transcribe"),
		logging.String(logging.FieldRequestID, uuid.NewString()),
	)

	if err := o.store.UpdateStatus(ctx, item.ID, queue.StatusTranscribing, ""); err != nil {
		// The item moved (usually a cancel) between claim and start.
		logger.Info("item no longer ready, skipping",
			logging.Error(err),
			logging.String(logging.FieldEventType, "worker_skipped"))
		return
	}

	if item.LocalPath == "" {
		o.failItem(ctx, logger, item, errors.New("no media file recorded"))
		return
	}
	if _, err := os.Stat(item.LocalPath); err != nil {
		o.failItem(ctx, logger, item, fmt.Errorf("media file missing: %w", err))
		return
	}

	started := time.Now()
	result, err := s.engine.Transcribe(ctx, item.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a job failure. Recovery requeues the item on the
			// next start.
			return
		}
		o.failItem(ctx, logger, item, err)
		return
	}

	current, err := o.store.GetByID(ctx, item.ID)
	if err != nil {
		o.failItem(ctx, logger, item, fmt.Errorf("reload item: %w", err))
		return
	}
	if current == nil || current.Status != queue.StatusTranscribing {
		// Cancelled while the engine was running; the result is discarded and
		// the media goes with it.
		logger.Info("item cancelled during transcription, discarding result",
			logging.String(logging.FieldEventType, "worker_discarded"))
		o.removeMedia(logger, item.LocalPath)
		return
	}

	name := dedup.ProposedName(current)
	transcript := &results.Transcript{
		Name:     name,
		Source:   current.Source,
		Title:    current.Title,
		Language: result.Language,
		Model:    o.cfg.Transcription.Model,
		Header:   buildHeader(current, result, o.cfg.Transcription.Model),
		Content:  result.Text,
	}
	if err := o.catalog.Upsert(ctx, transcript); err != nil {
		o.failItem(ctx, logger, item, fmt.Errorf("store transcript: %w", err))
		return
	}

	if err := o.store.UpdateStatus(ctx, item.ID, queue.StatusCompleted, ""); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			// Cancel raced the final write; take the transcript back out.
			if _, delErr := o.catalog.DeleteByName(ctx, name); delErr != nil {
				logger.Warn("failed to discard transcript for cancelled item", logging.Error(delErr))
			}
			o.removeMedia(logger, item.LocalPath)
			return
		}
		o.failItem(ctx, logger, item, fmt.Errorf("complete item: %w", err))
		return
	}

	o.removeMedia(logger, item.LocalPath)
	logger.Info("transcription completed",
		logging.String("output_name", name),
		logging.String("language", result.Language),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "worker_completed"))
}

func (o *Orchestrator) failItem(ctx context.Context, logger *slog.Logger, item *queue.Item, cause error) {
	if err := o.store.UpdateStatus(ctx, item.ID, queue.StatusFailed, cause.Error()); err != nil {
		logger.Error("failed to record job failure",
			logging.Error(err),
			logging.String("cause", cause.Error()),
			logging.String(logging.FieldEventType, "worker_fail_unrecorded"))
		return
	}
	logger.Error("transcription failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "worker_failed"))
}

func (o *Orchestrator) removeMedia(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove media file", logging.Error(err), logging.String("path", path))
	}
}

// buildHeader renders the metadata block stored alongside the transcript
// body.
func buildHeader(item *queue.Item, result engine.Result, model string) string {
	var b strings.Builder
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	fmt.Fprintf(&b, "Source: %s\n", item.Source)
	if result.Language != "" {
		fmt.Fprintf(&b, "Language: %s", engine.LanguageDisplayName(result.Language))
		if result.Confidence > 0 {
			fmt.Fprintf(&b, " (%.0f%% confidence)", result.Confidence*100)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Model: %s\n", model)
	fmt.Fprintf(&b, "Transcribed: %s\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
