// Package dedup implements the duplicate output gate. Before a ready item is
// handed to a worker, its proposed output name is checked against the
// transcript catalog; a collision parks the item until an operator decides
// whether to overwrite the stored transcript or drop the new one.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/results"
)

// Resolution names an operator decision for a parked duplicate.
type Resolution string

const (
	ResolutionOverwrite Resolution = "overwrite"
	ResolutionCancel    Resolution = "cancel"
)

// ParseResolution converts a string into a known Resolution.
func ParseResolution(value string) (Resolution, bool) {
	switch Resolution(strings.ToLower(strings.TrimSpace(value))) {
	case ResolutionOverwrite:
		return ResolutionOverwrite, true
	case ResolutionCancel:
		return ResolutionCancel, true
	default:
		return "", false
	}
}

var (
	// ErrNotPendingDuplicate indicates a resolution was submitted for an item
	// that is not parked at the gate.
	ErrNotPendingDuplicate = errors.New("item is not pending duplicate resolution")
	// ErrNoPendingPayload indicates a parked item is missing its resolution
	// payload and cannot be resolved.
	ErrNoPendingPayload = errors.New("item has no pending resolution payload")
	// ErrUnknownResolution indicates an unrecognized resolution action.
	ErrUnknownResolution = errors.New("unknown resolution action")
)

// Resolver gates ready items on output-name collisions and applies operator
// resolutions.
type Resolver struct {
	store   *queue.Store
	catalog *results.Store
	logger  *slog.Logger
}

// NewResolver builds a Resolver over the queue store and transcript catalog.
func NewResolver(store *queue.Store, catalog *results.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		store:   store,
		catalog: catalog,
		logger:  logging.NewComponentLogger(logger, "dedup"),
	}
}

// nameReplacer strips characters that are unsafe in output names. Titles come
// straight from yt-dlp metadata and can carry path separators.
var nameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

func sanitizeName(name string) string {
	return strings.TrimSpace(nameReplacer.Replace(strings.TrimSpace(name)))
}

// ProposedName derives the output name an item will publish under: the base
// name of its media file with the extension swapped for ".txt". Items without
// a local path fall back to their title.
func ProposedName(item *queue.Item) string {
	base := ""
	if item.LocalPath != "" {
		base = filepath.Base(item.LocalPath)
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if base == "" {
		base = sanitizeName(item.Title)
	}
	if base == "" {
		base = fmt.Sprintf("item-%d", item.ID)
	}
	return base + ".txt"
}

// CheckAndGate parks the item in duplicate_pending when its proposed output
// name collides with a stored transcript. It reports whether the item was
// gated; a false return means the item may proceed to transcription.
func (r *Resolver) CheckAndGate(ctx context.Context, item *queue.Item) (bool, error) {
	name := ProposedName(item)
	exists, err := r.catalog.ExistsByName(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check output name: %w", err)
	}
	if !exists {
		return false, nil
	}

	if err := r.store.MarkDuplicatePending(ctx, item.ID, name, "", ""); err != nil {
		return false, fmt.Errorf("park duplicate: %w", err)
	}
	r.logger.Info("output name collision, awaiting resolution",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("proposed_name", name))
	return true, nil
}

// Resolve applies an operator decision to a parked item. The item is claimed
// for the duration of the resolution so the dispatch loop cannot race it.
func (r *Resolver) Resolve(ctx context.Context, id int64, action Resolution) error {
	if action != ResolutionOverwrite && action != ResolutionCancel {
		return fmt.Errorf("%w: %q", ErrUnknownResolution, action)
	}

	if err := r.store.Claim(ctx, id); err != nil {
		return err
	}
	defer r.store.Release(id)

	item, err := r.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return queue.ErrNotFound
	}
	if item.Status != queue.StatusDuplicatePending {
		return fmt.Errorf("%w: item %d is %s", ErrNotPendingDuplicate, id, item.Status)
	}
	if item.ProposedName == "" {
		return ErrNoPendingPayload
	}

	switch action {
	case ResolutionCancel:
		return r.resolveCancel(ctx, item)
	default:
		return r.resolveOverwrite(ctx, item)
	}
}

func (r *Resolver) resolveCancel(ctx context.Context, item *queue.Item) error {
	if err := r.store.Cancel(ctx, item.ID); err != nil {
		return fmt.Errorf("cancel duplicate: %w", err)
	}
	// The acquired media has no further use once the item is dropped.
	if item.LocalPath != "" {
		if err := os.Remove(item.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove media for cancelled duplicate",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}
	r.logger.Info("duplicate resolution: cancelled",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("proposed_name", item.ProposedName))
	return nil
}

func (r *Resolver) resolveOverwrite(ctx context.Context, item *queue.Item) error {
	if _, err := r.catalog.DeleteByName(ctx, item.ProposedName); err != nil {
		return fmt.Errorf("remove stored transcript: %w", err)
	}

	if item.PendingContent != "" {
		transcript := &results.Transcript{
			Name:    item.ProposedName,
			Source:  item.Source,
			Title:   item.Title,
			Header:  item.PendingHeader,
			Content: item.PendingContent,
		}
		if err := r.catalog.Upsert(ctx, transcript); err != nil {
			return fmt.Errorf("store pending transcript: %w", err)
		}
		if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusCompleted, ""); err != nil {
			return fmt.Errorf("complete resolved duplicate: %w", err)
		}
		r.logger.Info("duplicate resolution: overwrote with pending transcript",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String("proposed_name", item.ProposedName))
		return nil
	}

	// No transcript yet: release the item back into the ready pool.
	if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusConverted, ""); err != nil {
		return fmt.Errorf("requeue resolved duplicate: %w", err)
	}
	r.logger.Info("duplicate resolution: overwrite, requeued for transcription",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("proposed_name", item.ProposedName))
	return nil
}
