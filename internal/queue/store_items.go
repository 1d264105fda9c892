package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NewRemote enqueues a remote fetch locator. Enqueueing a source that already
// has a non-terminal item is an idempotent no-op: the existing item is
// returned together with ErrDuplicateSource.
func (s *Store) NewRemote(ctx context.Context, url string) (*Item, error) {
	return s.insert(ctx, strings.TrimSpace(url), SourceRemote, "", "")
}

// NewLocal enqueues an already-uploaded local file.
func (s *Store) NewLocal(ctx context.Context, path, title string) (*Item, error) {
	path = strings.TrimSpace(path)
	if title == "" {
		title = inferTitleFromPath(path)
	}
	return s.insert(ctx, path, SourceLocal, title, path)
}

func (s *Store) insert(ctx context.Context, source string, kind SourceKind, title, localPath string) (*Item, error) {
	if source == "" {
		return nil, errors.New("source locator required")
	}

	if existing, err := s.findActiveBySource(ctx, source); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ErrDuplicateSource
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (source, source_kind, title, local_path, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		source,
		string(kind),
		nullableString(title),
		nullableString(localPath),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *Store) findActiveBySource(ctx context.Context, source string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items
        WHERE source = ? AND status NOT IN (?, ?, ?) ORDER BY id LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, source, StatusCompleted, StatusFailed, StatusCancelled)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source: %w", err)
	}
	return item, nil
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// List returns queue items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemsByStatus returns items matching a status ordered by creation time.
func (s *Store) ItemsByStatus(ctx context.Context, status Status) ([]*Item, error) {
	return s.List(ctx, status)
}

// NextReadyForPrep returns the oldest unclaimed queued item, or nil.
func (s *Store) NextReadyForPrep(ctx context.Context) (*Item, error) {
	items, err := s.List(ctx, StatusQueued)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if !s.IsClaimed(item.ID) {
			return item, nil
		}
	}
	return nil, nil
}

// NextReadyForTranscription returns up to limit unclaimed items in the ready
// pool, FIFO by insertion order. Items parked in duplicate_pending never
// qualify because the ready statuses exclude that state.
func (s *Store) NextReadyForTranscription(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.List(ctx, readyForTranscription...)
	if err != nil {
		return nil, err
	}
	selected := make([]*Item, 0, limit)
	for _, item := range items {
		if s.IsClaimed(item.ID) {
			continue
		}
		selected = append(selected, item)
		if len(selected) == limit {
			break
		}
	}
	return selected, nil
}

// Claim marks an item as owned by the calling worker for one stage.
func (s *Store) Claim(ctx context.Context, id int64) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.claims[id]; held {
		return ErrAlreadyClaimed
	}
	s.claims[id] = struct{}{}
	return nil
}

// Release unclaims an item without touching its status.
func (s *Store) Release(id int64) {
	s.mu.Lock()
	delete(s.claims, id)
	s.mu.Unlock()
}

// IsClaimed reports whether a worker currently owns the item.
func (s *Store) IsClaimed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.claims[id]
	return held
}

// UpdateStatus transitions an item along a state machine edge. Illegal edges
// fail with ErrInvalidTransition and leave the stored state unchanged. A
// failing write is retried once; if it still fails the error surfaces and
// nothing has moved.
func (s *Store) UpdateStatus(ctx context.Context, id int64, newStatus Status, errMsg string) error {
	ctx = ensureContext(ctx)
	if _, known := statusSet[newStatus]; !known {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	var attemptErr error
	for attempt := 0; attempt < 2; attempt++ {
		attemptErr = s.updateStatusOnce(ctx, id, newStatus, errMsg)
		if attemptErr == nil ||
			errors.Is(attemptErr, ErrNotFound) ||
			errors.Is(attemptErr, ErrInvalidTransition) {
			return attemptErr
		}
	}
	return attemptErr
}

func (s *Store) updateStatusOnce(ctx context.Context, id int64, newStatus Status, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStr string
	row := tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id)
	if err := row.Scan(&currentStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read current status: %w", err)
	}
	current := Status(currentStr)
	if !canTransition(current, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if current == StatusDuplicatePending {
		// Leaving the duplicate gate always clears the resolution payload.
		_, err = tx.ExecContext(ctx,
			`UPDATE queue_items
             SET status = ?, error_message = ?, proposed_name = NULL,
                 pending_content = NULL, pending_header = NULL, updated_at = ?
             WHERE id = ?`,
			newStatus, nullableString(errMsg), now, id)
	} else if newStatus == StatusFailed {
		_, err = tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			newStatus, nullableString(errMsg), now, id)
	} else {
		// Any successful move clears a previous attempt's error message.
		_, err = tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
			newStatus, now, id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

// MarkDuplicatePending parks an item at the duplicate gate with its
// resolution payload in a single atomic write.
func (s *Store) MarkDuplicatePending(ctx context.Context, id int64, proposedName, content, header string) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin gate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStr string
	row := tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id)
	if err := row.Scan(&currentStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read current status: %w", err)
	}
	if !canTransition(Status(currentStr), StatusDuplicatePending) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStr, StatusDuplicatePending)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_items
         SET status = ?, proposed_name = ?, pending_content = ?, pending_header = ?,
             error_message = NULL, updated_at = ?
         WHERE id = ?`,
		StatusDuplicatePending, proposedName, nullableString(content), nullableString(header), now, id)
	if err != nil {
		return fmt.Errorf("mark duplicate pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gate: %w", err)
	}
	return nil
}

// SetLocalPath records the on-disk location of the item's media file.
func (s *Store) SetLocalPath(ctx context.Context, id int64, path string) error {
	return s.setField(ctx, id, "local_path", path)
}

// SetTitle records the human label once it is known.
func (s *Store) SetTitle(ctx context.Context, id int64, title string) error {
	return s.setField(ctx, id, "title", title)
}

func (s *Store) setField(ctx context.Context, id int64, column, value string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE queue_items SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		nullableString(value), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel moves a non-terminal item to cancelled. Cancellation is cooperative:
// an in-flight stage keeps running and discards its result at the next
// status checkpoint.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	return s.UpdateStatus(ctx, id, StatusCancelled, "")
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	s.Release(id)
	return affected > 0, nil
}

// RemoveOutcome summarizes a bulk removal request per disposition.
type RemoveOutcome struct {
	Removed      int `json:"removed"`
	Cancelled    int `json:"cancelled"`
	NotFound     int `json:"notFound"`
	CannotRemove int `json:"cannotRemove"`
}

// RemoveMany cancels active items, deletes terminal ones, and reports a
// per-disposition count. Callers render these counts directly, so the
// semantics here must stay stable.
func (s *Store) RemoveMany(ctx context.Context, ids []int64) (RemoveOutcome, error) {
	var outcome RemoveOutcome
	for _, id := range ids {
		item, err := s.GetByID(ctx, id)
		if err != nil {
			return outcome, err
		}
		if item == nil {
			outcome.NotFound++
			continue
		}
		if item.IsTerminal() {
			removed, err := s.Remove(ctx, id)
			if err != nil {
				return outcome, err
			}
			if removed {
				outcome.Removed++
			} else {
				outcome.NotFound++
			}
			continue
		}
		if err := s.Cancel(ctx, id); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				outcome.CannotRemove++
				continue
			}
			return outcome, err
		}
		outcome.Cancelled++
	}
	return outcome, nil
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// HealthSummary aggregates queue state for diagnostic output.
type HealthSummary struct {
	Total              int
	Waiting            int
	Processing         int
	AwaitingResolution int
	Completed          int
	Failed             int
	Cancelled          int
}

// Health aggregates queue counts into a diagnostic summary.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued, StatusConverted, StatusSkippedConversion:
			health.Waiting += count
		case StatusDuplicatePending:
			health.AwaitingResolution += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// HasActiveItems reports whether any item still demands pipeline attention.
func (s *Store) HasActiveItems(ctx context.Context) (bool, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return false, err
	}
	for status, count := range stats {
		if count == 0 {
			continue
		}
		if IsTerminal(status) || status == StatusDuplicatePending {
			continue
		}
		return true, nil
	}
	return false, nil
}

// ClearCompleted removes only completed items from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed items from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	s.mu.Lock()
	s.claims = make(map[int64]struct{})
	s.mu.Unlock()
	return res.RowsAffected()
}

var titleCaser = cases.Title(language.English)

func inferTitleFromPath(path string) string {
	base := strings.TrimSpace(filepath.Base(path))
	if base == "" {
		return "Manual Import"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", ".", " ").Replace(base)
	cleaned := strings.Join(strings.Fields(base), " ")
	if cleaned == "" {
		return "Manual Import"
	}
	return titleCaser.String(cleaned)
}
