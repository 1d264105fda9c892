package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"scribe/internal/config"
)

// Store manages queue persistence backed by SQLite. Claims are tracked in
// memory only; a claim never survives a process restart.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	claims map[int64]struct{}
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the queue database and revalidates
// persisted state against the filesystem.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, claims: make(map[int64]struct{})}
	ctx := context.Background()
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.recoverInterrupted(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the queue database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// recoverInterrupted requeues work that was in flight when the previous
// process died. Processing statuses roll back to the start of their stage,
// and any non-terminal item whose local file vanished is requeued from
// scratch. This is the at-least-once recovery contract: a stage may run
// again, never silently not at all.
func (s *Store) recoverInterrupted(ctx context.Context) error {
	items, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("load items for recovery: %w", err)
	}
	for _, item := range items {
		if item.IsTerminal() {
			continue
		}

		target := item.Status
		switch item.Status {
		case StatusAcquiring:
			target = StatusQueued
		case StatusConverting:
			// Conversion consumes the acquired file; restart the item so the
			// source is fetched again.
			target = StatusQueued
		case StatusTranscribing:
			target = StatusConverted
		}

		if item.LocalPath != "" {
			if _, statErr := os.Stat(item.LocalPath); statErr != nil {
				target = StatusQueued
			}
		}

		if target == item.Status {
			continue
		}

		clearPath := target == StatusQueued
		now := time.Now().UTC().Format(time.RFC3339Nano)
		var execErr error
		if clearPath {
			_, execErr = s.execWithRetry(ctx,
				`UPDATE queue_items SET status = ?, local_path = NULL, error_message = NULL, updated_at = ? WHERE id = ?`,
				target, now, item.ID)
		} else {
			_, execErr = s.execWithRetry(ctx,
				`UPDATE queue_items SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
				target, now, item.ID)
		}
		if execErr != nil {
			return fmt.Errorf("requeue interrupted item %d: %w", item.ID, execErr)
		}
	}
	return nil
}

const itemColumns = "id, source, source_kind, title, local_path, status, error_message, proposed_name, pending_content, pending_header, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id             int64
		source         string
		sourceKind     string
		title          sql.NullString
		localPath      sql.NullString
		statusStr      string
		errorMessage   sql.NullString
		proposedName   sql.NullString
		pendingContent sql.NullString
		pendingHeader  sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&source,
		&sourceKind,
		&title,
		&localPath,
		&statusStr,
		&errorMessage,
		&proposedName,
		&pendingContent,
		&pendingHeader,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:             id,
		Source:         source,
		SourceKind:     SourceKind(sourceKind),
		Title:          title.String,
		LocalPath:      localPath.String,
		Status:         Status(statusStr),
		ErrorMessage:   errorMessage.String,
		ProposedName:   proposedName.String,
		PendingContent: pendingContent.String,
		PendingHeader:  pendingHeader.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
