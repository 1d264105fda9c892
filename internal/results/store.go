// Package results persists finished transcripts in a SQLite catalog keyed by
// output name. The catalog is the authority the duplicate gate consults: a
// name collision means a row already exists here.
package results

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"scribe/internal/config"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("results schema version mismatch")

// Transcript is one stored transcription result.
type Transcript struct {
	ID        int64
	Name      string
	Source    string
	Title     string
	Language  string
	Model     string
	Header    string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides access to the transcript catalog.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the transcript catalog under the
// configured log directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.ResultsDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
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

// Path returns the catalog database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to rebuild)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// ExistsByName reports whether a transcript with the given output name exists.
func (s *Store) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transcriptions WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check transcript name: %w", err)
	}
	return count > 0, nil
}

// Upsert stores a transcript, replacing any previous row with the same name.
// Overwrite resolutions land here: the old content is gone afterwards.
func (s *Store) Upsert(ctx context.Context, transcript *Transcript) error {
	if transcript == nil || transcript.Name == "" {
		return errors.New("transcript name required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions (name, source, title, language, model, header, content, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
             source = excluded.source,
             title = excluded.title,
             language = excluded.language,
             model = excluded.model,
             header = excluded.header,
             content = excluded.content,
             updated_at = excluded.updated_at`,
		transcript.Name,
		nullable(transcript.Source),
		nullable(transcript.Title),
		nullable(transcript.Language),
		nullable(transcript.Model),
		nullable(transcript.Header),
		transcript.Content,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// GetByName fetches a transcript by output name, returning nil when absent.
func (s *Store) GetByName(ctx context.Context, name string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, title, language, model, header, content, created_at, updated_at
         FROM transcriptions WHERE name = ?`, name)
	transcript, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return transcript, nil
}

// DeleteByName removes a transcript, reporting whether a row was deleted.
func (s *Store) DeleteByName(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete transcript: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns stored transcripts newest first, without their content bodies.
func (s *Store) List(ctx context.Context) ([]*Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source, title, language, model, header, '', created_at, updated_at
         FROM transcriptions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []*Transcript
	for rows.Next() {
		transcript, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, transcript)
	}
	return transcripts, rows.Err()
}

// Count returns the number of stored transcripts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transcriptions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return count, nil
}

func scanTranscript(scanner interface{ Scan(dest ...any) error }) (*Transcript, error) {
	var (
		transcript Transcript
		source     sql.NullString
		title      sql.NullString
		lang       sql.NullString
		model      sql.NullString
		header     sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(
		&transcript.ID,
		&transcript.Name,
		&source,
		&title,
		&lang,
		&model,
		&header,
		&transcript.Content,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	transcript.Source = source.String
	transcript.Title = title.String
	transcript.Language = lang.String
	transcript.Model = model.String
	transcript.Header = header.String

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	transcript.CreatedAt = created
	transcript.UpdatedAt = updated
	return &transcript, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
