// Package staging reclaims disk space from the staging directory. Downloads,
// conversion outputs, and inference work directories that lost their queue
// item (a crash mid-stage, a cancelled download) would otherwise accumulate
// forever.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scribe/internal/logging"
	"scribe/internal/queue"
)

// DefaultMaxAge is how old an unreferenced staging entry must be before
// cleanup removes it. Fresh entries are left alone so an in-flight download
// is never deleted out from under its worker.
const DefaultMaxAge = 24 * time.Hour

// CleanOrphans removes staging entries that no queue item references and that
// are older than maxAge. It returns the paths it removed.
func CleanOrphans(ctx context.Context, stagingDir string, store *queue.Store, maxAge time.Duration, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	referenced, err := referencedPaths(ctx, store)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, entry := range entries {
		path := filepath.Join(stagingDir, entry.Name())
		if _, keep := referenced[path]; keep {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove orphaned staging entry",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"))
			continue
		}
		removed = append(removed, path)
		logger.Info("removed orphaned staging entry",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "staging_cleanup"))
	}
	return removed, nil
}

func referencedPaths(ctx context.Context, store *queue.Store) (map[string]struct{}, error) {
	items, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.LocalPath != "" {
			referenced[item.LocalPath] = struct{}{}
		}
	}
	return referenced, nil
}
