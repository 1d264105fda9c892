package testsupport

import (
	"context"
	"testing"

	"scribe/internal/config"
	"scribe/internal/queue"
	"scribe/internal/results"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenResults opens a results.Store for tests and registers cleanup.
func MustOpenResults(t testing.TB, cfg *config.Config) *results.Store {
	t.Helper()

	store, err := results.Open(cfg)
	if err != nil {
		t.Fatalf("results.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRemoteItem enqueues a remote source for tests using the provided store.
func NewRemoteItem(t testing.TB, store *queue.Store, url string) *queue.Item {
	t.Helper()

	item, err := store.NewRemote(context.Background(), url)
	if err != nil {
		t.Fatalf("store.NewRemote: %v", err)
	}
	return item
}

// NewLocalItem enqueues a local file for tests using the provided store.
func NewLocalItem(t testing.TB, store *queue.Store, path, title string) *queue.Item {
	t.Helper()

	item, err := store.NewLocal(context.Background(), path, title)
	if err != nil {
		t.Fatalf("store.NewLocal: %v", err)
	}
	return item
}

// Advance walks an item through the given statuses in order, failing the test
// on any illegal edge.
func Advance(t testing.TB, store *queue.Store, id int64, statuses ...queue.Status) {
	t.Helper()

	ctx := context.Background()
	for _, status := range statuses {
		if err := store.UpdateStatus(ctx, id, status, ""); err != nil {
			t.Fatalf("UpdateStatus to %s: %v", status, err)
		}
	}
}
