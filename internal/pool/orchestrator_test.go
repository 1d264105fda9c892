package pool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/engine"
	"scribe/internal/pool"
	"scribe/internal/queue"
	"scribe/internal/results"
	"scribe/internal/testsupport"
)

// fakeEngines hands out scripted engine handles and counts their lifecycle.
type fakeEngines struct {
	mu      sync.Mutex
	created int
	closed  int
	block   chan struct{}
	result  engine.Result
	err     error
}

func (f *fakeEngines) factory() (engine.Engine, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return &fakeEngine{owner: f}, nil
}

func (f *fakeEngines) counts() (created, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.closed
}

type fakeEngine struct {
	owner *fakeEngines
}

func (e *fakeEngine) Transcribe(ctx context.Context, path string) (engine.Result, error) {
	if e.owner.block != nil {
		select {
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		case <-e.owner.block:
		}
	}
	return e.owner.result, e.owner.err
}

func (e *fakeEngine) Close() error {
	e.owner.mu.Lock()
	e.owner.closed++
	e.owner.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readyLocalItem(t *testing.T, cfg *config.Config, store *queue.Store, name string) *queue.Item {
	t.Helper()

	media := filepath.Join(cfg.Paths.StagingDir, name)
	testsupport.WriteFile(t, media, 32)
	item := testsupport.NewLocalItem(t, store, media, "")
	testsupport.Advance(t, store, item.ID, queue.StatusAcquiring, queue.StatusSkippedConversion)
	refreshed, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return refreshed
}

func startPool(t *testing.T, cfg *config.Config, store *queue.Store, catalog *results.Store, engines *fakeEngines) *pool.Orchestrator {
	t.Helper()

	orch := pool.New(cfg, store, catalog, engines.factory, nil, pool.WithPollInterval(10*time.Millisecond))
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(orch.Stop)
	return orch
}

func TestPoolTranscribesReadyItem(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{result: engine.Result{Text: "hello there", Language: "en", Confidence: 0.9}}

	item := readyLocalItem(t, cfg, store, "clip.ogg")
	startPool(t, cfg, store, catalog, engines)

	ctx := context.Background()
	waitFor(t, "item completion", func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Status == queue.StatusCompleted
	})

	transcript, err := catalog.GetByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if transcript == nil || transcript.Content != "hello there" {
		t.Fatalf("unexpected transcript: %#v", transcript)
	}
	if transcript.Language != "en" {
		t.Fatalf("expected detected language recorded, got %q", transcript.Language)
	}

	waitFor(t, "media cleanup", func() bool {
		_, err := os.Stat(item.LocalPath)
		return errors.Is(err, os.ErrNotExist)
	})
	if store.IsClaimed(item.ID) {
		t.Fatal("expected claim released after completion")
	}
}

func TestPoolRespectsMaxWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(2))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{
		block:  make(chan struct{}),
		result: engine.Result{Text: "body"},
	}

	var items []*queue.Item
	for _, name := range []string{"a.ogg", "b.ogg", "c.ogg"} {
		items = append(items, readyLocalItem(t, cfg, store, name))
	}
	orch := startPool(t, cfg, store, catalog, engines)

	waitFor(t, "two busy slots", func() bool { return orch.RunningCount() == 2 })

	// The third item must stay ready while both slots are taken.
	time.Sleep(50 * time.Millisecond)
	if orch.RunningCount() != 2 {
		t.Fatalf("expected exactly 2 running, got %d", orch.RunningCount())
	}
	third, err := store.GetByID(context.Background(), items[2].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if third.Status != queue.StatusSkippedConversion {
		t.Fatalf("expected third item still ready, got %s", third.Status)
	}

	close(engines.block)
	ctx := context.Background()
	waitFor(t, "all items completed", func() bool {
		for _, item := range items {
			current, err := store.GetByID(ctx, item.ID)
			if err != nil || current == nil || current.Status != queue.StatusCompleted {
				return false
			}
		}
		return true
	})

	created, _ := engines.counts()
	if created > 2 {
		t.Fatalf("expected at most 2 engine handles, got %d", created)
	}
}

func TestPoolDiscardsCancelledDuringTranscription(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{
		block:  make(chan struct{}),
		result: engine.Result{Text: "late result"},
	}

	item := readyLocalItem(t, cfg, store, "clip.ogg")
	orch := startPool(t, cfg, store, catalog, engines)

	waitFor(t, "worker start", func() bool { return orch.RunningCount() == 1 })

	ctx := context.Background()
	if err := store.Cancel(ctx, item.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(engines.block)

	waitFor(t, "worker drain", func() bool { return orch.RunningCount() == 0 })

	exists, err := catalog.ExistsByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("ExistsByName: %v", err)
	}
	if exists {
		t.Fatal("expected result discarded for cancelled item")
	}
	current, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", current.Status)
	}
	waitFor(t, "media cleanup", func() bool {
		_, err := os.Stat(item.LocalPath)
		return errors.Is(err, os.ErrNotExist)
	})
}

func TestPoolRecordsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{err: errors.New("model detonated")}

	item := readyLocalItem(t, cfg, store, "clip.ogg")
	startPool(t, cfg, store, catalog, engines)

	ctx := context.Background()
	waitFor(t, "item failure", func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Status == queue.StatusFailed
	})

	current, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
	if store.IsClaimed(item.ID) {
		t.Fatal("expected claim released after failure")
	}
}

func TestPoolTearsDownIdleEngines(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{result: engine.Result{Text: "body"}}

	item := readyLocalItem(t, cfg, store, "clip.ogg")
	orch := startPool(t, cfg, store, catalog, engines)

	ctx := context.Background()
	waitFor(t, "item completion", func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Status == queue.StatusCompleted
	})

	waitFor(t, "idle teardown", func() bool { return orch.PoolSize() == 0 })
	_, closed := engines.counts()
	if closed == 0 {
		t.Fatal("expected engine handle closed on teardown")
	}
}

func TestPoolGatesDuplicateNames(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{result: engine.Result{Text: "new body"}}

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old body"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyLocalItem(t, cfg, store, "clip.ogg")
	startPool(t, cfg, store, catalog, engines)

	waitFor(t, "duplicate gating", func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Status == queue.StatusDuplicatePending
	})

	created, _ := engines.counts()
	if created != 0 {
		t.Fatalf("expected no engine created for gated item, got %d", created)
	}
	stored, err := catalog.GetByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if stored.Content != "old body" {
		t.Fatalf("expected stored transcript untouched, got %q", stored.Content)
	}
}

func TestPoolPausedWithZeroWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxWorkers(0))
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	engines := &fakeEngines{result: engine.Result{Text: "body"}}

	item := readyLocalItem(t, cfg, store, "clip.ogg")
	orch := startPool(t, cfg, store, catalog, engines)
	orch.Wake()

	time.Sleep(100 * time.Millisecond)
	current, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != queue.StatusSkippedConversion {
		t.Fatalf("expected work paused, got %s", current.Status)
	}
	created, _ := engines.counts()
	if created != 0 {
		t.Fatalf("expected no engines with zero workers, got %d", created)
	}
}
