package daemon_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/engine"
	"scribe/internal/media"
	"scribe/internal/pool"
	"scribe/internal/prep"
	"scribe/internal/queue"
	"scribe/internal/testsupport"
)

type stubEngine struct{}

func (stubEngine) Transcribe(ctx context.Context, path string) (engine.Result, error) {
	return engine.Result{Text: "stub transcript", Language: "en", Confidence: 0.8}, nil
}

func (stubEngine) Close() error { return nil }

func stubFactory() (engine.Engine, error) { return stubEngine{}, nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *api.Client) {
	t.Helper()

	mediaSvc := media.NewService(cfg, nil)
	mediaSvc.WithCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		t.Fatalf("unexpected external command %s %v", name, args)
		return "", nil
	})

	d, err := daemon.New(cfg, nil,
		daemon.WithEngineFactory(stubFactory),
		daemon.WithMediaService(mediaSvc),
		daemon.WithPrepOptions(prep.WithPollInterval(10*time.Millisecond)),
		daemon.WithPoolOptions(pool.WithPollInterval(10*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return d, api.NewClient(d.APIAddr())
}

func TestDaemonEndToEndLocalFile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	_, client := startDaemon(t, cfg)

	local := filepath.Join(cfg.Paths.StagingDir, "standup.wav")
	testsupport.WriteFile(t, local, 64)

	ctx := context.Background()
	added, err := client.AddSources(ctx, []string{local})
	if err != nil {
		t.Fatalf("AddSources: %v", err)
	}
	if added.Added != 1 || added.Existing != 0 {
		t.Fatalf("unexpected add response: %+v", added)
	}
	itemID := added.Items[0].ID

	waitFor(t, "item completion", func() bool {
		resp, err := client.Queue(ctx, string(queue.StatusCompleted))
		return err == nil && len(resp.Items) == 1 && resp.Items[0].ID == itemID
	})

	transcript, err := client.Transcript(ctx, "standup.txt")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if transcript.Content != "stub transcript" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon reported running")
	}
	if status.Queue.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", status.Queue)
	}
}

func TestDaemonAddSourcesIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithMaxWorkers(0))
	_, client := startDaemon(t, cfg)

	local := filepath.Join(cfg.Paths.StagingDir, "talk.wav")
	testsupport.WriteFile(t, local, 16)

	ctx := context.Background()
	first, err := client.AddSources(ctx, []string{local})
	if err != nil {
		t.Fatalf("AddSources: %v", err)
	}
	second, err := client.AddSources(ctx, []string{local})
	if err != nil {
		t.Fatalf("AddSources repeat: %v", err)
	}
	if first.Added != 1 || second.Added != 0 || second.Existing != 1 {
		t.Fatalf("expected idempotent enqueue, got first=%+v second=%+v", first, second)
	}
	if second.Items[0].ID != first.Items[0].ID {
		t.Fatal("expected existing item returned on duplicate enqueue")
	}
}

func TestDaemonDuplicateResolutionOverAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	d, client := startDaemon(t, cfg)

	ctx := context.Background()
	first := filepath.Join(cfg.Paths.StagingDir, "weekly.wav")
	testsupport.WriteFile(t, first, 32)
	if _, err := client.AddSources(ctx, []string{first}); err != nil {
		t.Fatalf("AddSources: %v", err)
	}
	waitFor(t, "first item completion", func() bool {
		resp, err := client.Queue(ctx, string(queue.StatusCompleted))
		return err == nil && len(resp.Items) == 1
	})

	// Same output name again: must park instead of overwriting silently.
	second := filepath.Join(cfg.Paths.StagingDir, "again", "weekly.wav")
	testsupport.WriteFile(t, second, 32)
	added, err := client.AddSources(ctx, []string{second})
	if err != nil {
		t.Fatalf("AddSources second: %v", err)
	}
	secondID := added.Items[0].ID

	waitFor(t, "duplicate parked", func() bool {
		item, err := d.Store().GetByID(ctx, secondID)
		return err == nil && item != nil && item.Status == queue.StatusDuplicatePending
	})

	if err := client.Resolve(ctx, secondID, "overwrite"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	waitFor(t, "resolved item completion", func() bool {
		item, err := d.Store().GetByID(ctx, secondID)
		return err == nil && item != nil && item.Status == queue.StatusCompleted
	})

	// Resolving a non-parked item is a conflict.
	if err := client.Resolve(ctx, secondID, "overwrite"); err == nil {
		t.Fatal("expected conflict resolving a completed item")
	}
}

func TestDaemonRemoveItems(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithMaxWorkers(0))
	d, client := startDaemon(t, cfg)

	ctx := context.Background()
	local := filepath.Join(cfg.Paths.StagingDir, "hold.wav")
	testsupport.WriteFile(t, local, 16)
	added, err := client.AddSources(ctx, []string{local})
	if err != nil {
		t.Fatalf("AddSources: %v", err)
	}
	waitFor(t, "item ready", func() bool {
		item, err := d.Store().GetByID(ctx, added.Items[0].ID)
		return err == nil && item != nil && item.Status == queue.StatusSkippedConversion
	})

	outcome, err := client.Remove(ctx, []int64{added.Items[0].ID, 9999})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if outcome.Cancelled != 1 || outcome.NotFound != 1 || outcome.Removed != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithMaxWorkers(0))
	startDaemon(t, cfg)

	other, err := daemon.New(cfg, nil,
		daemon.WithEngineFactory(stubFactory),
		daemon.WithMediaService(media.NewService(cfg, nil)),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })

	if err := other.Start(context.Background()); err == nil {
		other.Stop()
		t.Fatal("expected second daemon instance to fail the lock")
	}
}

func TestDaemonProcessStates(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithMaxWorkers(0))
	_, client := startDaemon(t, cfg)

	ctx := context.Background()
	resp, err := client.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.State != api.ProcessEmptyQueue {
		t.Fatalf("expected emptyQueue, got %s", resp.State)
	}

	local := filepath.Join(cfg.Paths.StagingDir, "later.wav")
	testsupport.WriteFile(t, local, 16)
	if _, err := client.AddSources(ctx, []string{local}); err != nil {
		t.Fatalf("AddSources: %v", err)
	}

	resp, err = client.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.State != api.ProcessAccepted {
		t.Fatalf("expected accepted, got %s", resp.State)
	}
}
