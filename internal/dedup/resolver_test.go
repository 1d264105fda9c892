package dedup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/dedup"
	"scribe/internal/queue"
	"scribe/internal/results"
	"scribe/internal/testsupport"
)

func readyItem(t *testing.T, store *queue.Store, source, mediaPath string) *queue.Item {
	t.Helper()

	ctx := context.Background()
	item := testsupport.NewRemoteItem(t, store, source)
	testsupport.Advance(t, store, item.ID, queue.StatusAcquiring, queue.StatusConverting, queue.StatusConverted)
	if mediaPath != "" {
		if err := store.SetLocalPath(ctx, item.ID, mediaPath); err != nil {
			t.Fatalf("SetLocalPath: %v", err)
		}
	}
	refreshed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return refreshed
}

func TestProposedName(t *testing.T) {
	item := &queue.Item{ID: 7, LocalPath: "/staging/clip.ogg"}
	if got := dedup.ProposedName(item); got != "clip.txt" {
		t.Fatalf("expected clip.txt, got %q", got)
	}
	item = &queue.Item{ID: 7, Title: "Morning Show"}
	if got := dedup.ProposedName(item); got != "Morning Show.txt" {
		t.Fatalf("expected title fallback, got %q", got)
	}
	item = &queue.Item{ID: 7}
	if got := dedup.ProposedName(item); got != "item-7.txt" {
		t.Fatalf("expected id fallback, got %q", got)
	}
	item = &queue.Item{ID: 7, Title: `News: AM/PM "Recap"?`}
	if got := dedup.ProposedName(item); got != "News- AM-PM Recap.txt" {
		t.Fatalf("expected sanitized title, got %q", got)
	}
}

func TestCheckAndGatePassesWithoutCollision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	item := readyItem(t, store, "https://example.com/a", "/staging/fresh.ogg")
	gated, err := resolver.CheckAndGate(context.Background(), item)
	if err != nil {
		t.Fatalf("CheckAndGate failed: %v", err)
	}
	if gated {
		t.Fatal("expected no gating without a stored transcript")
	}
}

func TestCheckAndGateParksOnCollision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")
	gated, err := resolver.CheckAndGate(ctx, item)
	if err != nil {
		t.Fatalf("CheckAndGate failed: %v", err)
	}
	if !gated {
		t.Fatal("expected collision to gate the item")
	}

	parked, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if parked.Status != queue.StatusDuplicatePending || parked.ProposedName != "clip.txt" {
		t.Fatalf("unexpected parked item: %#v", parked)
	}

	// Parked items never show up in the ready pool.
	ready, err := store.NextReadyForTranscription(ctx, 10)
	if err != nil {
		t.Fatalf("NextReadyForTranscription: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected empty ready pool, got %d items", len(ready))
	}
}

func TestResolveOverwriteRequeues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")
	if _, err := resolver.CheckAndGate(ctx, item); err != nil {
		t.Fatalf("CheckAndGate: %v", err)
	}

	if err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// The stored transcript is gone and the item is ready again.
	exists, err := catalog.ExistsByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("ExistsByName: %v", err)
	}
	if exists {
		t.Fatal("expected colliding transcript removed")
	}
	resolved, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if resolved.Status != queue.StatusConverted {
		t.Fatalf("expected converted, got %s", resolved.Status)
	}
	if resolved.ProposedName != "" {
		t.Fatalf("expected payload cleared, got %q", resolved.ProposedName)
	}
	if store.IsClaimed(item.ID) {
		t.Fatal("expected claim released after resolution")
	}
}

func TestResolveOverwriteWithPendingContentCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")
	if err := store.MarkDuplicatePending(ctx, item.ID, "clip.txt", "new transcript", "header"); err != nil {
		t.Fatalf("MarkDuplicatePending: %v", err)
	}

	if err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	stored, err := catalog.GetByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if stored == nil || stored.Content != "new transcript" {
		t.Fatalf("expected pending transcript stored, got %#v", stored)
	}
	resolved, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if resolved.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", resolved.Status)
	}
}

func TestResolveCancelRemovesMedia(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	media := filepath.Join(cfg.Paths.StagingDir, "clip.ogg")
	testsupport.WriteFile(t, media, 32)
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyItem(t, store, "https://example.com/a", media)
	if _, err := resolver.CheckAndGate(ctx, item); err != nil {
		t.Fatalf("CheckAndGate: %v", err)
	}

	if err := resolver.Resolve(ctx, item.ID, dedup.ResolutionCancel); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	cancelled, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := os.Stat(media); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected media removed, stat err=%v", err)
	}
	// The stored transcript is untouched by a cancel.
	exists, err := catalog.ExistsByName(ctx, "clip.txt")
	if err != nil {
		t.Fatalf("ExistsByName: %v", err)
	}
	if !exists {
		t.Fatal("expected stored transcript preserved")
	}
}

func TestResolveSecondResolutionRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")
	if _, err := resolver.CheckAndGate(ctx, item); err != nil {
		t.Fatalf("CheckAndGate: %v", err)
	}

	if err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	// A second, racing resolution finds the item already past the gate.
	err := resolver.Resolve(ctx, item.ID, dedup.ResolutionCancel)
	if !errors.Is(err, dedup.ErrNotPendingDuplicate) {
		t.Fatalf("expected ErrNotPendingDuplicate on repeat resolve, got %v", err)
	}
	resolved, getErr := store.GetByID(ctx, item.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if resolved.Status != queue.StatusConverted {
		t.Fatalf("expected first resolution to stand, got %s", resolved.Status)
	}
}

func TestResolveRejectsClaimedItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	if err := catalog.Upsert(ctx, &results.Transcript{Name: "clip.txt", Content: "old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")
	if _, err := resolver.CheckAndGate(ctx, item); err != nil {
		t.Fatalf("CheckAndGate: %v", err)
	}

	if err := store.Claim(ctx, item.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite)
	if !errors.Is(err, queue.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed while held elsewhere, got %v", err)
	}

	// Once the claim is released the resolution goes through.
	store.Release(item.ID)
	if err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite); err != nil {
		t.Fatalf("Resolve after release failed: %v", err)
	}
}

func TestResolveRejectsWrongState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	catalog := testsupport.MustOpenResults(t, cfg)
	resolver := dedup.NewResolver(store, catalog, nil)

	ctx := context.Background()
	item := readyItem(t, store, "https://example.com/a", "/staging/clip.ogg")

	err := resolver.Resolve(ctx, item.ID, dedup.ResolutionOverwrite)
	if !errors.Is(err, dedup.ErrNotPendingDuplicate) {
		t.Fatalf("expected ErrNotPendingDuplicate, got %v", err)
	}
	if err := resolver.Resolve(ctx, 9999, dedup.ResolutionCancel); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := resolver.Resolve(ctx, item.ID, dedup.Resolution("retry")); !errors.Is(err, dedup.ErrUnknownResolution) {
		t.Fatalf("expected ErrUnknownResolution, got %v", err)
	}
}

func TestParseResolution(t *testing.T) {
	if action, ok := dedup.ParseResolution(" Overwrite "); !ok || action != dedup.ResolutionOverwrite {
		t.Fatalf("expected overwrite, got %q ok=%v", action, ok)
	}
	if _, ok := dedup.ParseResolution("nope"); ok {
		t.Fatal("expected unknown action rejected")
	}
}
