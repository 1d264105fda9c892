// Package prep runs the acquisition and conversion lane. One item at a time
// is pulled from the queued pool, fetched if remote, converted if needed, and
// handed to the ready pool for transcription.
package prep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/dedup"
	"scribe/internal/logging"
	"scribe/internal/media"
	"scribe/internal/queue"
)

// Runner drives the sequential preparation lane.
type Runner struct {
	cfg    *config.Config
	store  *queue.Store
	media  *media.Service
	gate   *dedup.Resolver
	logger *slog.Logger

	pollInterval time.Duration
	onReady      func()

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
}

// Option customizes a Runner.
type Option func(*Runner)

// WithPollInterval overrides the lane poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithReadyNotifier registers a callback fired whenever an item reaches the
// ready pool, so the worker pool can skip its poll sleep.
func WithReadyNotifier(notify func()) Option {
	return func(r *Runner) {
		r.onReady = notify
	}
}

// WithDuplicateGate registers the resolver that checks freshly prepared items
// for output-name collisions before they enter the ready pool.
func WithDuplicateGate(gate *dedup.Resolver) Option {
	return func(r *Runner) {
		r.gate = gate
	}
}

// New builds a preparation lane runner.
func New(cfg *config.Config, store *queue.Store, svc *media.Service, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:          cfg,
		store:        store,
		media:        svc,
		logger:       logging.NewComponentLogger(logger, "prep"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the lane loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("prep lane already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(runCtx)
	return nil
}

// Stop terminates the lane loop and waits for the in-flight item.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Wake nudges the lane without waiting for the poll interval.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := r.store.NextReadyForPrep(ctx)
		if err != nil {
			r.logger.Error("failed to fetch next queued item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"))
			if !r.sleep(ctx, time.Duration(r.cfg.Workflow.ErrorRetryInterval)*time.Second) {
				return
			}
			continue
		}
		if item == nil {
			if !r.sleep(ctx, r.pollInterval) {
				return
			}
			continue
		}

		r.processItem(ctx, item)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.wake:
		return true
	case <-time.After(d):
		return true
	}
}

func (r *Runner) processItem(ctx context.Context, item *queue.Item) {
	if err := r.store.Claim(ctx, item.ID); err != nil {
		if !errors.Is(err, queue.ErrAlreadyClaimed) && !errors.Is(err, queue.ErrNotFound) {
			r.logger.Error("claim failed", logging.Error(err), logging.Int64(logging.FieldItemID, item.ID))
		}
		return
	}
	defer r.store.Release(item.ID)

	logger := r.logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldStage, "prepare"),
		logging.String(logging.FieldRequestID, uuid.NewString()),
	)

	if err := r.prepare(ctx, logger, item); err != nil {
		if ctx.Err() != nil {
			// Shutdown; recovery requeues the item on next start.
			return
		}
		r.failItem(ctx, logger, item, err)
		return
	}
}

func (r *Runner) prepare(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusAcquiring, ""); err != nil {
		// Usually a cancel that raced the claim; nothing to do.
		logger.Info("item no longer queued, skipping", logging.Error(err))
		return nil
	}

	localPath := item.LocalPath
	if item.SourceKind == queue.SourceRemote {
		if item.Title == "" {
			title, err := r.media.Title(ctx, item.Source)
			if err != nil {
				return fmt.Errorf("resolve title: %w", err)
			}
			if err := r.store.SetTitle(ctx, item.ID, title); err != nil {
				return err
			}
		}
		fetched, err := r.media.FetchRemote(ctx, item.Source, r.cfg.Paths.StagingDir)
		if err != nil {
			return err
		}
		if err := r.store.SetLocalPath(ctx, item.ID, fetched); err != nil {
			return err
		}
		localPath = fetched
		logger.Info("source acquired", logging.String("path", fetched))
	} else if localPath == "" {
		return errors.New("local item has no file path")
	} else if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("local file missing: %w", err)
	}

	if !media.NeedsConversion(localPath) {
		if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusSkippedConversion, ""); err != nil {
			return err
		}
		logger.Info("media already audio, conversion skipped")
		item.LocalPath = localPath
		return r.finishReady(ctx, logger, item)
	}

	if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusConverting, ""); err != nil {
		return err
	}
	converted, err := r.media.ConvertToAudio(ctx, localPath, r.cfg.Paths.StagingDir)
	if err != nil {
		return err
	}
	if converted != localPath {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove pre-conversion file", logging.Error(err))
		}
	}
	if err := r.store.SetLocalPath(ctx, item.ID, converted); err != nil {
		return err
	}
	if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusConverted, ""); err != nil {
		return err
	}
	logger.Info("media converted", logging.String("path", converted))
	item.LocalPath = converted
	return r.finishReady(ctx, logger, item)
}

// finishReady runs the duplicate gate on a freshly prepared item and, when
// the item may proceed, nudges the worker pool. The dispatch loop re-checks
// the gate before handing an item to a worker, so a gate error here only
// delays the collision check.
func (r *Runner) finishReady(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	if r.gate != nil {
		gated, err := r.gate.CheckAndGate(ctx, item)
		if err != nil {
			logger.Warn("duplicate check failed, deferring to dispatch", logging.Error(err))
		} else if gated {
			return nil
		}
	}
	r.notifyReady()
	return nil
}

func (r *Runner) failItem(ctx context.Context, logger *slog.Logger, item *queue.Item, cause error) {
	if err := r.store.UpdateStatus(ctx, item.ID, queue.StatusFailed, cause.Error()); err != nil {
		logger.Error("failed to record preparation failure",
			logging.Error(err),
			logging.String("cause", cause.Error()))
		return
	}
	logger.Error("preparation failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "prep_failed"))
}

func (r *Runner) notifyReady() {
	if r.onReady != nil {
		r.onReady()
	}
}
