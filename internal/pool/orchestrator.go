// Package pool runs the transcription worker pool. A fixed number of slots
// hold reusable engine handles; a dispatch loop pulls ready items from the
// queue in arrival order and hands each to a free slot. When the queue goes
// quiet the pool tears its handles down so model memory is not held idle.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/dedup"
	"scribe/internal/engine"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/results"
)

type slot struct {
	engine engine.Engine
	busy   bool
}

// Orchestrator owns the slot table and the dispatch loop.
type Orchestrator struct {
	cfg     *config.Config
	store   *queue.Store
	catalog *results.Store
	gate    *dedup.Resolver
	factory engine.Factory
	logger  *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	slots   []*slot
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval overrides the dispatch poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// New builds an Orchestrator with cfg.Workflow.MaxWorkers slots.
func New(cfg *config.Config, store *queue.Store, catalog *results.Store, factory engine.Factory, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	slots := make([]*slot, cfg.Workflow.MaxWorkers)
	for i := range slots {
		slots[i] = &slot{}
	}
	o := &Orchestrator{
		cfg:          cfg,
		store:        store,
		catalog:      catalog,
		gate:         dedup.NewResolver(store, catalog, logger),
		factory:      factory,
		logger:       logging.NewComponentLogger(logger, "pool"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		slots:        slots,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolver returns the duplicate gate shared with the API layer.
func (o *Orchestrator) Resolver() *dedup.Resolver {
	return o.gate
}

// Start begins the dispatch loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runDispatch(runCtx)
	return nil
}

// Stop terminates the dispatch loop, waits for in-flight workers, and tears
// down every engine handle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.teardown()
}

// Wake nudges the dispatch loop without waiting for the poll interval.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// RunningCount returns the number of busy slots.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, s := range o.slots {
		if s.busy {
			count++
		}
	}
	return count
}

// PoolSize returns the number of slots currently holding a live engine.
func (o *Orchestrator) PoolSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, s := range o.slots {
		if s.engine != nil {
			count++
		}
	}
	return count
}

func (o *Orchestrator) runDispatch(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dispatched, err := o.dispatchOnce(ctx)
		if err != nil {
			o.logger.Error("dispatch pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"))
			if !o.sleep(ctx, time.Duration(o.cfg.Workflow.ErrorRetryInterval)*time.Second) {
				return
			}
			continue
		}
		if dispatched > 0 {
			continue
		}

		o.maybeTeardownIdle(ctx)
		if !o.sleep(ctx, o.pollInterval) {
			return
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-o.wake:
		return true
	case <-time.After(d):
		return true
	}
}

// dispatchOnce fills free slots with ready items and reports how many
// workers it spawned.
func (o *Orchestrator) dispatchOnce(ctx context.Context) (int, error) {
	free := o.freeSlots()
	if free == 0 {
		return 0, nil
	}

	items, err := o.store.NextReadyForTranscription(ctx, free)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, item := range items {
		if err := o.store.Claim(ctx, item.ID); err != nil {
			if errors.Is(err, queue.ErrAlreadyClaimed) || errors.Is(err, queue.ErrNotFound) {
				continue
			}
			return dispatched, err
		}

		gated, err := o.gate.CheckAndGate(ctx, item)
		if err != nil {
			o.store.Release(item.ID)
			return dispatched, err
		}
		if gated {
			o.store.Release(item.ID)
			continue
		}

		s, err := o.acquireSlot()
		if err != nil {
			o.store.Release(item.ID)
			return dispatched, err
		}
		if s == nil {
			o.store.Release(item.ID)
			break
		}

		o.wg.Add(1)
		go o.runWorker(ctx, s, item)
		dispatched++
	}
	return dispatched, nil
}

func (o *Orchestrator) freeSlots() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, s := range o.slots {
		if !s.busy {
			count++
		}
	}
	return count
}

// acquireSlot marks a free slot busy, creating its engine handle on first
// use. A nil slot with nil error means every slot is busy.
func (o *Orchestrator) acquireSlot() (*slot, error) {
	o.mu.Lock()
	var target *slot
	for _, s := range o.slots {
		if !s.busy {
			target = s
			break
		}
	}
	if target == nil {
		o.mu.Unlock()
		return nil, nil
	}
	target.busy = true
	needsEngine := target.engine == nil
	o.mu.Unlock()

	if !needsEngine {
		return target, nil
	}

	eng, err := o.factory()
	if err != nil {
		o.mu.Lock()
		target.busy = false
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Lock()
	target.engine = eng
	o.mu.Unlock()
	return target, nil
}

func (o *Orchestrator) releaseSlot(s *slot) {
	o.mu.Lock()
	s.busy = false
	o.mu.Unlock()
}

// maybeTeardownIdle closes every engine handle once nothing is running and
// nothing in the queue demands attention.
func (o *Orchestrator) maybeTeardownIdle(ctx context.Context) {
	if o.RunningCount() > 0 || o.PoolSize() == 0 {
		return
	}
	active, err := o.store.HasActiveItems(ctx)
	if err != nil {
		o.logger.Warn("idle check failed", logging.Error(err))
		return
	}
	if active {
		return
	}
	o.teardown()
	o.logger.Info("queue idle, engine handles released",
		logging.String(logging.FieldEventType, "pool_teardown"))
}

func (o *Orchestrator) teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.slots {
		if s.engine == nil || s.busy {
			continue
		}
		if err := s.engine.Close(); err != nil {
			o.logger.Warn("engine close failed", logging.Error(err))
		}
		s.engine = nil
	}
}
