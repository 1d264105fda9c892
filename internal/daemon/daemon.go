// Package daemon wires the queue store, preparation lane, worker pool, and
// HTTP API into a single-instance background service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/dedup"
	"scribe/internal/deps"
	"scribe/internal/engine"
	"scribe/internal/logging"
	"scribe/internal/media"
	"scribe/internal/pool"
	"scribe/internal/preflight"
	"scribe/internal/prep"
	"scribe/internal/queue"
	"scribe/internal/results"
	"scribe/internal/staging"
	"scribe/internal/status"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	catalog *results.Store
	prep    *prep.Runner
	pool    *pool.Orchestrator
	agg     *status.Aggregator
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	prepOpts []prep.Option
	poolOpts []pool.Option
	factory  engine.Factory
	media    *media.Service
}

// WithPrepOptions forwards options to the preparation lane.
func WithPrepOptions(opts ...prep.Option) Option {
	return func(o *options) { o.prepOpts = append(o.prepOpts, opts...) }
}

// WithPoolOptions forwards options to the worker pool.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithEngineFactory overrides the engine factory (for testing).
func WithEngineFactory(factory engine.Factory) Option {
	return func(o *options) { o.factory = factory }
}

// WithMediaService overrides the media service (for testing).
func WithMediaService(svc *media.Service) Option {
	return func(o *options) { o.media = svc }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	catalog, err := results.Open(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open transcript catalog: %w", err)
	}

	factory := o.factory
	if factory == nil {
		factory = engine.NewWhisperFactory(cfg)
	}
	mediaSvc := o.media
	if mediaSvc == nil {
		mediaSvc = media.NewService(cfg, logger)
	}

	orch := pool.New(cfg, store, catalog, factory, logger, o.poolOpts...)
	prepOpts := append([]prep.Option{
		prep.WithReadyNotifier(orch.Wake),
		prep.WithDuplicateGate(orch.Resolver()),
	}, o.prepOpts...)
	lane := prep.New(cfg, store, mediaSvc, logger, prepOpts...)

	lockPath := filepath.Join(cfg.Paths.LogDir, "scribed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		catalog:  catalog,
		prep:     lane,
		pool:     orch,
		agg:      status.NewAggregator(store),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs preflight, and launches the lanes and
// the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	checks := preflight.RunAll(ctx, d.cfg)
	if failed := preflight.Failed(checks); len(failed) > 0 {
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight failed (%s): %s",
			strings.Join(failed, ", "), preflight.Summarize(checks))
	}

	if removed, err := staging.CleanOrphans(ctx, d.cfg.Paths.StagingDir, d.store, staging.DefaultMaxAge, d.logger); err != nil {
		d.logger.Warn("staging cleanup failed", logging.Error(err))
	} else if len(removed) > 0 {
		d.logger.Info("staging cleanup reclaimed orphaned entries", logging.Int("removed", len(removed)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.prep.Start(runCtx); err != nil {
		d.abortStart()
		return fmt.Errorf("start prep lane: %w", err)
	}
	if err := d.pool.Start(runCtx); err != nil {
		d.prep.Stop()
		d.abortStart()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.pool.Stop()
			d.prep.Stop()
			d.abortStart()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Workflow.MaxWorkers))
	if health, err := d.store.Health(ctx); err == nil {
		d.logger.Info("queue state",
			logging.Int("total", health.Total),
			logging.Int("waiting", health.Waiting),
			logging.Int("processing", health.Processing),
			logging.Int("awaiting_resolution", health.AwaitingResolution),
			logging.Int("failed", health.Failed))
	}
	return nil
}

func (d *Daemon) abortStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.prep.Stop()
	d.pool.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// APIAddr returns the bound API address, available once started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Store exposes the queue store for the API layer.
func (d *Daemon) Store() *queue.Store { return d.store }

// AddSources enqueues a batch of locators. HTTP(S) locators become remote
// items; everything else is treated as a local file path.
func (d *Daemon) AddSources(ctx context.Context, sources []string) (added, existing int, items []*queue.Item, err error) {
	for _, raw := range sources {
		source := strings.TrimSpace(raw)
		if source == "" {
			continue
		}

		var (
			item   *queue.Item
			addErr error
		)
		if isRemoteSource(source) {
			item, addErr = d.store.NewRemote(ctx, source)
		} else {
			item, addErr = d.store.NewLocal(ctx, source, "")
		}
		switch {
		case errors.Is(addErr, queue.ErrDuplicateSource):
			existing++
		case addErr != nil:
			return added, existing, items, addErr
		default:
			added++
		}
		if item != nil {
			items = append(items, item)
		}
	}
	if added > 0 {
		d.prep.Wake()
	}
	return added, existing, items, nil
}

func isRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Process nudges both lanes. It reports alreadyActive when workers are busy,
// emptyQueue when nothing needs processing, accepted otherwise.
func (d *Daemon) Process(ctx context.Context) (string, error) {
	if d.pool.RunningCount() > 0 {
		return "alreadyActive", nil
	}
	active, err := d.store.HasActiveItems(ctx)
	if err != nil {
		return "", err
	}
	if !active {
		return "emptyQueue", nil
	}
	d.prep.Wake()
	d.pool.Wake()
	return "accepted", nil
}

// ResolveDuplicate applies an operator decision to a parked item.
func (d *Daemon) ResolveDuplicate(ctx context.Context, id int64, action dedup.Resolution) error {
	if err := d.pool.Resolver().Resolve(ctx, id, action); err != nil {
		return err
	}
	d.pool.Wake()
	return nil
}

// RemoveItems cancels active items and deletes terminal ones.
func (d *Daemon) RemoveItems(ctx context.Context, ids []int64) (queue.RemoveOutcome, error) {
	return d.store.RemoveMany(ctx, ids)
}

// ClearQueue deletes queue items in the given scope.
func (d *Daemon) ClearQueue(ctx context.Context, scope string) (int64, error) {
	switch scope {
	case api.ClearScopeCompleted:
		return d.store.ClearCompleted(ctx)
	case api.ClearScopeFailed:
		return d.store.ClearFailed(ctx)
	case api.ClearScopeAll:
		return d.store.Clear(ctx)
	default:
		return 0, fmt.Errorf("unknown clear scope %q", scope)
	}
}

// Transcript fetches a stored transcript by output name.
func (d *Daemon) Transcript(ctx context.Context, name string) (*results.Transcript, error) {
	return d.catalog.GetByName(ctx, name)
}

// Status assembles the daemon runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (DaemonStatus, error) {
	snap, err := d.agg.Snapshot(ctx)
	if err != nil {
		return DaemonStatus{}, err
	}
	statuses := deps.CheckBinaries(deps.Requirements(d.cfg))
	return DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workers:      d.cfg.Workflow.MaxWorkers,
		PoolSize:     d.pool.PoolSize(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Queue:        snap,
		Dependencies: statuses,
	}, nil
}

// DaemonStatus is the internal form of the API status payload.
type DaemonStatus struct {
	Running      bool
	PID          int
	Workers      int
	PoolSize     int
	QueueDBPath  string
	LockFilePath string
	Queue        status.Snapshot
	Dependencies []deps.Status
}
