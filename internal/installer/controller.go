package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"devplay/internal/config"
	"devplay/internal/logging"
	"devplay/internal/notifications"
	"devplay/internal/progress"
	"devplay/internal/queue"
	"devplay/internal/reconcile"
	"devplay/internal/registry"
)

// ErrNotStarted is returned by operations issued before Restore.
var ErrNotStarted = errors.New("install controller not started")

const eventBuffer = 128

// Controller coordinates the install queue.
type Controller struct {
	cfg       *config.Config
	store     *queue.Store
	persister queue.Persister
	registry  registry.Registry
	notifier  notifications.Service
	sim       *progress.Simulator
	engine    *reconcile.Engine
	clock     progress.Clock
	limiter   *rate.Limiter
	logger    *slog.Logger

	preserveProgress bool

	catalogMu sync.RWMutex
	catalog   map[string]queue.Record

	events chan Event

	// opMu serializes queue operations with simulator ticks. Registry calls
	// are made without it.
	opMu sync.Mutex
	// registering maps item IDs with a registration in flight to the
	// identity it was issued for. Guarded by opMu.
	registering map[string]string
	background  sync.WaitGroup

	stateMu sync.Mutex
	ready   bool
	running bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock for timestamps and ticks.
func WithClock(clock progress.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithNotifier sets the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithPersister sets where pending and in-progress snapshots are written.
func WithPersister(p queue.Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

// WithRegistry sets the remote registry.
func WithRegistry(r registry.Registry) Option {
	return func(c *Controller) {
		c.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New builds a controller from configuration. Without WithPersister state is
// kept in memory only; without WithRegistry an HTTP client for the
// configured registry is used.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("installer: config is required")
	}
	c := &Controller{
		cfg:              cfg,
		clock:            progress.SystemClock(),
		catalog:          make(map[string]queue.Record),
		registering:      make(map[string]string),
		events:           make(chan Event, eventBuffer),
		preserveProgress: cfg.Queue.PreserveProgressOnPause,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.persister == nil {
		c.persister = queue.NewMemoryPersister()
	}
	if c.notifier == nil {
		c.notifier = notifications.NewService(cfg)
	}
	if c.registry == nil {
		client, err := registry.NewFromConfig(cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("installer: %w", err)
		}
		c.registry = client
	}

	c.store = queue.NewStore(c.persister, c.logger)
	c.sim = progress.New(c.store, c.complete,
		progress.WithClock(c.clock),
		progress.WithInterval(cfg.TickInterval()),
		progress.WithTotalTicks(cfg.Queue.TotalTicks),
		progress.WithGuard(&c.opMu),
		progress.WithLogger(c.logger),
	)
	c.engine = reconcile.New(c.store, c.registry,
		reconcile.WithPersister(c.persister),
		reconcile.WithTimers(c.sim),
		reconcile.WithNow(c.clock.Now),
		reconcile.WithLogger(c.logger),
	)

	limit := rate.Inf
	if delay := cfg.ClearHistoryDelay(); delay > 0 {
		limit = rate.Every(delay)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	c.logger = logging.NewComponentLogger(c.logger, "installer")
	return c, nil
}

// Simulator exposes the progress simulator so hosts and tests can drive ticks.
func (c *Controller) Simulator() *progress.Simulator {
	return c.sim
}

// Events delivers lifecycle events. Events are dropped when the buffer is full.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Restore loads the persisted snapshot and resumes every in-progress install
// from its saved progress. It returns the number of resumed installs.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.ready {
		return 0, errors.New("installer: already restored")
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	identity := c.engine.RestoreIdentity(ctx)
	pending, inProgress := c.persister.Load(ctx)
	if dropped := c.store.Restore(pending, inProgress); dropped > 0 {
		c.logger.Warn("restored snapshot held duplicates",
			logging.Int("dropped", dropped),
			logging.Alert("partition_invariant"),
		)
	}

	resumed := 0
	for _, record := range c.store.Get(queue.PartitionInProgress) {
		if c.sim.Track(record.ItemID, record.Progress) {
			resumed++
			c.logger.Debug("install resumed",
				logging.ItemID(record.ItemID),
				logging.Float64("progress", record.Progress),
				logging.Int("remaining_ticks", c.sim.RemainingTicks(record.Progress)),
			)
		}
	}
	c.ready = true

	c.logger.Info("queue restored",
		logging.Identity(identity),
		logging.Int("pending", len(pending)),
		logging.Int("in_progress", len(inProgress)),
		logging.Int("resumed", resumed),
	)
	return resumed, nil
}

// Run restores state when needed, schedules periodic reconciliation and
// drives the progress simulator until ctx is cancelled. It returns once
// registrations for completed installs have settled.
func (c *Controller) Run(ctx context.Context) error {
	c.stateMu.Lock()
	if c.running {
		c.stateMu.Unlock()
		return errors.New("installer: already running")
	}
	c.running = true
	ready := c.ready
	c.stateMu.Unlock()
	defer func() {
		c.stateMu.Lock()
		c.running = false
		c.stateMu.Unlock()
	}()

	if !ready {
		if _, err := c.Restore(ctx); err != nil {
			return err
		}
	}
	if err := c.engine.Schedule(ctx, c.cfg.Registry.ReconcileSchedule); err != nil {
		return err
	}
	defer c.engine.Stop()

	c.logger.Info("install controller running",
		logging.Duration("tick", c.sim.Interval()),
		logging.Int("total_ticks", c.sim.TotalTicks()),
		logging.String("reconcile_schedule", c.cfg.Registry.ReconcileSchedule),
	)
	err := c.sim.Run(ctx)
	c.background.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// View is a point-in-time copy of queue state for hosts.
type View struct {
	Identity      string
	Pending       []queue.Record
	InProgress    []queue.Record
	Owned         []queue.Record
	LastReconcile time.Time
	LastError     error
}

// Snapshot returns the current queue state.
func (c *Controller) Snapshot() View {
	status := c.engine.Status()
	return View{
		Identity:      status.Identity,
		Pending:       c.store.Get(queue.PartitionPending),
		InProgress:    c.store.Get(queue.PartitionInProgress),
		Owned:         c.store.Get(queue.PartitionOwned),
		LastReconcile: status.LastRun,
		LastError:     status.LastError,
	}
}

// Counts returns partition sizes.
func (c *Controller) Counts() queue.Counts {
	return c.store.Counts()
}

func (c *Controller) checkReady() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.ready {
		return ErrNotStarted
	}
	return nil
}
