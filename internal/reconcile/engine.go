package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"devplay/internal/logging"
	"devplay/internal/queue"
	"devplay/internal/registry"
)

// ErrStale reports a fetch whose identity was replaced while it was in flight.
var ErrStale = errors.New("reconcile result is stale")

// OwnedSource fetches the authoritative owned set.
type OwnedSource interface {
	OwnedItems(ctx context.Context, identity string) ([]queue.Record, error)
}

// Timers cancels simulated installs that reconciliation displaces.
type Timers interface {
	Cancel(itemID string) bool
	CancelAll() []string
}

// IdentityStore remembers which identity the persisted queue belongs to.
type IdentityStore interface {
	SaveIdentity(ctx context.Context, identity string) error
	LoadIdentity(ctx context.Context) string
}

// Result summarizes one reconciliation pass.
type Result struct {
	Identity string
	Owned    int
	Added    []string
	Removed  []string
	// Displaced lists pending items the registry reports as owned.
	Displaced []string
}

// Status is the engine's externally visible state.
type Status struct {
	Identity  string
	LastRun   time.Time
	LastError error
}

// Engine replaces the owned partition from the registry.
type Engine struct {
	mu         sync.Mutex
	identity   string
	generation uint64
	lastRun    time.Time
	lastErr    error

	store     *queue.Store
	persister queue.Persister
	owner     IdentityStore
	source    OwnedSource
	timers    Timers
	now       func() time.Time
	logger    *slog.Logger

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures an Engine.
type Option func(*Engine)

// WithPersister clears persisted partitions on identity change. When p also
// implements IdentityStore the active identity is persisted with them.
func WithPersister(p queue.Persister) Option {
	return func(e *Engine) {
		e.persister = p
		if owner, ok := p.(IdentityStore); ok {
			e.owner = owner
		}
	}
}

// WithTimers cancels simulator timers for displaced items.
func WithTimers(t Timers) Option {
	return func(e *Engine) {
		e.timers = t
	}
}

// WithNow overrides the clock used for LastRun.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New constructs an engine over store that fetches from source.
func New(store *queue.Store, source OwnedSource, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "reconcile")
	return e
}

// Identity returns the active identity.
func (e *Engine) Identity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// Status returns identity and the outcome of the last pass.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Identity: e.identity, LastRun: e.lastRun, LastError: e.lastErr}
}

// RestoreIdentity adopts the identity saved with the persisted queue without
// clearing anything, so a restart under the same identity resumes its
// installs. It returns the restored identity.
func (e *Engine) RestoreIdentity(ctx context.Context) string {
	if e.owner == nil {
		return ""
	}
	identity := strings.TrimSpace(e.owner.LoadIdentity(ctx))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = identity
	e.generation++
	return identity
}

// OnIdentityChanged switches the active identity and fetches its owned set.
// Setting the current identity again only refreshes.
func (e *Engine) OnIdentityChanged(ctx context.Context, identity string) (Result, error) {
	e.SwitchIdentity(ctx, identity)
	return e.Reconcile(ctx)
}

// SwitchIdentity makes identity active without contacting the registry and
// reports whether it differed from the previous one. A different identity
// wipes every partition, owned included, so nothing from the previous account
// survives a failed fetch.
func (e *Engine) SwitchIdentity(ctx context.Context, identity string) bool {
	identity = strings.TrimSpace(identity)

	e.mu.Lock()
	if identity == e.identity {
		e.mu.Unlock()
		return false
	}
	previous := e.identity
	e.identity = identity
	e.generation++

	var cancelled []string
	if e.timers != nil {
		cancelled = e.timers.CancelAll()
	}
	dropped := len(e.store.ClearPartition(ctx, queue.PartitionPending))
	dropped += len(e.store.ClearPartition(ctx, queue.PartitionInProgress))
	forgotten := len(e.store.ClearPartition(ctx, queue.PartitionOwned))
	if e.persister != nil {
		if err := e.persister.Clear(ctx); err != nil {
			e.logger.Warn("clear persisted queue failed",
				logging.Error(err),
				logging.Alert("persistence"),
			)
		}
	}
	if e.owner != nil {
		if err := e.owner.SaveIdentity(ctx, identity); err != nil {
			e.logger.Warn("persist identity failed", logging.Error(err), logging.Alert("persistence"))
		}
	}
	e.mu.Unlock()

	e.logger.Info("identity changed",
		logging.String("previous", previous),
		logging.Identity(identity),
		logging.Int("dropped", dropped),
		logging.Int("forgotten", forgotten),
		logging.Int("cancelled", len(cancelled)),
	)
	return true
}

// OnResume refreshes the owned partition for the current identity.
func (e *Engine) OnResume(ctx context.Context) (Result, error) {
	return e.Reconcile(ctx)
}

// Reconcile fetches the owned set for the active identity and replaces the
// owned partition with it. With no identity the owned partition is emptied.
// On failure the owned partition is left as it was, which after an identity
// switch is empty.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	e.mu.Lock()
	identity := e.identity
	generation := e.generation
	e.mu.Unlock()

	var (
		records []queue.Record
		err     error
	)
	if identity != "" {
		records, err = e.source.OwnedItems(logging.WithIdentity(ctx, identity), identity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation {
		e.logger.Debug("discarding stale owned set",
			logging.Identity(identity),
			logging.String("current", e.identity),
		)
		return Result{Identity: identity}, fmt.Errorf("reconcile %s: %w", identity, ErrStale)
	}

	e.lastRun = e.now()
	if err != nil {
		e.lastErr = err
		e.logger.Warn("owned set fetch failed; keeping previous snapshot",
			logging.Identity(identity),
			logging.Bool("transient", registry.IsTransient(err)),
			logging.Error(err),
			logging.Alert("registry_unavailable"),
		)
		return Result{Identity: identity, Owned: len(e.store.Get(queue.PartitionOwned))}, fmt.Errorf("reconcile %s: %w", identity, err)
	}
	e.lastErr = nil

	before := e.store.IDs(queue.PartitionOwned)
	displaced := e.store.ReplaceOwned(ctx, records)
	if e.timers != nil {
		for _, id := range displaced {
			e.timers.Cancel(id)
		}
	}
	after := e.store.IDs(queue.PartitionOwned)

	result := Result{
		Identity:  identity,
		Owned:     len(after),
		Added:     difference(after, before),
		Removed:   difference(before, after),
		Displaced: displaced,
	}
	e.logger.Info("owned set reconciled",
		logging.Identity(identity),
		logging.Int("owned", result.Owned),
		logging.Int("added", len(result.Added)),
		logging.Int("removed", len(result.Removed)),
		logging.Int("displaced", len(result.Displaced)),
	)
	return result, nil
}

// Schedule runs OnResume on a cron spec until ctx is cancelled or Stop is
// called. An empty spec disables periodic refresh.
func (e *Engine) Schedule(ctx context.Context, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		// Failures are already logged and kept in Status.
		_, _ = e.OnResume(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}

	e.cronMu.Lock()
	if e.cron != nil {
		e.cron.Stop()
	}
	e.cron = c
	e.cronMu.Unlock()

	c.Start()
	e.logger.Debug("periodic reconcile scheduled", logging.String("schedule", spec))
	return nil
}

// Stop halts periodic refresh and waits for a running pass to finish.
func (e *Engine) Stop() {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func difference(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, id := range b {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
