package progress

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"devplay/internal/logging"
	"devplay/internal/queue"
)

const (
	// DefaultTotalTicks is the number of ticks a fresh install takes to finish.
	DefaultTotalTicks = 240
	// DefaultInterval is the cadence of one tick.
	DefaultInterval = time.Second
)

// Sink receives progress updates. It reports false when the item is no
// longer in progress, which drops the item's handle.
type Sink interface {
	UpdateProgress(ctx context.Context, itemID string, progress float64) (queue.Record, bool)
}

// CompletionFunc runs once per item when its progress reaches 100.
type CompletionFunc func(ctx context.Context, itemID string)

// handle is one item's logical timer.
type handle struct {
	progress  float64
	remaining int
	sampler   *logging.ProgressSampler
}

// Simulator advances the progress of every tracked item on a shared tick.
type Simulator struct {
	mu      sync.Mutex
	handles map[string]*handle

	stepMu     sync.Mutex
	guard      sync.Locker
	sink       Sink
	onComplete CompletionFunc
	clock      Clock
	interval   time.Duration
	totalTicks int
	logger     *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock replaces the wall clock used by Run.
func WithClock(clock Clock) Option {
	return func(s *Simulator) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithInterval sets the tick cadence.
func WithInterval(interval time.Duration) Option {
	return func(s *Simulator) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithTotalTicks sets the number of ticks a fresh install takes.
func WithTotalTicks(ticks int) Option {
	return func(s *Simulator) {
		if ticks > 0 {
			s.totalTicks = ticks
		}
	}
}

// WithGuard makes Step hold guard for the whole tick, completion callbacks
// included. Callbacks must not take guard themselves.
func WithGuard(guard sync.Locker) Option {
	return func(s *Simulator) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// New constructs a simulator that reports to sink and calls onComplete for
// finished items.
func New(sink Sink, onComplete CompletionFunc, opts ...Option) *Simulator {
	s := &Simulator{
		handles:    make(map[string]*handle),
		guard:      nopLocker{},
		sink:       sink,
		onComplete: onComplete,
		clock:      SystemClock(),
		interval:   DefaultInterval,
		totalTicks: DefaultTotalTicks,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "progress")
	return s
}

// StepSize is the progress added per tick.
func (s *Simulator) StepSize() float64 {
	return queue.CompleteProgress / float64(s.totalTicks)
}

// TotalTicks is the duration of a fresh install in ticks.
func (s *Simulator) TotalTicks() int {
	return s.totalTicks
}

// Interval is the tick cadence.
func (s *Simulator) Interval() time.Duration {
	return s.interval
}

// RemainingTicks returns ceil((100 - progress) / step).
func (s *Simulator) RemainingTicks(progress float64) int {
	progress = queue.ClampProgress(progress)
	ticks := (queue.CompleteProgress - progress) / s.StepSize()
	// absorb float noise so 120.0000001 does not become 121
	return int(math.Ceil(ticks - 1e-9))
}

// Track schedules itemID starting from progress. It returns false and leaves
// the existing timer alone when the item is already tracked.
func (s *Simulator) Track(itemID string, progress float64) bool {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handles[itemID]; exists {
		s.logger.Debug("duplicate start ignored", logging.ItemID(itemID))
		return false
	}
	progress = queue.ClampProgress(progress)
	s.handles[itemID] = &handle{
		progress:  progress,
		remaining: s.RemainingTicks(progress),
		sampler:   logging.NewProgressSampler(10),
	}
	return true
}

// Cancel stops itemID's timer. It reports whether a timer was live.
func (s *Simulator) Cancel(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[itemID]; !ok {
		return false
	}
	delete(s.handles, itemID)
	return true
}

// CancelAll stops every timer and returns the affected item IDs.
func (s *Simulator) CancelAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.activeLocked()
	s.handles = make(map[string]*handle)
	return ids
}

// Tracking reports whether itemID has a live timer.
func (s *Simulator) Tracking(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[itemID]
	return ok
}

// Remaining returns the ticks left for itemID.
func (s *Simulator) Remaining(itemID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[itemID]
	if !ok {
		return 0, false
	}
	return h.remaining, true
}

// Active returns the sorted IDs with live timers.
func (s *Simulator) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Simulator) activeLocked() []string {
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type tickUpdate struct {
	itemID   string
	progress float64
	done     bool
	logIt    bool
}

// Step advances every live timer by one tick and returns the items that
// completed on this tick.
func (s *Simulator) Step(ctx context.Context) []string {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.guard.Lock()
	defer s.guard.Unlock()

	completed := s.report(ctx, s.advance())
	for _, id := range completed {
		s.logger.Info("install finished", logging.ItemID(id))
		if s.onComplete != nil {
			s.onComplete(ctx, id)
		}
	}
	return completed
}

// report hands updates to the sink and returns the items that finished.
func (s *Simulator) report(ctx context.Context, updates []tickUpdate) []string {
	var completed []string
	for _, u := range updates {
		if s.sink != nil {
			if _, ok := s.sink.UpdateProgress(ctx, u.itemID, u.progress); !ok {
				// Moved or removed since the tick was taken.
				s.Cancel(u.itemID)
				continue
			}
		}
		if u.logIt {
			s.logger.Debug("install progress",
				logging.ItemID(u.itemID),
				logging.Float64("progress", math.Round(u.progress*10)/10),
			)
		}
		if u.done {
			completed = append(completed, u.itemID)
		}
	}
	return completed
}

func (s *Simulator) advance() []tickUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.StepSize()
	updates := make([]tickUpdate, 0, len(s.handles))
	for _, id := range s.activeLocked() {
		h := s.handles[id]
		h.remaining--
		h.progress = queue.ClampProgress(h.progress + step)
		done := h.remaining <= 0 || h.progress >= queue.CompleteProgress
		if done {
			h.progress = queue.CompleteProgress
			delete(s.handles, id)
		}
		updates = append(updates, tickUpdate{
			itemID:   id,
			progress: h.progress,
			done:     done,
			logIt:    h.sampler.ShouldLog(h.progress, id),
		})
	}
	return updates
}

// Run drives Step on the configured cadence until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.Step(ctx)
		}
	}
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
