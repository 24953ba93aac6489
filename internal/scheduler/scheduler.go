// Package scheduler runs a step on a fixed period while a session is active.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/proctor-client/internal/logger"
)

// DefaultInterval is the capture period used when none is configured.
const DefaultInterval = 5 * time.Second

var ErrAlreadyRunning = errors.New("scheduler already running")

// Policy decides what happens when a tick fires while a step is in flight.
type Policy int

const (
	// SkipIfBusy drops the tick. At most one step runs at a time.
	SkipIfBusy Policy = iota
	// AllowOverlap starts another step concurrently.
	AllowOverlap
)

func (p Policy) String() string {
	switch p {
	case SkipIfBusy:
		return "skip"
	case AllowOverlap:
		return "overlap"
	default:
		return "unknown"
	}
}

// ParsePolicy maps "skip" or "overlap" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "skip":
		return SkipIfBusy, nil
	case "overlap":
		return AllowOverlap, nil
	default:
		return SkipIfBusy, errors.New("unknown scheduler policy: " + s)
	}
}

// Step is one capture-analyze cycle. seq increases by one for every started step.
// The context is cancelled when the scheduler stops.
type Step func(ctx context.Context, seq uint64)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPolicy sets the overlap policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithSkipHook registers fn to be called for every skipped tick.
func WithSkipHook(fn func()) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

// Scheduler fires Step every interval between Start and Stop.
type Scheduler struct {
	clock    clock.Clock
	interval time.Duration
	policy   Policy
	step     Step
	onSkip   func()

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	loopDone chan struct{}
	ticker   *clock.Ticker
	cancel   context.CancelFunc

	steps    sync.WaitGroup
	inFlight atomic.Int32
	seq      atomic.Uint64
	skipped  atomic.Uint64
}

// New returns a stopped scheduler. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, step Step, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		clock:    clock.New(),
		interval: interval,
		policy:   SkipIfBusy,
		step:     step,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins ticking. The first step runs one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	stepCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.ticker = s.clock.Ticker(s.interval)

	go s.loop(stepCtx, s.ticker.C, s.stop, s.loopDone)

	logger.Debug("Scheduler", "Started (interval=%v policy=%s)", s.interval, s.policy)
	return nil
}

// Stop halts ticking and cancels in-flight step contexts. Once Stop returns no
// further step is started. Stop is idempotent and safe to call from a step.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.ticker.Stop()
	s.cancel()
	done := s.loopDone
	s.mu.Unlock()

	<-done
	logger.Debug("Scheduler", "Stopped (steps=%d skipped=%d)", s.seq.Load(), s.skipped.Load())
}

// Wait blocks until every started step has returned. Must not be called from a step.
func (s *Scheduler) Wait() {
	s.steps.Wait()
}

// Running reports whether the scheduler is between Start and Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Started returns the number of steps started so far.
func (s *Scheduler) Started() uint64 { return s.seq.Load() }

// Skipped returns the number of ticks dropped by SkipIfBusy.
func (s *Scheduler) Skipped() uint64 { return s.skipped.Load() }

// InFlight returns the number of steps currently running.
func (s *Scheduler) InFlight() int { return int(s.inFlight.Load()) }

func (s *Scheduler) loop(ctx context.Context, ticks <-chan time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticks:
			s.dispatch(ctx, stop)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, stop <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A tick can be queued on the channel when Stop runs; running is the
	// authoritative check.
	select {
	case <-stop:
		return
	default:
	}
	if !s.running || ctx.Err() != nil {
		return
	}

	if s.policy == SkipIfBusy && s.inFlight.Load() > 0 {
		n := s.skipped.Add(1)
		logger.Debug("Scheduler", "Tick skipped, previous step in flight (skipped=%d)", n)
		if s.onSkip != nil {
			s.onSkip()
		}
		return
	}

	seq := s.seq.Add(1)
	s.inFlight.Add(1)
	s.steps.Add(1)
	go func() {
		defer s.steps.Done()
		defer s.inFlight.Add(-1)
		s.step(ctx, seq)
	}()
}
