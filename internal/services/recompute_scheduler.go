package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultRecomputeDebounce = 800 * time.Millisecond
	defaultRecomputeThrottle = 500 * time.Millisecond
)

// RecomputeSchedulerOptions configures a RecomputeScheduler.
type RecomputeSchedulerOptions[T any] struct {
	Debounce time.Duration
	Throttle time.Duration
	// Run performs one computation. Its context is cancelled when a newer run supersedes it; the
	// newer run starts only after this one returns.
	Run func(ctx context.Context) (T, error)
	// Publish receives results in generation order. It is called with the scheduler lock held and
	// must not call back into the scheduler.
	Publish func(generation uint64, result T, err error)
}

// RecomputeScheduler coalesces bursts of triggers into a single computation. Triggers are
// debounced, run starts are spaced by the throttle interval, and a result is only published when
// no newer trigger arrived while it was computing.
type RecomputeScheduler[T any] struct {
	debounce time.Duration
	throttle time.Duration
	run      func(ctx context.Context) (T, error)
	publish  func(uint64, T, error)

	mu         sync.Mutex
	baseCtx    context.Context
	stop       context.CancelFunc
	generation uint64
	published  uint64
	timer      *time.Timer
	lastStart  time.Time
	cancelRun  context.CancelFunc
	running    chan struct{}
	closed     bool
}

// NewRecomputeScheduler validates options and builds a scheduler.
func NewRecomputeScheduler[T any](opts RecomputeSchedulerOptions[T]) (*RecomputeScheduler[T], error) {
	if opts.Run == nil {
		return nil, errors.New("recompute scheduler: run func is required")
	}
	publish := opts.Publish
	if publish == nil {
		publish = func(uint64, T, error) {}
	}
	debounce := opts.Debounce
	if debounce < 0 {
		debounce = 0
	} else if debounce == 0 {
		debounce = defaultRecomputeDebounce
	}
	throttle := opts.Throttle
	if throttle < 0 {
		throttle = 0
	} else if throttle == 0 {
		throttle = defaultRecomputeThrottle
	}
	ctx, stop := context.WithCancel(context.Background())
	return &RecomputeScheduler[T]{
		debounce: debounce,
		throttle: throttle,
		run:      opts.Run,
		publish:  publish,
		baseCtx:  ctx,
		stop:     stop,
	}, nil
}

// Trigger schedules a recomputation and returns its generation.
func (s *RecomputeScheduler[T]) Trigger() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.generation
	}
	s.generation++
	gen := s.generation

	if s.timer != nil {
		s.timer.Stop()
	}
	delay := s.debounce
	if !s.lastStart.IsZero() {
		if wait := s.throttle - time.Since(s.lastStart); wait > delay {
			delay = wait
		}
	}
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	return gen
}

// Generation returns the newest generation handed out by Trigger.
func (s *RecomputeScheduler[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Close stops pending timers and cancels any in-flight run.
func (s *RecomputeScheduler[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.stop()
}

func (s *RecomputeScheduler[T]) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	s.cancelRun = cancel
	prev := s.running
	done := make(chan struct{})
	defer close(done)
	s.running = done
	s.mu.Unlock()

	// At most one run is in flight: a superseded run finishes before the next one starts.
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.lastStart = time.Now()
	s.mu.Unlock()

	result, err := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation || gen <= s.published {
		return
	}
	s.published = gen
	s.publish(gen, result, err)
}
