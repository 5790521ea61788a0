package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRotationInterval is how long each protocol stays on air.
const DefaultRotationInterval = 60 * time.Second

// RotateFunc switches the active protocol and re-advertises. It runs on the worker.
type RotateFunc func(ctx context.Context) error

// Scheduler alternates the advertised protocol on a fixed interval.
type Scheduler struct {
	log      *slog.Logger
	clock    clock.Clock
	interval time.Duration
	worker   *Worker
	rotate   RotateFunc

	signal chan struct{}
}

// New creates a scheduler that submits rotate to worker every interval.
func New(log *slog.Logger, clk clock.Clock, interval time.Duration, worker *Worker, rotate RotateFunc) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	return &Scheduler{
		log:      log,
		clock:    clk,
		interval: interval,
		worker:   worker,
		rotate:   rotate,
		signal:   make(chan struct{}, 1),
	}
}

// Interval returns the rotation interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Tick requests a rotation. It never blocks and never allocates, so it may be
// called from a timer callback. Ticks arriving before the previous one was
// forwarded are coalesced.
func (s *Scheduler) Tick() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run drives Tick from the clock and forwards pending ticks to the worker
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.log.Info("Protocol rotation started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		case <-s.signal:
			s.worker.Submit(Task{Name: "rotate", Run: s.rotate})
		}
	}
}
