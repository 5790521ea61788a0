// Package scheduler holds the tag's deferred execution context and the
// protocol rotation timer that feeds it.
//
// The Worker is the only goroutine that touches the radio, the identity store
// or the active protocol. Everything else, the rotation tick included, hands
// work to it as a Task.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultQueueSize bounds the number of pending tasks.
const DefaultQueueSize = 16

// Task is a unit of deferred work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Worker runs submitted tasks one at a time.
type Worker struct {
	log   *slog.Logger
	clock clock.Clock
	tasks chan Task
	wake  chan struct{}

	mu      sync.Mutex
	pending map[*clock.Timer]struct{}
	due     []Task
}

// NewWorker creates a worker with a queue of queueSize tasks.
// A nil clock selects the wall clock.
func NewWorker(log *slog.Logger, clk clock.Clock, queueSize int) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Worker{
		log:     log,
		clock:   clk,
		tasks:   make(chan Task, queueSize),
		wake:    make(chan struct{}, 1),
		pending: make(map[*clock.Timer]struct{}),
	}
}

// Submit queues t without blocking. It returns false when the queue is full.
func (w *Worker) Submit(t Task) bool {
	select {
	case w.tasks <- t:
		return true
	default:
		w.log.Warn("Worker queue full, dropping task", "task", t.Name)
		return false
	}
}

// SubmitAfter queues t once d has elapsed on the worker's clock. Delayed
// tasks bypass the bounded queue and are never dropped.
func (w *Worker) SubmitAfter(d time.Duration, t Task) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var timer *clock.Timer
	timer = w.clock.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.pending, timer)
		w.due = append(w.due, t)
		w.mu.Unlock()

		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
	w.pending[timer] = struct{}{}
	w.log.Debug("Task scheduled", "task", t.Name, "delay", d)
}

// Pending returns the number of delayed tasks not yet run.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + len(w.due)
}

// Run executes queued tasks until ctx is cancelled. Due delayed tasks run
// before the next queued task. Task errors are logged.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stopPending()

	for {
		for _, t := range w.takeDue() {
			w.run(ctx, t)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		case t := <-w.tasks:
			w.run(ctx, t)
		}
	}
}

func (w *Worker) run(ctx context.Context, t Task) {
	if err := t.Run(ctx); err != nil {
		w.log.Error("Task failed", "task", t.Name, "err", err)
	}
}

func (w *Worker) takeDue() []Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	due := w.due
	w.due = nil
	return due
}

func (w *Worker) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for timer := range w.pending {
		timer.Stop()
	}
	clear(w.pending)
	w.due = nil
}
