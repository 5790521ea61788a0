package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerRunsTasksInOrder(t *testing.T) {
	w := NewWorker(testLogger(), clock.NewMock(), 4)

	results := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		require.True(t, w.Submit(Task{Name: "n", Run: func(context.Context) error {
			results <- i
			return nil
		}}))
	}
	startWorker(t, w)

	for i := 1; i <= 3; i++ {
		select {
		case got := <-results:
			assert.Equal(t, i, got)
		case <-time.After(time.Second):
			t.Fatal("task did not run")
		}
	}
}

func TestWorkerSubmitNeverBlocks(t *testing.T) {
	w := NewWorker(testLogger(), clock.NewMock(), 1)
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}

	assert.True(t, w.Submit(noop))
	assert.False(t, w.Submit(noop), "full queue must reject")
}

func TestWorkerContinuesAfterTaskError(t *testing.T) {
	w := NewWorker(testLogger(), clock.NewMock(), 4)
	ran := atomic.NewInt32(0)

	w.Submit(Task{Name: "fail", Run: func(context.Context) error { return errors.New("boom") }})
	w.Submit(Task{Name: "ok", Run: func(context.Context) error { ran.Inc(); return nil }})
	startWorker(t, w)

	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerSubmitAfter(t *testing.T) {
	mock := clock.NewMock()
	w := NewWorker(testLogger(), mock, 4)
	startWorker(t, w)

	ran := atomic.NewInt32(0)
	w.SubmitAfter(2*time.Second, Task{Name: "later", Run: func(context.Context) error { ran.Inc(); return nil }})
	assert.Equal(t, 1, w.Pending())

	mock.Add(1999 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load(), "must not run early")

	mock.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWorkerSubmitAfterSurvivesFullQueue(t *testing.T) {
	mock := clock.NewMock()
	w := NewWorker(testLogger(), mock, 2)

	results := make(chan string, 4)
	record := func(name string) Task {
		return Task{Name: name, Run: func(context.Context) error { results <- name; return nil }}
	}
	w.SubmitAfter(time.Second, record("delayed"))
	require.True(t, w.Submit(record("queued-1")))
	require.True(t, w.Submit(record("queued-2")))
	require.False(t, w.Submit(record("dropped")))

	mock.Add(time.Second)
	assert.Equal(t, 1, w.Pending(), "due task is held until the worker runs")

	startWorker(t, w)
	for _, want := range []string{"delayed", "queued-1", "queued-2"} {
		select {
		case got := <-results:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("%s did not run", want)
		}
	}
	assert.Equal(t, 0, w.Pending())
}

func TestTickCoalesces(t *testing.T) {
	w := NewWorker(testLogger(), clock.NewMock(), 4)
	s := New(testLogger(), clock.NewMock(), time.Minute, w, func(context.Context) error { return nil })

	s.Tick()
	s.Tick()
	s.Tick()
	assert.Len(t, s.signal, 1)
	assert.Len(t, w.tasks, 0, "tick must not reach the worker directly")
}

func TestTickDoesNotAllocate(t *testing.T) {
	s := New(testLogger(), clock.NewMock(), time.Minute, NewWorker(testLogger(), nil, 1), nil)
	allocs := testing.AllocsPerRun(100, s.Tick)
	assert.Zero(t, allocs)
}

func TestSchedulerRotatesOnInterval(t *testing.T) {
	mock := clock.NewMock()
	w := NewWorker(testLogger(), mock, 4)
	startWorker(t, w)

	rotations := atomic.NewInt32(0)
	s := New(testLogger(), mock, DefaultRotationInterval, w, func(context.Context) error {
		rotations.Inc()
		return nil
	})
	assert.Equal(t, 60*time.Second, s.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	// The ticker is registered asynchronously by Run.
	assert.Eventually(t, func() bool {
		mock.Add(DefaultRotationInterval)
		return rotations.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	before := rotations.Load()
	mock.Add(DefaultRotationInterval)
	assert.Eventually(t, func() bool { return rotations.Load() > before }, time.Second, 5*time.Millisecond)
}

func TestNewDefaults(t *testing.T) {
	s := New(testLogger(), nil, 0, NewWorker(testLogger(), nil, 0), nil)
	assert.Equal(t, DefaultRotationInterval, s.Interval())
	assert.Equal(t, DefaultQueueSize, cap(s.worker.tasks))
}
