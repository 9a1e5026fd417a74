// Package tasks runs fire-and-forget background work (activity logging,
// pins, report forwarding, broadcasts) on a bounded pool. Every job is named,
// panics are recovered, and failures are logged and counted.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_tasks_total",
			Help: "Background tasks by name and outcome.",
		},
		[]string{"task", "outcome"},
	)
	taskQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_queue_depth",
			Help: "Background tasks waiting for a worker.",
		},
	)
)

func init() {
	prometheus.MustRegister(taskRuns, taskQueue)
}

// ErrStopped is returned by Submit after Shutdown.
var ErrStopped = errors.New("tasks: supervisor stopped")

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("tasks: queue full")

// Func is a unit of background work. The context is cancelled on Shutdown
// once the drain deadline passes.
type Func func(ctx context.Context) error

type job struct {
	name string
	fn   Func
}

// Supervisor is a fixed pool of workers fed by a bounded queue.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts workers goroutines with a queue of size depth.
func New(workers, depth int) *Supervisor {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{ctx: ctx, cancel: cancel, queue: make(chan job, depth)}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit enqueues fn without blocking.
func (s *Supervisor) Submit(name string, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStopped
	}
	select {
	case s.queue <- job{name: name, fn: fn}:
		taskQueue.Inc()
		return nil
	default:
		taskRuns.WithLabelValues(name, "dropped").Inc()
		return ErrQueueFull
	}
}

// Go is Submit for callers that only log a refusal.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if err := s.Submit(name, fn); err != nil {
		log.Warn().Err(err).Str("task", name).Msg("background task not scheduled")
	}
}

func (s *Supervisor) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		taskQueue.Dec()
		s.run(j)
	}
}

func (s *Supervisor) run(j job) {
	start := time.Now()
	err := safeCall(s.ctx, j.fn)
	l := log.With().Str("task", j.name).Dur("took", time.Since(start)).Logger()
	switch {
	case err == nil:
		taskRuns.WithLabelValues(j.name, "ok").Inc()
	case errors.Is(err, errPanic):
		taskRuns.WithLabelValues(j.name, "panic").Inc()
		l.Error().Err(err).Msg("background task panicked")
	default:
		taskRuns.WithLabelValues(j.name, "error").Inc()
		l.Warn().Err(err).Msg("background task failed")
	}
}

var errPanic = errors.New("panic")

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting work and waits for queued tasks. If ctx expires
// first, running tasks see their context cancelled and Shutdown returns
// ctx.Err() once they return.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Every runs fn each interval until ctx is done, under the same panic
// recovery as queued tasks. It blocks; callers run it in their own goroutine.
func Every(ctx context.Context, name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("tasks: %s: non-positive interval", name)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := safeCall(ctx, fn); err != nil {
				taskRuns.WithLabelValues(name, "error").Inc()
				log.Warn().Err(err).Str("task", name).Msg("periodic task failed")
				continue
			}
			taskRuns.WithLabelValues(name, "ok").Inc()
		}
	}
}
