package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/pkg/logger"
	"github.com/jmlee/statarb/pkg/redis"
)

// heartbeatScope groups long-running task heartbeats in Redis.
const heartbeatScope = "task"

// Watchdog detects stuck trainer/optimizer tasks. A watched task emits
// a heartbeat every interval; a heartbeat missing for one full interval
// while the task is still in flight is a stuck-task condition. The
// watchdog cancels the task's context so the scheduler's retry takes
// over; it never tries to recover the task in place.
type Watchdog struct {
	client   *redis.Client
	interval time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewWatchdog builds a watchdog with the task heartbeat interval
// (60s in production).
func NewWatchdog(client *redis.Client, interval time.Duration, log *logger.Logger) *Watchdog {
	return &Watchdog{
		client:   client,
		interval: interval,
		log:      log.Zerolog().With().Str("component", "scheduler.watchdog").Logger(),
		tasks:    make(map[string]context.CancelFunc),
	}
}

// Watch registers an in-flight task and returns a context the task must
// run under, plus the heartbeat it must keep beating.
func (w *Watchdog) Watch(ctx context.Context, name string) (context.Context, *redis.Heartbeat) {
	taskCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.tasks[name] = cancel
	w.mu.Unlock()

	return taskCtx, redis.NewHeartbeat(w.client, heartbeatScope, name, w.interval)
}

// Done deregisters a finished task.
func (w *Watchdog) Done(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tasks, name)
}

// Run checks heartbeat ages until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watchdog) check(ctx context.Context) {
	w.mu.Lock()
	names := make([]string, 0, len(w.tasks))
	for name := range w.tasks {
		names = append(names, name)
	}
	w.mu.Unlock()

	for _, name := range names {
		age, ok, err := redis.Age(ctx, w.client, heartbeatScope, name)
		if err != nil {
			w.log.Error().Str("task", name).Err(err).Msg("heartbeat check failed")
			continue
		}
		if ok && age <= w.interval {
			continue
		}

		// Stuck: cancel and leave the retry to the scheduler.
		w.log.Error().
			Str("task", name).
			Dur("age", age).
			Dur("interval", w.interval).
			Msg("stuck task detected, cancelling")

		w.mu.Lock()
		cancel, exists := w.tasks[name]
		delete(w.tasks, name)
		w.mu.Unlock()

		if exists {
			cancel()
		}
	}
}
