package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Heartbeat emits periodic liveness keys for a named task or worker.
// Absence of a heartbeat beyond its TTL is a process/stuck-task condition
// handled by an external supervisor, not by the emitting process.
type Heartbeat struct {
	client   *Client
	key      string
	interval time.Duration
}

// NewHeartbeat creates a heartbeat for the given scope ("worker" or "task")
// and name. The key TTL is twice the emission interval.
func NewHeartbeat(client *Client, scope, name string, interval time.Duration) *Heartbeat {
	return &Heartbeat{
		client:   client,
		key:      fmt.Sprintf("statarb:heartbeat:%s:%s", scope, name),
		interval: interval,
	}
}

// Beat writes one heartbeat with the current timestamp.
func (h *Heartbeat) Beat(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := h.client.Redis().Set(ctx, h.key, now, 2*h.interval).Err(); err != nil {
		return fmt.Errorf("heartbeat set: %w", err)
	}
	return nil
}

// Run emits heartbeats at the configured interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First beat immediately so the supervisor sees the task start.
	_ = h.Beat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.Beat(ctx)
		}
	}
}

// Age returns how long ago the heartbeat for scope/name was last emitted.
// Returns ok=false when no heartbeat key exists (expired or never set).
func Age(ctx context.Context, client *Client, scope, name string) (time.Duration, bool, error) {
	key := fmt.Sprintf("statarb:heartbeat:%s:%s", scope, name)
	raw, err := client.Redis().Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("heartbeat get: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, false, fmt.Errorf("heartbeat parse: %w", err)
	}
	return time.Since(ts), true, nil
}
