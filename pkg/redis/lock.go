package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock is a mutual-exclusion lock keyed on a trading universe id.
// No two retraining runs for the same universe may execute concurrently;
// the lock is a Redis SET NX with TTL, released only by its holder.
// Acquire is re-entrant on the same instance: a retraining cycle that
// already holds the lock can deploy under it, as long as every Acquire
// is paired with a Release.
type RunLock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration

	mu    sync.Mutex
	depth int
}

// ErrLockHeld is returned when another run already holds the lock.
var ErrLockHeld = fmt.Errorf("run lock already held")

// NewRunLock creates a lock for the given universe id.
func NewRunLock(client *Client, universeID string, ttl time.Duration) *RunLock {
	return &RunLock{
		client: client,
		key:    fmt.Sprintf("statarb:runlock:%s", universeID),
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes the lock or returns ErrLockHeld. A nested acquire by
// the holding instance succeeds without touching Redis.
func (l *RunLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth > 0 {
		l.depth++
		return nil
	}

	ok, err := l.client.Redis().SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	l.depth = 1
	return nil
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lock if still held by this instance. The Redis key
// is deleted only when the outermost acquire releases.
func (l *RunLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth == 0 {
		return nil
	}
	l.depth--
	if l.depth > 0 {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client.Redis(), []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Extend refreshes the TTL for long-running jobs. The holder calls this
// alongside its heartbeat so a crashed run eventually releases the lock.
func (l *RunLock) Extend(ctx context.Context) error {
	ok, err := l.client.Redis().Expire(ctx, l.key, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("extend run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("extend run lock: lock no longer held")
	}
	return nil
}
