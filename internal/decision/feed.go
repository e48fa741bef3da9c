package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/pkg/redis"
)

// feedPayload is the wire form upstream feature computation publishes
// per pair under statarb:features:<pair>.
type feedPayload struct {
	PairID        string                  `json:"pair_id"`
	Timestamp     time.Time               `json:"timestamp"`
	Features      contracts.FeatureVector `json:"features"`
	PriceA        decimal.Decimal         `json:"price_a"`
	PriceB        decimal.Decimal         `json:"price_b"`
	GrossNotional decimal.Decimal         `json:"gross_notional"`
}

// RedisFeatureFeed polls the per-pair feature keys written by the
// upstream pipeline. Poll de-duplicates by bar timestamp so the worker
// evaluates each bar exactly once.
type RedisFeatureFeed struct {
	client *redis.Client

	// lastSeen is touched from a single worker goroutine only.
	lastSeen map[string]time.Time
}

// NewRedisFeatureFeed wraps the shared Redis client.
func NewRedisFeatureFeed(client *redis.Client) *RedisFeatureFeed {
	return &RedisFeatureFeed{
		client:   client,
		lastSeen: make(map[string]time.Time),
	}
}

// Poll returns the pair's current tick input, ok=false when no fresh
// bar has arrived since the previous poll.
func (f *RedisFeatureFeed) Poll(ctx context.Context, pairID string) (TickInput, bool, error) {
	raw, err := f.client.Redis().Get(ctx, "statarb:features:"+pairID).Result()
	if errors.Is(err, goredis.Nil) {
		return TickInput{}, false, nil
	}
	if err != nil {
		return TickInput{}, false, fmt.Errorf("feature key read for %s: %w", pairID, err)
	}

	var payload feedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return TickInput{}, false, fmt.Errorf("feature payload parse for %s: %w", pairID, err)
	}

	if !payload.Timestamp.After(f.lastSeen[pairID]) {
		return TickInput{}, false, nil
	}
	f.lastSeen[pairID] = payload.Timestamp

	return TickInput{
		PairID:        pairID,
		Timestamp:     payload.Timestamp,
		Features:      payload.Features,
		Prices:        LegPrices{PriceA: payload.PriceA, PriceB: payload.PriceB},
		GrossNotional: payload.GrossNotional,
	}, true, nil
}
