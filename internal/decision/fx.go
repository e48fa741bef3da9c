package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmlee/statarb/pkg/redis"
)

// FXSource provides reference conversion rates into the account
// currency. Implementations return the rate's observation time so the
// caller can apply its staleness bound.
type FXSource interface {
	Rate(ctx context.Context, currency string) (rate float64, asOf time.Time, err error)
}

// fxRecord is the wire form written by the upstream rates feed.
type fxRecord struct {
	Rate float64   `json:"rate"`
	AsOf time.Time `json:"as_of"`
}

// RedisFXSource reads reference rates maintained by the upstream feed
// under statarb:fx:<currency>.
type RedisFXSource struct {
	client *redis.Client
}

// NewRedisFXSource wraps the shared Redis client.
func NewRedisFXSource(client *redis.Client) *RedisFXSource {
	return &RedisFXSource{client: client}
}

func (s *RedisFXSource) Rate(ctx context.Context, currency string) (float64, time.Time, error) {
	key := fmt.Sprintf("statarb:fx:%s", currency)
	data, err := s.client.Redis().Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, time.Time{}, fmt.Errorf("no reference rate for %s", currency)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate for %s: %w", currency, err)
	}

	var rec fxRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, time.Time{}, fmt.Errorf("malformed rate record for %s: %w", currency, err)
	}
	if rec.Rate <= 0 {
		return 0, time.Time{}, fmt.Errorf("non-positive rate for %s", currency)
	}
	return rec.Rate, rec.AsOf, nil
}
