package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/pkg/logger"
	"github.com/jmlee/statarb/pkg/redis"
)

const signalChannel = "statarb:signals"

// Sink delivers signals to downstream execution: one key per pair,
// overwritten each tick and expiring at the signal's validity deadline,
// plus a pub/sub broadcast for push consumers.
type Sink struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewSink wraps the shared Redis client.
func NewSink(client *redis.Client, log *logger.Logger) *Sink {
	return &Sink{
		client: client,
		log:    log.Zerolog().With().Str("component", "decision.sink").Logger(),
	}
}

// Publish writes the signal under statarb:signal:<pair> and broadcasts
// it. The key TTL matches valid_until so consumers cannot read a signal
// past its deadline.
func (s *Sink) Publish(ctx context.Context, sig *contracts.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal %s: %w", sig.SignalID, err)
	}

	ttl := time.Until(sig.ValidUntil)
	if ttl <= 0 {
		return contracts.NewFault(contracts.ReasonStaleInput, contracts.StageDecision,
			"signal %s expired before publication", sig.SignalID)
	}

	key := fmt.Sprintf("statarb:signal:%s", sig.PairID)
	if err := s.client.Redis().Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write signal key %s: %w", key, err)
	}
	if err := s.client.Redis().Publish(ctx, signalChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to broadcast signal %s: %w", sig.SignalID, err)
	}

	s.log.Debug().
		Str("signal_id", sig.SignalID).
		Str("pair_id", sig.PairID).
		Str("action", string(sig.Action)).
		Time("valid_until", sig.ValidUntil).
		Msg("signal published")
	return nil
}
