package decision

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/logger"
	"github.com/jmlee/statarb/pkg/redis"
)

// FeatureFeed supplies the current tick's inference input per pair.
// Poll returns ok=false when no new bar is available yet.
type FeatureFeed interface {
	Poll(ctx context.Context, pairID string) (TickInput, bool, error)
}

// Worker runs inference for a disjoint partition of 5 to 10 pairs,
// emitting one signal per pair per tick and a liveness heartbeat.
// Absence of the heartbeat past its TTL means the process needs an
// external restart; the worker never tries to recover itself.
type Worker struct {
	engine *Engine
	sink   *Sink
	feed   FeatureFeed
	pairs  []string
	cfg    config.WorkerConfig
	hb     *redis.Heartbeat
	log    zerolog.Logger
}

// NewWorker builds a worker for one pair partition.
func NewWorker(engine *Engine, sink *Sink, feed FeatureFeed, pairs []string,
	cfg config.WorkerConfig, client *redis.Client, log *logger.Logger) *Worker {
	return &Worker{
		engine: engine,
		sink:   sink,
		feed:   feed,
		pairs:  pairs,
		cfg:    cfg,
		hb:     redis.NewHeartbeat(client, "worker", cfg.WorkerID, cfg.HeartbeatInterval),
		log:    log.Zerolog().With().Str("component", "decision.worker").Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Run ticks until the context is cancelled. Suppressed signals
// (stale inputs) are logged and skipped; they never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Strs("pairs", w.pairs).
		Dur("tick_interval", w.cfg.TickInterval).
		Msg("worker started")

	go w.hb.Run(ctx)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	for _, pairID := range w.pairs {
		in, ok, err := w.feed.Poll(ctx, pairID)
		if err != nil {
			w.log.Error().Str("pair_id", pairID).Err(err).Msg("feed poll failed")
			continue
		}
		if !ok {
			continue
		}

		sig, err := w.engine.Evaluate(ctx, in)
		if err != nil {
			switch {
			case errors.Is(err, ErrOutOfSession):
				w.log.Debug().Str("pair_id", pairID).Msg("pair outside trading session")
			case contracts.CodeOf(err) == contracts.ReasonStaleInput:
				w.log.Warn().Str("pair_id", pairID).Err(err).Msg("signal suppressed")
			default:
				w.log.Error().Str("pair_id", pairID).Err(err).Msg("inference failed")
			}
			continue
		}

		if err := w.sink.Publish(ctx, sig); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			w.log.Error().Str("pair_id", pairID).Err(err).Msg("publish failed")
		}
	}
}
