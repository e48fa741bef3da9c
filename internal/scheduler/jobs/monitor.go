package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/pkg/logger"
)

// LiveMetricsSource supplies realized live performance for the deployed
// version, computed downstream from executed signals.
type LiveMetricsSource interface {
	LiveMetrics(ctx context.Context, universeID string) (contracts.BacktestMetrics, bool, error)
}

// MonitorJob compares live performance against the deployed version's
// backtest baseline and lets the lifecycle manager roll back when a
// trigger fires.
type MonitorJob struct {
	universeID string
	source     LiveMetricsSource
	manager    *lifecycle.Manager
	schedule   string
	log        zerolog.Logger
}

// NewMonitorJob builds the live performance monitor for a universe.
func NewMonitorJob(universeID string, source LiveMetricsSource, manager *lifecycle.Manager, schedule string, log *logger.Logger) *MonitorJob {
	return &MonitorJob{
		universeID: universeID,
		source:     source,
		manager:    manager,
		schedule:   schedule,
		log:        log.Zerolog().With().Str("component", "jobs.monitor").Str("universe_id", universeID).Logger(),
	}
}

func (j *MonitorJob) Name() string     { return "monitor-" + j.universeID }
func (j *MonitorJob) Schedule() string { return j.schedule }

func (j *MonitorJob) Run(ctx context.Context) error {
	live, ok, err := j.source.LiveMetrics(ctx, j.universeID)
	if err != nil {
		return fmt.Errorf("failed to load live metrics: %w", err)
	}
	if !ok {
		j.log.Debug().Msg("no live metrics yet")
		return nil
	}

	rolled, err := j.manager.EvaluateLive(ctx, j.universeID, live, j.Name())
	if err != nil {
		return err
	}
	if rolled {
		j.log.Warn().
			Float64("live_sharpe", live.Sharpe).
			Float64("live_max_drawdown", live.MaxDrawdown).
			Msg("rollback executed from live monitoring")
	}
	return nil
}
