// Package jobs holds the scheduled batch jobs: the monthly retraining
// pipeline and the live performance monitor.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/labeling"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/quality"
	"github.com/jmlee/statarb/internal/scheduler"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/internal/theta"
	"github.com/jmlee/statarb/internal/training"
	"github.com/jmlee/statarb/internal/validation"
	"github.com/jmlee/statarb/pkg/logger"
)

// FeatureSource supplies curated partitions and their precomputed
// feature vectors. Feature computation itself happens upstream.
type FeatureSource interface {
	Partitions(ctx context.Context, universeID string) ([]contracts.DatasetPartition, error)

	// Features returns the partition's bar-ordered feature vectors and
	// their timestamps.
	Features(ctx context.Context, partition contracts.DatasetPartition) ([]contracts.FeatureVector, []time.Time, error)
}

// RetrainDeps are the pipeline stages the job wires together.
type RetrainDeps struct {
	Source    FeatureSource
	Gate      *quality.Gate
	Labeler   *labeling.Labeler
	Planner   *validation.Planner
	Trainer   *training.Trainer
	Store     *training.Store
	Evaluator backtest.Evaluator
	Optimizer *theta.Optimizer
	Registry  lifecycle.Registry
	Manager   *lifecycle.Manager
	Locks     lifecycle.LockFactory
	Watchdog  *scheduler.Watchdog
}

// RetrainJob runs the full pipeline for one universe: quality gate,
// labeling, split planning, training, threshold search, and the
// promotion decision. Idempotent: identical inputs produce an identical
// artifact (up to version id), and reruns after a partial failure are
// safe.
type RetrainJob struct {
	universeID string
	config     *strategy.Config
	deps       RetrainDeps
	schedule   string
	autoDeploy bool
	log        zerolog.Logger
}

// NewRetrainJob builds the monthly retraining job for a universe.
// Schedule uses the scheduler's six-field cron syntax.
func NewRetrainJob(universeID string, cfg *strategy.Config, deps RetrainDeps, schedule string, autoDeploy bool, log *logger.Logger) *RetrainJob {
	return &RetrainJob{
		universeID: universeID,
		config:     cfg,
		deps:       deps,
		schedule:   schedule,
		autoDeploy: autoDeploy,
		log:        log.Zerolog().With().Str("component", "jobs.retrain").Str("universe_id", universeID).Logger(),
	}
}

func (j *RetrainJob) Name() string     { return "retrain-" + j.universeID }
func (j *RetrainJob) Schedule() string { return j.schedule }

// Run executes one retraining cycle under the universe run lock. A
// rejected optimization or blocked promotion ends the cycle cleanly;
// the previous deployment keeps serving.
func (j *RetrainJob) Run(ctx context.Context) error {
	lock := j.deps.Locks(j.universeID)
	if err := lock.Acquire(ctx); err != nil {
		return contracts.WrapFault(contracts.ReasonLifecycleConflict, contracts.StageLifecycle,
			err, fmt.Sprintf("retraining already running for universe %s", j.universeID))
	}
	defer lock.Release(ctx)

	taskCtx := ctx
	if j.deps.Watchdog != nil {
		watchCtx, hb := j.deps.Watchdog.Watch(ctx, j.Name())
		taskCtx = watchCtx
		defer j.deps.Watchdog.Done(j.Name())
		go hb.Run(watchCtx)
	}

	samples, timestamps, err := j.buildDataset(taskCtx)
	if err != nil {
		return err
	}

	plan, err := j.deps.Planner.PlanWalkForward(timestamps)
	if err != nil {
		return err
	}

	result, err := j.deps.Trainer.Run(taskCtx, training.RunParams{
		UniverseID: j.universeID,
		CreatedBy:  j.Name(),
		CodeHash:   j.configHash(),
	}, samples, *plan)
	if err != nil {
		return err
	}

	if err := j.deps.Store.Save(result); err != nil {
		return fmt.Errorf("failed to persist artifact: %w", err)
	}
	version := result.Artifact.Version

	previous, baselineReturn, err := j.previousTheta(taskCtx)
	if err != nil {
		return err
	}

	params, err := j.deps.Optimizer.Optimize(taskCtx, theta.Request{
		UniverseID:     j.universeID,
		Version:        version,
		SampleCount:    len(samples),
		Previous:       previous,
		BaselineReturn: baselineReturn,
		Actor:          j.Name(),
	})
	if err != nil {
		if contracts.CodeOf(err) == contracts.ReasonOptimizationRejected {
			j.log.Warn().Err(err).Msg("threshold candidate rejected, previous pair retained")
			return nil
		}
		return err
	}

	// Baseline snapshot at the adopted thresholds; rollback triggers
	// compare live performance against this.
	baseline, err := j.deps.Evaluator.Evaluate(taskCtx, backtest.EvalRequest{
		UniverseID: j.universeID,
		Version:    version,
		Theta1:     params.Theta1,
		Theta2:     params.Theta2,
	})
	if err != nil {
		return fmt.Errorf("baseline evaluation failed: %w", err)
	}
	result.Artifact.Baseline = baseline.Baseline()

	if err := j.deps.Manager.Register(taskCtx, result.Artifact, *params, j.Name()); err != nil {
		return err
	}
	if err := j.deps.Manager.Submit(taskCtx, j.universeID, version, j.Name()); err != nil {
		return err
	}
	if err := j.deps.Manager.Approve(taskCtx, j.universeID, version, j.Name()); err != nil {
		if contracts.CodeOf(err) == contracts.ReasonPromotionBlocked {
			j.log.Warn().Err(err).Str("version", version).Msg("promotion blocked, previous deployment keeps serving")
			return nil
		}
		return err
	}

	if !j.autoDeploy {
		j.log.Info().Str("version", version).Msg("version approved, awaiting operator deploy")
		return nil
	}
	if err := j.deps.Manager.Deploy(taskCtx, j.universeID, version, j.Name()); err != nil {
		return err
	}

	j.log.Info().Str("version", version).Msg("retraining cycle completed")
	return nil
}

// buildDataset runs the quality gate and labels every included
// partition, keeping bar order within and across partitions.
func (j *RetrainJob) buildDataset(ctx context.Context) ([]contracts.LabeledSample, []time.Time, error) {
	partitions, err := j.deps.Source.Partitions(ctx, j.universeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	included, excluded, err := j.deps.Gate.Run(ctx, partitions)
	if err != nil {
		return nil, nil, err
	}
	j.log.Info().
		Int("included", len(included)).
		Int("excluded", len(excluded)).
		Msg("quality gate completed")

	var samples []contracts.LabeledSample
	var timestamps []time.Time
	for _, partition := range included {
		features, times, err := j.deps.Source.Features(ctx, partition)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load features for %s: %w", partition.ID(), err)
		}

		labeled, err := j.deps.Labeler.Label(partition, features)
		if err != nil {
			return nil, nil, err
		}

		base := len(samples)
		for i := range labeled {
			labeled[i].BarIndex = base + i
			labeled[i].Timestamp = times[i]
		}
		samples = append(samples, labeled...)
		timestamps = append(timestamps, times...)
	}

	if len(samples) == 0 {
		return nil, nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageQuality,
			"no partitions survived the quality gate for universe %s", j.universeID)
	}
	return samples, timestamps, nil
}

// previousTheta loads the deployed pair's thresholds and baseline
// return for the optimizer's stability and CI guards.
func (j *RetrainJob) previousTheta(ctx context.Context) (*contracts.ThetaParams, float64, error) {
	deployed, err := j.deps.Registry.Deployed(ctx, j.universeID)
	if err != nil {
		return nil, 0, err
	}
	if deployed == nil {
		return nil, 0, nil
	}
	previous := deployed.Theta
	return &previous, deployed.Artifact.Baseline.AnnualReturn, nil
}

func (j *RetrainJob) configHash() string {
	hash, err := strategy.Hash(j.config)
	if err != nil {
		return "unknown"
	}
	return hash
}
