package theta

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/pkg/logger"
)

// Request identifies one optimization cycle.
type Request struct {
	UniverseID string
	Version    string

	// SampleCount is the number of bars in the supporting data window.
	SampleCount int

	// Previous is the currently adopted pair, nil on the first cycle.
	Previous *contracts.ThetaParams

	// BaselineReturn is the deployed pair's annualized return, zero when
	// nothing is deployed.
	BaselineReturn float64

	Actor string
}

// Optimizer runs the two-phase threshold search: a coarse grid pass,
// then a sequential Gaussian-neighborhood refinement seeded from the
// best grid point. A produced candidate is never self-adopted; adoption
// is the lifecycle manager's promotion step.
type Optimizer struct {
	config strategy.Theta
	eval   backtest.Evaluator
	log    zerolog.Logger
}

// NewOptimizer builds an optimizer against the given evaluator.
func NewOptimizer(cfg strategy.Theta, eval backtest.Evaluator, log *logger.Logger) *Optimizer {
	return &Optimizer{
		config: cfg,
		eval:   eval,
		log:    log.Zerolog().With().Str("component", "theta.optimizer").Logger(),
	}
}

type trial struct {
	id     int
	theta1 float64
	theta2 float64
	score  float64
}

// Optimize searches the threshold space and applies the stability and
// CI guards. A rejected candidate returns an OPTIMIZATION_REJECTED
// fault and the caller retains the previous pair unchanged.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*contracts.ThetaParams, error) {
	if req.SampleCount < o.config.MinSamples {
		return nil, contracts.NewFault(contracts.ReasonOptimizationRejected, contracts.StageTheta,
			"supporting window has %d samples, minimum is %d; previous pair retained",
			req.SampleCount, o.config.MinSamples)
	}

	best, trials, err := o.search(ctx, req)
	if err != nil {
		return nil, err
	}

	o.log.Info().
		Str("version", req.Version).
		Int("trials", trials).
		Float64("theta1", best.theta1).
		Float64("theta2", best.theta2).
		Float64("score", best.score).
		Msg("search completed")

	candidate := o.applyStability(best, req.Previous)
	candidate.SourceVersion = req.Version
	if req.Actor != "" {
		candidate.UpdatedBy = req.Actor
	}

	// The CI guard evaluates the stability-adjusted pair under stress
	// scenarios; the raw search winner may differ after smoothing.
	final, err := o.eval.Evaluate(ctx, backtest.EvalRequest{
		UniverseID: req.UniverseID,
		Version:    req.Version,
		Theta1:     candidate.Theta1,
		Theta2:     candidate.Theta2,
		Scenarios:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("final candidate evaluation failed: %w", err)
	}
	candidate.CIGuardOK = ciExcludesZero(final.ScenarioReturns, req.BaselineReturn, o.config.CIConfidence)
	if !candidate.CIGuardOK {
		return nil, contracts.NewFault(contracts.ReasonOptimizationRejected, contracts.StageTheta,
			"confidence interval does not exclude zero improvement over baseline %.4f; previous pair retained",
			req.BaselineReturn)
	}

	candidate.ObjectiveScore = objective(final, o.config)
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("candidate validation failed: %w", err)
	}
	return &candidate, nil
}

// search runs the grid pass and sequential refinement, returning the
// best trial and the number of sequential trials spent.
func (o *Optimizer) search(ctx context.Context, req Request) (trial, int, error) {
	cfg := o.config
	bounds := contracts.ThetaRange{
		Theta1Min: cfg.Theta1Min, Theta1Max: cfg.Theta1Max,
		Theta2Min: cfg.Theta2Min, Theta2Max: cfg.Theta2Max,
	}

	best := trial{score: math.Inf(-1)}
	nextID := 0

	evalPoint := func(t1, t2 float64) (trial, error) {
		result, err := o.eval.Evaluate(ctx, backtest.EvalRequest{
			UniverseID: req.UniverseID,
			Version:    req.Version,
			Theta1:     t1,
			Theta2:     t2,
		})
		if err != nil {
			return trial{}, fmt.Errorf("trial %d failed: %w", nextID, err)
		}
		t := trial{id: nextID, theta1: t1, theta2: t2, score: objective(result, cfg)}
		nextID++
		return t, nil
	}

	// Phase 1: coarse grid.
	for t1 := cfg.Theta1Min; t1 <= cfg.Theta1Max+1e-9; t1 += cfg.GridStep {
		for t2 := cfg.Theta2Min; t2 <= cfg.Theta2Max+1e-9; t2 += cfg.GridStep {
			if err := ctx.Err(); err != nil {
				return trial{}, 0, err
			}
			t, err := evalPoint(t1, t2)
			if err != nil {
				return trial{}, 0, err
			}
			if t.score > best.score {
				best = t
			}
		}
	}

	// Phase 2: Gaussian neighborhood around the incumbent, shrinking as
	// trials accumulate. Seeded from the version string so a rerun of
	// the same cycle reproduces the same trajectory.
	h := fnv.New64a()
	h.Write([]byte(req.Version))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	sigma1 := (cfg.Theta1Max - cfg.Theta1Min) / 4
	sigma2 := (cfg.Theta2Max - cfg.Theta2Min) / 4
	sinceImprovement := 0
	sequential := 0

	for sequential < cfg.MaxTrials {
		if err := ctx.Err(); err != nil {
			return trial{}, 0, err
		}
		if sequential >= cfg.MinTrials && sinceImprovement >= cfg.EarlyStop {
			break
		}

		t1, t2 := bounds.Clamp(
			best.theta1+rng.NormFloat64()*sigma1,
			best.theta2+rng.NormFloat64()*sigma2,
		)
		t, err := evalPoint(t1, t2)
		if err != nil {
			return trial{}, 0, err
		}
		sequential++

		if t.score > best.score {
			best = t
			sinceImprovement = 0
		} else {
			sinceImprovement++
		}
		sigma1 *= 0.97
		sigma2 *= 0.97
	}

	return best, sequential, nil
}

// applyStability smooths the search winner toward the previous pair and
// rate-limits the per-cycle movement. DeltaOK records whether the raw
// smoothed step already satisfied the limit before clamping.
func (o *Optimizer) applyStability(best trial, previous *contracts.ThetaParams) contracts.ThetaParams {
	cfg := o.config
	candidate := contracts.ThetaParams{
		Theta1:    best.theta1,
		Theta2:    best.theta2,
		TrialID:   fmt.Sprintf("trial-%03d", best.id),
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: "theta-optimizer",
		DeltaOK:   true,
		SamplesOK: true,
	}

	if previous == nil {
		return candidate
	}

	smooth := func(new, old float64) (float64, bool) {
		v := cfg.SmoothANew*new + (1-cfg.SmoothANew)*old
		if math.Abs(v-old) <= cfg.MaxDelta {
			return v, true
		}
		if v > old {
			return old + cfg.MaxDelta, false
		}
		return old - cfg.MaxDelta, false
	}

	var ok1, ok2 bool
	candidate.Theta1, ok1 = smooth(best.theta1, previous.Theta1)
	candidate.Theta2, ok2 = smooth(best.theta2, previous.Theta2)
	candidate.DeltaOK = ok1 && ok2
	return candidate
}
