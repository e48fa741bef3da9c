package theta

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
}

func testThetaConfig() strategy.Theta {
	return strategy.Theta{
		Theta1Min: 0.60, Theta1Max: 0.85,
		Theta2Min: 0.20, Theta2Max: 0.45,
		GridStep:  0.05,
		MinTrials: 10, MaxTrials: 30, EarlyStop: 8,
		LambdaDD: 2.0, LambdaTrades: 0.05, LambdaStop: 0.10,
		MaxDDTarget: 0.12, MinTradesYear: 150,
		MaxDelta: 0.03, SmoothANew: 0.7,
		MinSamples: 1000, CIConfidence: 0.95,
	}
}

// quadraticEvaluator returns an annual return peaked at (peak1, peak2)
// so the search has a unique optimum. Scenario returns are centered on
// the base return with a small spread.
type quadraticEvaluator struct {
	peak1, peak2 float64
	ciSpread     float64
	calls        atomic.Int64
}

func (e *quadraticEvaluator) Evaluate(ctx context.Context, req backtest.EvalRequest) (*backtest.EvalResult, error) {
	e.calls.Add(1)
	d1 := req.Theta1 - e.peak1
	d2 := req.Theta2 - e.peak2
	ret := 0.30 - 2.0*(d1*d1+d2*d2)
	result := &backtest.EvalResult{
		AnnualReturn:  ret,
		MaxDrawdown:   0.08,
		TradesPerYear: 200,
		FalsePositive: 0.10,
		Sharpe:        1.5,
	}
	if req.Scenarios {
		result.ScenarioReturns = []float64{
			ret - e.ciSpread, ret, ret + e.ciSpread,
			ret - e.ciSpread/2, ret + e.ciSpread/2,
		}
	}
	return result, nil
}

func TestOptimize_FindsPeakOnFirstCycle(t *testing.T) {
	eval := &quadraticEvaluator{peak1: 0.72, peak2: 0.31, ciSpread: 0.02}
	opt := NewOptimizer(testThetaConfig(), eval, testLogger())

	params, err := opt.Optimize(context.Background(), Request{
		UniverseID:  "crypto-major",
		Version:     "m-test-1",
		SampleCount: 5000,
		Actor:       "retrain-job",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.72, params.Theta1, 0.05)
	assert.InDelta(t, 0.31, params.Theta2, 0.05)
	assert.True(t, params.DeltaOK)
	assert.True(t, params.SamplesOK)
	assert.True(t, params.CIGuardOK)
	assert.Equal(t, "m-test-1", params.SourceVersion)
	assert.Equal(t, "retrain-job", params.UpdatedBy)
	assert.NotEmpty(t, params.TrialID)
}

func TestOptimize_DeltaRateLimitAgainstPrevious(t *testing.T) {
	eval := &quadraticEvaluator{peak1: 0.82, peak2: 0.42, ciSpread: 0.02}
	opt := NewOptimizer(testThetaConfig(), eval, testLogger())

	previous := &contracts.ThetaParams{Theta1: 0.62, Theta2: 0.22}
	params, err := opt.Optimize(context.Background(), Request{
		UniverseID:  "crypto-major",
		Version:     "m-test-2",
		SampleCount: 5000,
		Previous:    previous,
		Actor:       "retrain-job",
	})
	require.NoError(t, err)

	// The optimum is far away; movement is capped per cycle.
	assert.LessOrEqual(t, math.Abs(params.Theta1-previous.Theta1), 0.03+1e-9)
	assert.LessOrEqual(t, math.Abs(params.Theta2-previous.Theta2), 0.03+1e-9)
	assert.False(t, params.DeltaOK)
}

func TestOptimize_SmoothingWithinDelta(t *testing.T) {
	eval := &quadraticEvaluator{peak1: 0.72, peak2: 0.31, ciSpread: 0.02}
	opt := NewOptimizer(testThetaConfig(), eval, testLogger())

	// Previous already near the optimum: the smoothed step stays inside
	// the limit and is adopted as-is.
	previous := &contracts.ThetaParams{Theta1: 0.71, Theta2: 0.30}
	params, err := opt.Optimize(context.Background(), Request{
		UniverseID:  "crypto-major",
		Version:     "m-test-3",
		SampleCount: 5000,
		Previous:    previous,
		Actor:       "retrain-job",
	})
	require.NoError(t, err)
	assert.True(t, params.DeltaOK)
	assert.LessOrEqual(t, math.Abs(params.Theta1-previous.Theta1), 0.03+1e-9)
}

func TestOptimize_RejectsBelowMinSamples(t *testing.T) {
	eval := &quadraticEvaluator{peak1: 0.72, peak2: 0.31, ciSpread: 0.02}
	opt := NewOptimizer(testThetaConfig(), eval, testLogger())

	_, err := opt.Optimize(context.Background(), Request{
		UniverseID:  "crypto-major",
		Version:     "m-test-4",
		SampleCount: 500,
		Actor:       "retrain-job",
	})
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonOptimizationRejected, contracts.CodeOf(err))
	assert.Zero(t, eval.calls.Load(), "no evaluations before the sample guard")
}

func TestOptimize_CIGuardRejects(t *testing.T) {
	// Baseline above every achievable return: improvement CI cannot
	// exclude zero.
	eval := &quadraticEvaluator{peak1: 0.72, peak2: 0.31, ciSpread: 0.02}
	opt := NewOptimizer(testThetaConfig(), eval, testLogger())

	_, err := opt.Optimize(context.Background(), Request{
		UniverseID:     "crypto-major",
		Version:        "m-test-5",
		SampleCount:    5000,
		BaselineReturn: 0.50,
		Actor:          "retrain-job",
	})
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonOptimizationRejected, contracts.CodeOf(err))
}

func TestOptimize_TrialBudget(t *testing.T) {
	cfg := testThetaConfig()
	eval := &quadraticEvaluator{peak1: 0.72, peak2: 0.31, ciSpread: 0.02}
	opt := NewOptimizer(cfg, eval, testLogger())

	_, err := opt.Optimize(context.Background(), Request{
		UniverseID:  "crypto-major",
		Version:     "m-test-6",
		SampleCount: 5000,
		Actor:       "retrain-job",
	})
	require.NoError(t, err)

	gridPoints := int64(6 * 6)
	maxCalls := gridPoints + int64(cfg.MaxTrials) + 1 // +1 final CI evaluation
	assert.LessOrEqual(t, eval.calls.Load(), maxCalls)
	assert.GreaterOrEqual(t, eval.calls.Load(), gridPoints+int64(cfg.MinTrials))
}

func TestCIExcludesZero(t *testing.T) {
	t.Run("clear improvement passes", func(t *testing.T) {
		returns := []float64{0.20, 0.22, 0.19, 0.21, 0.23}
		assert.True(t, ciExcludesZero(returns, 0.05, 0.95))
	})
	t.Run("noisy improvement fails", func(t *testing.T) {
		returns := []float64{0.30, -0.25, 0.28, -0.22, 0.05}
		assert.False(t, ciExcludesZero(returns, 0.0, 0.95))
	})
	t.Run("too few scenarios fails closed", func(t *testing.T) {
		assert.False(t, ciExcludesZero([]float64{0.5}, 0.0, 0.95))
	})
}
