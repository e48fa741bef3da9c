package theta

import (
	"math"

	"github.com/jmlee/statarb/internal/backtest"
	"github.com/jmlee/statarb/internal/strategy"
)

// objective scores one trial's backtest verdict. Higher is better.
// Drawdown beyond the target and turnover below the floor are penalized
// linearly; the avoidance model's false-positive rate is charged as
// opportunity cost.
func objective(r *backtest.EvalResult, cfg strategy.Theta) float64 {
	score := r.AnnualReturn
	score -= cfg.LambdaDD * math.Max(0, r.MaxDrawdown-cfg.MaxDDTarget)
	score -= cfg.LambdaTrades * math.Max(0, cfg.MinTradesYear-r.TradesPerYear)
	score -= cfg.LambdaStop * r.FalsePositive
	return score
}

// zScore maps a two-sided confidence level to its normal quantile.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.960
	case confidence >= 0.90:
		return 1.645
	default:
		return 1.960
	}
}

// ciExcludesZero tests whether the two-sided confidence interval of the
// mean improvement over baseline stays strictly above zero. Uses a
// normal approximation over the per-scenario stressed returns.
func ciExcludesZero(scenarioReturns []float64, baselineReturn, confidence float64) bool {
	n := len(scenarioReturns)
	if n < 2 {
		return false
	}

	var sum float64
	for _, r := range scenarioReturns {
		sum += r - baselineReturn
	}
	mean := sum / float64(n)

	var varSum float64
	for _, r := range scenarioReturns {
		d := (r - baselineReturn) - mean
		varSum += d * d
	}
	sd := math.Sqrt(varSum / float64(n-1))

	lower := mean - zScore(confidence)*sd/math.Sqrt(float64(n))
	return lower > 0
}
