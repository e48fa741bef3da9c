package validation

import (
	"time"

	"github.com/jmlee/statarb/internal/contracts"
)

// PlanWalkForward builds a monthly-step walk-forward plan over a
// chronologically ordered bar timestamp sequence. Each step validates one
// calendar month; a step is eligible only when the trailing training window
// covers at least MinTrailingDays of bars. Fails with INSUFFICIENT_HISTORY
// when not even one step is eligible.
func (p *Planner) PlanWalkForward(timestamps []time.Time) (*contracts.SplitPlan, error) {
	n := len(timestamps)
	if n == 0 {
		return nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageValidation,
			"INSUFFICIENT_HISTORY: empty bar sequence")
	}

	purge := p.purgeGap()
	minTrailing := time.Duration(p.config.MinTrailingDays) * 24 * time.Hour

	plan := &contracts.SplitPlan{
		Mode:        contracts.SplitModeWalkForward,
		TotalBars:   n,
		PurgeBars:   purge,
		EmbargoBars: p.config.EmbargoBars,
	}

	fold := 0
	for monthStart := startOfMonth(timestamps[0]).AddDate(0, 1, 0); monthStart.Before(timestamps[n-1]); monthStart = monthStart.AddDate(0, 1, 0) {
		monthEnd := monthStart.AddDate(0, 1, 0)

		valStart := lowerBound(timestamps, monthStart)
		valEnd := lowerBound(timestamps, monthEnd)
		if valEnd-valStart < p.config.MinBlockBars {
			continue // sparse month, not a valid validation window
		}

		// Trailing window must reach MinTrailingDays back from the step.
		if timestamps[valStart].Sub(timestamps[0]) < minTrailing {
			continue
		}

		trainEnd := valStart - purge
		if trainEnd < p.config.MinBlockBars {
			continue
		}

		plan.Splits = append(plan.Splits, contracts.Split{
			Fold:       fold,
			Train:      []contracts.IndexRange{{Start: 0, End: trainEnd}},
			Validation: contracts.IndexRange{Start: valStart, End: valEnd},
		})
		fold++
	}

	if len(plan.Splits) == 0 {
		return nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageValidation,
			"INSUFFICIENT_HISTORY: no walk-forward step satisfies the %d-day trailing window",
			p.config.MinTrailingDays)
	}

	if err := plan.Validate(); err != nil {
		return nil, contracts.WrapFault(contracts.ReasonDataQuality, contracts.StageValidation,
			err, "walk-forward plan failed internal validation")
	}

	p.log.Info().
		Int("steps", len(plan.Splits)).
		Int("total_bars", n).
		Msg("walk-forward split plan built")

	return plan, nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// lowerBound returns the first index i where timestamps[i] >= target.
// Half-open interval discipline: inclusive starts, exclusive ends.
func lowerBound(timestamps []time.Time, target time.Time) int {
	low, high := 0, len(timestamps)
	for low < high {
		mid := (low + high) / 2
		if timestamps[mid].Before(target) {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}
