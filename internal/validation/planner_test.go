package validation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

func testConfig() strategy.Validation {
	return strategy.Validation{
		Folds:           5,
		PurgeBars:       24,
		EmbargoBars:     24,
		MinBlockBars:    240,
		MinTrailingDays: 360,
	}
}

const lookahead = 48

func TestPlanKFold_Geometry(t *testing.T) {
	p := NewPlanner(testConfig(), lookahead, zerolog.Nop())

	plan, err := p.PlanKFold(5000)
	require.NoError(t, err)

	assert.Equal(t, contracts.SplitModeKFold, plan.Mode)
	assert.Len(t, plan.Splits, 5)
	// Purge widens to the label lookahead when the configured purge is
	// narrower: 48 > 24.
	assert.Equal(t, lookahead, plan.PurgeBars)

	for _, split := range plan.Splits {
		// No train range may touch the validation window.
		for _, train := range split.Train {
			assert.False(t, train.Overlaps(split.Validation),
				"fold %d: train overlaps validation", split.Fold)

			// Purge: a train segment ending before validation must stop
			// at least lookahead bars earlier, so no label-formation
			// window reaches into validation.
			if train.End <= split.Validation.Start {
				assert.LessOrEqual(t, train.End, split.Validation.Start-lookahead,
					"fold %d: purge gap violated", split.Fold)
			}

			// Embargo: a train segment after validation must start at
			// least embargo bars later.
			if train.Start >= split.Validation.End {
				assert.GreaterOrEqual(t, train.Start, split.Validation.End+24,
					"fold %d: embargo gap violated", split.Fold)
			}
		}
	}
}

func TestPlanKFold_InsufficientHistory(t *testing.T) {
	p := NewPlanner(testConfig(), lookahead, zerolog.Nop())

	// 5 folds of 200 bars each, under the 240-bar minimum block.
	_, err := p.PlanKFold(1000)
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonDataQuality, contracts.CodeOf(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_HISTORY")
}

func hourlyBars(start time.Time, n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return ts
}

func TestPlanWalkForward_MonthlySteps(t *testing.T) {
	p := NewPlanner(testConfig(), lookahead, zerolog.Nop())

	// ~2 years of hourly bars: steps become eligible after 360 days.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := hourlyBars(start, 24*730)

	plan, err := p.PlanWalkForward(ts)
	require.NoError(t, err)

	assert.Equal(t, contracts.SplitModeWalkForward, plan.Mode)
	require.NotEmpty(t, plan.Splits)

	for _, split := range plan.Splits {
		// Trailing window requirement.
		trailing := ts[split.Validation.Start].Sub(ts[0])
		assert.GreaterOrEqual(t, trailing, 360*24*time.Hour,
			"fold %d: trailing window too short", split.Fold)

		// Purge gap before validation.
		require.Len(t, split.Train, 1)
		assert.LessOrEqual(t, split.Train[0].End, split.Validation.Start-lookahead)

		// Validation windows advance strictly forward.
		if split.Fold > 0 {
			prev := plan.Splits[split.Fold-1]
			assert.GreaterOrEqual(t, split.Validation.Start, prev.Validation.End)
		}
	}
}

func TestPlanWalkForward_InsufficientHistory(t *testing.T) {
	p := NewPlanner(testConfig(), lookahead, zerolog.Nop())

	// Only 90 days of bars: no step can satisfy the 360-day trailing window.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := hourlyBars(start, 24*90)

	_, err := p.PlanWalkForward(ts)
	require.Error(t, err)
	assert.Equal(t, contracts.ReasonDataQuality, contracts.CodeOf(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_HISTORY")
}
