package validation

import (
	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

// Planner builds leakage-safe split plans.
// ⭐ SSOT: S2 split geometry is decided here only
type Planner struct {
	config    strategy.Validation
	lookahead int // label-formation window, bars
	log       zerolog.Logger
}

// NewPlanner creates a planner. lookahead is the labeling rule's
// forward-looking window: purge must cover it so no training sample's
// label formation overlaps a validation window.
func NewPlanner(config strategy.Validation, lookahead int, log zerolog.Logger) *Planner {
	return &Planner{
		config:    config,
		lookahead: lookahead,
		log:       log.With().Str("component", "validation.planner").Logger(),
	}
}

// purgeGap is the effective pre-validation gap: the configured purge or the
// label lookahead, whichever is larger.
func (p *Planner) purgeGap() int {
	if p.lookahead > p.config.PurgeBars {
		return p.lookahead
	}
	return p.config.PurgeBars
}

// PlanKFold partitions [0, totalBars) into K contiguous grouped folds with
// purge before and embargo after each validation block. Fails with
// INSUFFICIENT_HISTORY when blocks would fall under the minimum contiguous
// block size; it never approximates with a smaller window.
func (p *Planner) PlanKFold(totalBars int) (*contracts.SplitPlan, error) {
	k := p.config.Folds
	blockSize := totalBars / k

	if blockSize < p.config.MinBlockBars {
		return nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageValidation,
			"INSUFFICIENT_HISTORY: %d bars yield %d-bar folds, minimum contiguous block is %d",
			totalBars, blockSize, p.config.MinBlockBars)
	}

	purge := p.purgeGap()
	embargo := p.config.EmbargoBars

	plan := &contracts.SplitPlan{
		Mode:        contracts.SplitModeKFold,
		TotalBars:   totalBars,
		PurgeBars:   purge,
		EmbargoBars: embargo,
	}

	for fold := 0; fold < k; fold++ {
		valStart := fold * blockSize
		valEnd := valStart + blockSize
		if fold == k-1 {
			valEnd = totalBars
		}

		split := contracts.Split{
			Fold:       fold,
			Validation: contracts.IndexRange{Start: valStart, End: valEnd},
		}

		// Train before validation, truncated by the purge gap so no
		// label-formation window reaches into validation.
		if before := valStart - purge; before >= p.config.MinBlockBars {
			split.Train = append(split.Train, contracts.IndexRange{Start: 0, End: before})
		}

		// Train after validation, shifted by the embargo gap against
		// serial-correlation lookahead.
		if after := valEnd + embargo; totalBars-after >= p.config.MinBlockBars {
			split.Train = append(split.Train, contracts.IndexRange{Start: after, End: totalBars})
		}

		if len(split.Train) == 0 {
			return nil, contracts.NewFault(contracts.ReasonDataQuality, contracts.StageValidation,
				"INSUFFICIENT_HISTORY: fold %d has no train segment of at least %d bars",
				fold, p.config.MinBlockBars)
		}

		plan.Splits = append(plan.Splits, split)
	}

	if err := plan.Validate(); err != nil {
		return nil, contracts.WrapFault(contracts.ReasonDataQuality, contracts.StageValidation,
			err, "k-fold plan failed internal validation")
	}

	p.log.Info().
		Int("folds", len(plan.Splits)).
		Int("total_bars", totalBars).
		Int("purge", purge).
		Int("embargo", embargo).
		Msg("k-fold split plan built")

	return plan, nil
}
