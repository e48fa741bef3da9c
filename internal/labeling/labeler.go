package labeling

import (
	"math"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/strategy"
)

// Labeler derives binary training labels from raw feature streams per the
// fixed labeling rules. Deterministic and idempotent: identical inputs and
// rule constants yield byte-identical labels.
// ⭐ SSOT: S1 labeling rules live here only
type Labeler struct {
	config strategy.Labeling
	log    zerolog.Logger
}

// NewLabeler creates a new labeler.
func NewLabeler(config strategy.Labeling, log zerolog.Logger) *Labeler {
	return &Labeler{
		config: config,
		log:    log.With().Str("component", "labeling.labeler").Logger(),
	}
}

// Label derives LabeledSamples for one partition's feature sequence.
// Bars are assumed chronologically ordered within the partition.
func (l *Labeler) Label(partition contracts.DatasetPartition, features []contracts.FeatureVector) ([]contracts.LabeledSample, error) {
	for i, f := range features {
		if err := f.Validate(); err != nil {
			return nil, contracts.WrapFault(contracts.ReasonDataQuality, contracts.StageLabeling,
				err, "feature schema violation at bar "+strconv.Itoa(i))
		}
	}

	pairID := partition.Symbol
	samples := make([]contracts.LabeledSample, len(features))

	// Per-bar timestamps stay with the upstream feed; BarIndex orders
	// samples within the partition.
	for i, f := range features {
		samples[i] = contracts.LabeledSample{
			PairID:    pairID,
			Timestamp: partition.LastTimestamp,
			BarIndex:  i,
			Features:  f,
			LabelAI2:  l.labelAI2(f),
			Weight:    1.0,
		}
	}

	l.labelAI1(features, samples)

	for i := range samples {
		samples[i].TargetAI3 = scaleTarget(samples[i])
	}

	l.applyClassWeights(samples)

	return samples, nil
}

// labelAI1 marks directional-reversion episodes.
// An episode starts at |z| >= entry threshold; label 1 if |z| <= exit
// threshold within the next Lookahead bars. Episodes where EMA|Δz| exceeds
// the speed limit at any bar inside the window are regime breaks and are
// excluded entirely, neither 0 nor 1.
func (l *Labeler) labelAI1(features []contracts.FeatureVector, samples []contracts.LabeledSample) {
	cfg := l.config
	n := len(features)

	for i, f := range features {
		z := f[contracts.FeatureZ]
		if math.Abs(z) < cfg.EntryZ {
			continue
		}

		horizon := i + cfg.Lookahead + 1
		if horizon > n {
			horizon = n
		}

		// Regime-break scan over the episode window, episode start included.
		broken := math.Abs(f[contracts.FeatureDeltaZ]) > cfg.SpeedMax
		reverted := false
		if !broken {
			for j := i + 1; j < horizon; j++ {
				if math.Abs(features[j][contracts.FeatureDeltaZ]) > cfg.SpeedMax {
					broken = true
					break
				}
				if math.Abs(features[j][contracts.FeatureZ]) <= cfg.ExitZ {
					reverted = true
					break
				}
			}
		}

		if broken {
			continue // excluded, stays AI1Eligible=false
		}

		samples[i].AI1Eligible = true
		if reverted {
			samples[i].LabelAI1 = 1
		}
		// Direction: short the spread when z is high, long when low.
		if z > 0 {
			samples[i].Direction = contracts.SideShort
		} else {
			samples[i].Direction = contracts.SideLong
		}
	}
}

// labelAI2 is the avoidance rule: any single structural-risk trigger flags
// the bar, regardless of the others.
func (l *Labeler) labelAI2(f contracts.FeatureVector) int {
	cfg := l.config
	if f[contracts.FeatureRhoVar] > cfg.RhoVarMax ||
		f[contracts.FeatureATRRatio] > cfg.ATRRatioMax ||
		math.Abs(f[contracts.FeatureDeltaZ]) > cfg.SpeedMax ||
		f[contracts.FeatureDrawdown] > cfg.DrawdownMax {
		return 1
	}
	return 0
}

// scaleTarget derives the AI3 position-scale target in [0,1] from the two
// labels: more flagged risk means smaller scale.
func scaleTarget(s contracts.LabeledSample) float64 {
	ai1 := 0.0
	if s.AI1Eligible {
		ai1 = float64(s.LabelAI1)
	}
	risk := (ai1 + float64(s.LabelAI2)) / 2.0
	target := 1.0 - risk
	if target < 0 {
		return 0
	}
	if target > 1 {
		return 1
	}
	return target
}

// applyClassWeights assigns the capped positive-class weight to eligible
// AI1 positives.
func (l *Labeler) applyClassWeights(samples []contracts.LabeledSample) {
	var pos, neg int
	for _, s := range samples {
		if !s.AI1Eligible {
			continue
		}
		if s.LabelAI1 == 1 {
			pos++
		} else {
			neg++
		}
	}

	w := PositiveClassWeight(pos, neg, l.config.MaxClassWeight)
	for i := range samples {
		if samples[i].AI1Eligible && samples[i].LabelAI1 == 1 {
			samples[i].Weight = w
		}
	}
}

// PositiveClassWeight returns the imbalance-correcting weight for the
// positive class, capped to bound the correction (1:maxWeight).
func PositiveClassWeight(pos, neg int, maxWeight float64) float64 {
	if pos == 0 || neg == 0 {
		return 1.0
	}
	w := float64(neg) / float64(pos)
	if w > maxWeight {
		return maxWeight
	}
	if w < 1.0 {
		return 1.0
	}
	return w
}
