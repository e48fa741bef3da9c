package contracts

import (
	"fmt"
	"time"
)

// Feature keys every labeled bar must carry. Missing keys are an error,
// never silently defaulted.
const (
	FeatureZ        = "z"
	FeatureDeltaZ   = "delta_z_ema"
	FeatureRhoVar   = "rho_var_180"
	FeatureATRRatio = "atr_ratio"
	FeatureDrawdown = "drawdown_recent"
)

// RequiredFeatureKeys lists the schema contract with upstream feature
// computation (the values themselves are computed out of process).
var RequiredFeatureKeys = []string{
	FeatureZ,
	FeatureDeltaZ,
	FeatureRhoVar,
	FeatureATRRatio,
	FeatureDrawdown,
}

// FeatureVector is one bar's feature map.
type FeatureVector map[string]float64

// Validate checks the schema contract.
func (f FeatureVector) Validate() error {
	for _, key := range RequiredFeatureKeys {
		if _, ok := f[key]; !ok {
			return fmt.Errorf("feature vector missing required key %q", key)
		}
	}
	return nil
}

// TradeSide is the direction of a labeling episode or signal leg.
type TradeSide string

const (
	SideLong  TradeSide = "long"
	SideShort TradeSide = "short"
)

// LabeledSample is a feature vector plus the two binary labels and the AI3
// scale target, derived deterministically from a partition. Immutable.
type LabeledSample struct {
	PairID    string        `json:"pair_id"`
	Timestamp time.Time     `json:"timestamp"`
	BarIndex  int           `json:"bar_index"`
	Features  FeatureVector `json:"features"`

	// LabelAI1 is the directional-reversion outcome; only meaningful when
	// AI1Eligible is true (episodes broken by regime shifts are excluded
	// entirely, neither 0 nor 1).
	LabelAI1    int       `json:"label_ai1"`
	AI1Eligible bool      `json:"ai1_eligible"`
	Direction   TradeSide `json:"direction,omitempty"`

	// LabelAI2 is the avoidance outcome.
	LabelAI2 int `json:"label_ai2"`

	// TargetAI3 is the position-scale regression target in [0,1].
	// No sizing model trains on it yet; the decision engine applies
	// the same mapping to live probabilities, and the stored target
	// keeps historical label sets complete for when one does.
	TargetAI3 float64 `json:"target_ai3"`

	// Weight is the class weight after the 1:5 imbalance cap.
	Weight float64 `json:"weight"`
}
