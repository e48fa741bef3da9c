package contracts

import (
	"fmt"
	"time"
)

// ThetaParams is the decision threshold pair plus its search provenance.
// One active ThetaParams is associated with each promoted artifact pair;
// only the threshold optimizer produces candidates and only the lifecycle
// manager adopts them.
type ThetaParams struct {
	Theta1 float64 `json:"theta1"` // entry threshold on return probability
	Theta2 float64 `json:"theta2"` // avoidance threshold on risk score

	// Provenance
	TrialID        string    `json:"trial_id"`
	ObjectiveScore float64   `json:"objective_score"`
	UpdatedAt      time.Time `json:"updated_at"`
	UpdatedBy      string    `json:"updated_by"`
	SourceVersion  string    `json:"source_model_version,omitempty"`

	// Constraint satisfaction flags recorded by the optimizer.
	DeltaOK   bool `json:"delta_ok"`
	SamplesOK bool `json:"samples_ok"`
	CIGuardOK bool `json:"ci_guard_ok"`
}

// Validate checks probability bounds and provenance.
func (t ThetaParams) Validate() error {
	if t.Theta1 < 0 || t.Theta1 > 1 {
		return fmt.Errorf("theta1 must be in [0,1], got %f", t.Theta1)
	}
	if t.Theta2 < 0 || t.Theta2 > 1 {
		return fmt.Errorf("theta2 must be in [0,1], got %f", t.Theta2)
	}
	if t.UpdatedBy == "" {
		return fmt.Errorf("updated_by is required")
	}
	return nil
}

// ThetaRange bounds the optimizer's search space.
type ThetaRange struct {
	Theta1Min float64 `yaml:"theta1_min" json:"theta1_min"`
	Theta1Max float64 `yaml:"theta1_max" json:"theta1_max"`
	Theta2Min float64 `yaml:"theta2_min" json:"theta2_min"`
	Theta2Max float64 `yaml:"theta2_max" json:"theta2_max"`
}

// Contains reports whether the pair lies inside the range.
func (r ThetaRange) Contains(theta1, theta2 float64) bool {
	return theta1 >= r.Theta1Min && theta1 <= r.Theta1Max &&
		theta2 >= r.Theta2Min && theta2 <= r.Theta2Max
}

// Clamp forces the pair into the range.
func (r ThetaRange) Clamp(theta1, theta2 float64) (float64, float64) {
	return clamp(theta1, r.Theta1Min, r.Theta1Max), clamp(theta2, r.Theta2Min, r.Theta2Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
