package contracts

// Pipeline stage constants (SSOT)
// Every log line, snapshot, and DB row uses these constants.
//
// Pipeline flow:
//   S0 → S1 → S2 → S3 → S4 → S5 → S6
//   Quality  Labeling  Validation  Training  Theta  Lifecycle  Decision

// Stage represents a pipeline stage
type Stage string

const (
	// StageQuality S0: dataset partition quality gating
	// Location: internal/quality/
	StageQuality Stage = "S0_QUALITY"

	// StageLabeling S1: rule-based label derivation
	// Location: internal/labeling/
	StageLabeling Stage = "S1_LABELING"

	// StageValidation S2: leakage-safe split planning
	// Location: internal/validation/
	StageValidation Stage = "S2_VALIDATION"

	// StageTraining S3: per-fold fit and calibration
	// Location: internal/training/
	StageTraining Stage = "S3_TRAINING"

	// StageTheta S4: constrained threshold optimization
	// Location: internal/theta/
	StageTheta Stage = "S4_THETA"

	// StageLifecycle S5: model version promotion and rollback
	// Location: internal/lifecycle/
	StageLifecycle Stage = "S5_LIFECYCLE"

	// StageDecision S6: live signal generation
	// Location: internal/decision/
	StageDecision Stage = "S6_DECISION"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}
