package contracts

import (
	"errors"
	"fmt"
)

// ReasonCode classifies failures across the pipeline (SSOT).
// Codes decide recovery scope: per-partition exclusion, per-fold isolation,
// retained previous state, or stop-the-line.
type ReasonCode string

const (
	// ReasonDataQuality covers quarantine and insufficient-history cases.
	// Excludes data; never aborts the run.
	ReasonDataQuality ReasonCode = "DATA_QUALITY"

	// ReasonTrainingFailure marks per-fold non-convergence or degenerate
	// label distributions. Isolated to the fold.
	ReasonTrainingFailure ReasonCode = "TRAINING_FAILURE"

	// ReasonOptimizationRejected marks a θ candidate that failed a
	// stability or CI guard. The previous θ pair is retained.
	ReasonOptimizationRejected ReasonCode = "OPTIMIZATION_REJECTED"

	// ReasonPromotionBlocked marks a version that missed a metric floor.
	// The version stays candidate or moves to rejected.
	ReasonPromotionBlocked ReasonCode = "PROMOTION_BLOCKED"

	// ReasonStaleInput marks suppressed signals (fail closed, not open).
	ReasonStaleInput ReasonCode = "STALE_INPUT"

	// ReasonLifecycleConflict marks a concurrent deploy attempt.
	// The existing deployment wins.
	ReasonLifecycleConflict ReasonCode = "LIFECYCLE_CONFLICT"
)

// Fault is an error carrying a pipeline reason code.
type Fault struct {
	Code    ReasonCode
	Stage   Stage
	Message string
	Err     error
}

// NewFault creates a Fault for the given code and stage.
func NewFault(code ReasonCode, stage Stage, format string, args ...interface{}) *Fault {
	return &Fault{
		Code:    code,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapFault wraps an underlying error with a reason code.
func WrapFault(code ReasonCode, stage Stage, err error, message string) *Fault {
	return &Fault{Code: code, Stage: stage, Message: message, Err: err}
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", f.Code, f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", f.Code, f.Stage, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// CodeOf extracts the reason code from an error chain, or "" if none.
func CodeOf(err error) ReasonCode {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}
