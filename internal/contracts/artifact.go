package contracts

import (
	"fmt"
	"math"
	"time"
)

// ModelRole distinguishes the two classifiers in an artifact pair.
type ModelRole string

const (
	RoleAI1 ModelRole = "ai1" // return-probability model
	RoleAI2 ModelRole = "ai2" // risk/avoidance model
)

// FoldMetrics holds one fold's validation metrics.
type FoldMetrics struct {
	Fold             int       `json:"fold"`
	Role             ModelRole `json:"role"`
	Failed           bool      `json:"failed"`
	FailReason       string    `json:"fail_reason,omitempty"`
	AUC              float64   `json:"auc"`
	LogLoss          float64   `json:"log_loss"`
	F1               float64   `json:"f1"`
	CalibrationError float64   `json:"calibration_error"`
	PositiveRate     float64   `json:"positive_rate"`
	Samples          int       `json:"samples"`
}

// AggregateMetrics summarizes fold metrics (mean, variance) for the
// artifact's metrics payload.
type AggregateMetrics struct {
	FoldsTotal     int     `json:"folds_total"`
	FoldsSucceeded int     `json:"folds_succeeded"`
	MeanAUC        float64 `json:"mean_auc"`
	VarAUC         float64 `json:"var_auc"`
	MeanLogLoss    float64 `json:"mean_log_loss"`
	MeanF1         float64 `json:"mean_f1"`
	MeanCalError   float64 `json:"mean_cal_error"`
}

// Sound reports whether aggregated metrics meet the minimum soundness
// floors for promotion eligibility.
func (a AggregateMetrics) Sound(maxCalError float64) bool {
	if a.FoldsTotal == 0 || a.FoldsSucceeded*2 <= a.FoldsTotal {
		return false
	}
	if math.IsNaN(a.MeanAUC) {
		return false
	}
	return a.MeanCalError <= maxCalError
}

// BacktestMetrics is the baseline performance snapshot recorded at training
// time and compared against live performance for rollback triggers.
type BacktestMetrics struct {
	Sharpe        float64 `json:"sharpe"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	TradesPerYear float64 `json:"trades_per_year"`
	AnnualReturn  float64 `json:"annual_return"`
}

// ModelArtifact is a trained, calibrated classifier pair plus provenance.
// Immutable once persisted; versions are totally ordered by creation time.
type ModelArtifact struct {
	Version    string    `json:"version"`
	UniverseID string    `json:"universe_id"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by"`

	// Provenance hashes: training data and code.
	DataHash string `json:"data_hash"`
	CodeHash string `json:"code_hash"`
	Seed     int64  `json:"seed"`

	AI1Path string `json:"ai1_path"`
	AI2Path string `json:"ai2_path"`

	MetricsAI1 AggregateMetrics `json:"metrics_ai1"`
	MetricsAI2 AggregateMetrics `json:"metrics_ai2"`
	Folds      []FoldMetrics    `json:"folds"`

	// Baseline is the backtest snapshot at promotion time.
	Baseline BacktestMetrics `json:"baseline"`
}

// Validate checks required provenance fields.
func (m ModelArtifact) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.UniverseID == "" {
		return fmt.Errorf("universe_id is required")
	}
	if m.CreatedBy == "" {
		return fmt.Errorf("created_by is required")
	}
	if m.DataHash == "" {
		return fmt.Errorf("data_hash is required")
	}
	if m.CodeHash == "" {
		return fmt.Errorf("code_hash is required")
	}
	return nil
}
