package strategy

import "time"

// Config is the full strategy configuration: every rule constant the
// retraining and decision pipeline depends on, resolved once at process
// start. Absence of a required key is a startup-time fatal error.
type Config struct {
	Meta       Meta       `yaml:"meta" json:"meta"`
	Quality    Quality    `yaml:"quality" json:"quality"`
	Labeling   Labeling   `yaml:"labeling" json:"labeling"`
	Validation Validation `yaml:"validation" json:"validation"`
	Training   Training   `yaml:"training" json:"training"`
	Theta      Theta      `yaml:"theta" json:"theta"`
	Lifecycle  Lifecycle  `yaml:"lifecycle" json:"lifecycle"`
}

// Meta identifies the strategy revision.
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	UniverseID string `yaml:"universe_id" json:"universe_id"`
}

// Quality holds the S0 gate thresholds.
type Quality struct {
	MaxMissingRate float64 `yaml:"max_missing_rate" json:"max_missing_rate"`
	MaxOutlierRate float64 `yaml:"max_outlier_rate" json:"max_outlier_rate"`
	MinRows        int     `yaml:"min_rows" json:"min_rows"`
}

// Labeling holds the S1 rule constants.
type Labeling struct {
	// AI1 directional reversion rule
	EntryZ    float64 `yaml:"entry_z" json:"entry_z"`       // |z| episode start, 2.0
	ExitZ     float64 `yaml:"exit_z" json:"exit_z"`         // |z| reversion target, 0.5
	Lookahead int     `yaml:"lookahead" json:"lookahead"`   // M bars, 48
	SpeedMax  float64 `yaml:"speed_max" json:"speed_max"`   // EMA|Δz| regime-break limit, 0.12

	// AI2 avoidance rule
	RhoVarMax   float64 `yaml:"rho_var_max" json:"rho_var_max"`     // 0.025
	ATRRatioMax float64 `yaml:"atr_ratio_max" json:"atr_ratio_max"` // 1.8
	DrawdownMax float64 `yaml:"drawdown_max" json:"drawdown_max"`   // 0.07

	// MaxClassWeight caps positive-class weighting (1:5).
	MaxClassWeight float64 `yaml:"max_class_weight" json:"max_class_weight"`
}

// Validation holds the S2 split-plan parameters.
type Validation struct {
	Folds           int `yaml:"folds" json:"folds"`                         // K=5
	PurgeBars       int `yaml:"purge_bars" json:"purge_bars"`               // 24
	EmbargoBars     int `yaml:"embargo_bars" json:"embargo_bars"`           // 24
	MinBlockBars    int `yaml:"min_block_bars" json:"min_block_bars"`       // 240
	MinTrailingDays int `yaml:"min_trailing_days" json:"min_trailing_days"` // 360
}

// Training holds the S3 trainer parameters.
type Training struct {
	Seed           int64   `yaml:"seed" json:"seed"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	Epochs         int     `yaml:"epochs" json:"epochs"`
	L2             float64 `yaml:"l2" json:"l2"`
	MaxCalError    float64 `yaml:"max_cal_error" json:"max_cal_error"`
}

// Theta holds the S4 optimizer parameters.
type Theta struct {
	Theta1Min float64 `yaml:"theta1_min" json:"theta1_min"` // 0.60
	Theta1Max float64 `yaml:"theta1_max" json:"theta1_max"` // 0.85
	Theta2Min float64 `yaml:"theta2_min" json:"theta2_min"` // 0.20
	Theta2Max float64 `yaml:"theta2_max" json:"theta2_max"` // 0.45

	GridStep      float64 `yaml:"grid_step" json:"grid_step"`           // 0.05
	MinTrials     int     `yaml:"min_trials" json:"min_trials"`         // 50
	MaxTrials     int     `yaml:"max_trials" json:"max_trials"`         // 100
	EarlyStop     int     `yaml:"early_stop" json:"early_stop"`         // 15 trials without improvement
	LambdaDD      float64 `yaml:"lambda_dd" json:"lambda_dd"`           // 2.0
	LambdaTrades  float64 `yaml:"lambda_trades" json:"lambda_trades"`   // 0.05
	LambdaStop    float64 `yaml:"lambda_stop" json:"lambda_stop"`       // 0.10
	MaxDDTarget   float64 `yaml:"max_dd_target" json:"max_dd_target"`   // 0.12
	MinTradesYear float64 `yaml:"min_trades_year" json:"min_trades_year"` // 150

	// Stability constraints for adopting a new pair.
	MaxDelta      float64 `yaml:"max_delta" json:"max_delta"`           // 0.03 per cycle
	SmoothANew    float64 `yaml:"smooth_new" json:"smooth_new"`         // 0.7
	MinSamples    int     `yaml:"min_samples" json:"min_samples"`       // supporting window floor
	CIConfidence  float64 `yaml:"ci_confidence" json:"ci_confidence"`   // 0.95
}

// Lifecycle holds the S5 promotion gates and rollback triggers.
type Lifecycle struct {
	MinSharpe       float64 `yaml:"min_sharpe" json:"min_sharpe"`             // 1.2
	MaxDrawdown     float64 `yaml:"max_drawdown" json:"max_drawdown"`         // 0.12
	MinTradesYear   float64 `yaml:"min_trades_year" json:"min_trades_year"`   // 150
	SharpeRatioMin  float64 `yaml:"sharpe_ratio_min" json:"sharpe_ratio_min"` // non-inferiority 0.95
	MaxDDSlack      float64 `yaml:"max_dd_slack" json:"max_dd_slack"`         // +0.03

	// Live rollback triggers vs the version's own backtest baseline.
	RollbackSharpeDrop float64 `yaml:"rollback_sharpe_drop" json:"rollback_sharpe_drop"` // 0.20
	RollbackDDRise     float64 `yaml:"rollback_dd_rise" json:"rollback_dd_rise"`         // 0.03

	MinRetainedVersions int `yaml:"min_retained_versions" json:"min_retained_versions"` // 5

	// RunLockTTL bounds a retraining run's mutual exclusion window.
	RunLockTTL time.Duration `yaml:"run_lock_ttl" json:"run_lock_ttl"`
}
