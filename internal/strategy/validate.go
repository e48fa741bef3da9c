package strategy

import "fmt"

// ValidationError is a hard configuration violation (program abort).
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all required constraints.
// Returns an error on failure; the process must not start with a partial
// or defaulted strategy config.
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}
	if cfg.Meta.UniverseID == "" {
		return ValidationError{"meta.universe_id", "required"}
	}

	// === Quality ===
	if cfg.Quality.MaxMissingRate <= 0 || cfg.Quality.MaxMissingRate > 1 {
		return ValidationError{"quality.max_missing_rate", "must be in (0, 1]"}
	}
	if cfg.Quality.MaxOutlierRate <= 0 || cfg.Quality.MaxOutlierRate > 1 {
		return ValidationError{"quality.max_outlier_rate", "must be in (0, 1]"}
	}
	if cfg.Quality.MinRows <= 0 {
		return ValidationError{"quality.min_rows", "must be > 0"}
	}

	// === Labeling ===
	if cfg.Labeling.EntryZ <= cfg.Labeling.ExitZ {
		return ValidationError{"labeling.entry_z", "must exceed exit_z"}
	}
	if cfg.Labeling.Lookahead <= 0 {
		return ValidationError{"labeling.lookahead", "must be > 0"}
	}
	if cfg.Labeling.SpeedMax <= 0 {
		return ValidationError{"labeling.speed_max", "must be > 0"}
	}
	if cfg.Labeling.MaxClassWeight < 1 {
		return ValidationError{"labeling.max_class_weight", "must be >= 1"}
	}

	// === Validation ===
	if cfg.Validation.Folds < 2 {
		return ValidationError{"validation.folds", "must be >= 2"}
	}
	if cfg.Validation.PurgeBars < 0 || cfg.Validation.EmbargoBars < 0 {
		return ValidationError{"validation.purge_bars", "purge/embargo must be >= 0"}
	}
	if cfg.Validation.MinBlockBars <= cfg.Validation.PurgeBars+cfg.Validation.EmbargoBars {
		return ValidationError{"validation.min_block_bars", "must exceed purge + embargo"}
	}
	if cfg.Validation.MinTrailingDays <= 0 {
		return ValidationError{"validation.min_trailing_days", "must be > 0"}
	}

	// === Training ===
	if cfg.Training.LearningRate <= 0 {
		return ValidationError{"training.learning_rate", "must be > 0"}
	}
	if cfg.Training.Epochs <= 0 {
		return ValidationError{"training.epochs", "must be > 0"}
	}
	if cfg.Training.MaxCalError <= 0 {
		return ValidationError{"training.max_cal_error", "must be > 0"}
	}

	// === Theta ===
	if cfg.Theta.Theta1Min >= cfg.Theta.Theta1Max {
		return ValidationError{"theta.theta1_min", "must be < theta1_max"}
	}
	if cfg.Theta.Theta2Min >= cfg.Theta.Theta2Max {
		return ValidationError{"theta.theta2_min", "must be < theta2_max"}
	}
	if cfg.Theta.GridStep <= 0 {
		return ValidationError{"theta.grid_step", "must be > 0"}
	}
	if cfg.Theta.MinTrials <= 0 || cfg.Theta.MaxTrials < cfg.Theta.MinTrials {
		return ValidationError{"theta.max_trials", "need 0 < min_trials <= max_trials"}
	}
	if cfg.Theta.EarlyStop <= 0 {
		return ValidationError{"theta.early_stop", "must be > 0"}
	}
	if cfg.Theta.MaxDelta <= 0 {
		return ValidationError{"theta.max_delta", "must be > 0"}
	}
	if cfg.Theta.SmoothANew <= 0 || cfg.Theta.SmoothANew > 1 {
		return ValidationError{"theta.smooth_new", "must be in (0, 1]"}
	}
	if cfg.Theta.CIConfidence <= 0 || cfg.Theta.CIConfidence >= 1 {
		return ValidationError{"theta.ci_confidence", "must be in (0, 1)"}
	}

	// === Lifecycle ===
	if cfg.Lifecycle.MinSharpe <= 0 {
		return ValidationError{"lifecycle.min_sharpe", "must be > 0"}
	}
	if cfg.Lifecycle.MaxDrawdown <= 0 || cfg.Lifecycle.MaxDrawdown >= 1 {
		return ValidationError{"lifecycle.max_drawdown", "must be in (0, 1)"}
	}
	if cfg.Lifecycle.SharpeRatioMin <= 0 || cfg.Lifecycle.SharpeRatioMin > 1 {
		return ValidationError{"lifecycle.sharpe_ratio_min", "must be in (0, 1]"}
	}
	if cfg.Lifecycle.RollbackSharpeDrop <= 0 || cfg.Lifecycle.RollbackSharpeDrop >= 1 {
		return ValidationError{"lifecycle.rollback_sharpe_drop", "must be in (0, 1)"}
	}
	if cfg.Lifecycle.MinRetainedVersions < 1 {
		return ValidationError{"lifecycle.min_retained_versions", "must be >= 1"}
	}
	if cfg.Lifecycle.RunLockTTL <= 0 {
		return ValidationError{"lifecycle.run_lock_ttl", "must be > 0"}
	}

	return nil
}
