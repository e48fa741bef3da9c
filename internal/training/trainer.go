package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/labeling"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/pkg/logger"
)

// CalibratedModel pairs a fitted classifier with its isotonic mapping.
type CalibratedModel struct {
	Base Model
	Cal  *Calibrator
}

// PredictProb returns the calibrated probability for one bar.
func (m *CalibratedModel) PredictProb(fv contracts.FeatureVector) float64 {
	return m.Cal.Transform(m.Base.PredictProb(fv))
}

// Result is a completed training run: the artifact record plus the two
// deployable models. Paths on the artifact are filled in by the store.
type Result struct {
	Artifact contracts.ModelArtifact
	AI1      *CalibratedModel
	AI2      *CalibratedModel
}

// RunParams identify a training run for provenance.
type RunParams struct {
	UniverseID string
	CreatedBy  string
	CodeHash   string
}

// Trainer fits the AI1/AI2 classifier pair over a split plan, calibrates
// per fold, and assembles the versioned artifact. A run is fully
// reproducible from (samples, config, seed).
type Trainer struct {
	config  strategy.Training
	backend Backend
	log     zerolog.Logger
}

// New builds a Trainer with the default logistic backend when backend is
// nil.
func New(cfg strategy.Training, backend Backend, log *logger.Logger) *Trainer {
	if backend == nil {
		backend = &LogisticBackend{Params: LogisticParams{
			LearningRate: cfg.LearningRate,
			Epochs:       cfg.Epochs,
			L2:           cfg.L2,
		}}
	}
	return &Trainer{
		config:  cfg,
		backend: backend,
		log:     log.Zerolog().With().Str("component", "training.trainer").Logger(),
	}
}

// foldData is the materialized train/validation matrices for one role in
// one fold.
type foldData struct {
	trainX  [][]float64
	trainY  []int
	trainW  []float64
	valX    []contracts.FeatureVector
	valY    []int
	valRows int
}

// Run executes the training stage. Fold failures are isolated: a failed
// fold is recorded and skipped, and the run fails only when the
// aggregated metrics are unsound.
func (t *Trainer) Run(ctx context.Context, params RunParams, samples []contracts.LabeledSample, plan contracts.SplitPlan) (*Result, error) {
	if len(samples) == 0 {
		return nil, contracts.NewFault(contracts.ReasonTrainingFailure, contracts.StageTraining, "no labeled samples")
	}
	if err := plan.Validate(); err != nil {
		return nil, contracts.WrapFault(contracts.ReasonTrainingFailure, contracts.StageTraining, err, "invalid split plan")
	}

	t.log.Info().
		Str("universe_id", params.UniverseID).
		Int("samples", len(samples)).
		Int("folds", len(plan.Splits)).
		Str("mode", string(plan.Mode)).
		Msg("training run started")

	var folds []contracts.FoldMetrics
	var ai1AUC, ai1LL, ai1F1, ai1Cal []float64
	var ai2AUC, ai2LL, ai2F1, ai2Cal []float64
	ai1Succeeded, ai2Succeeded := 0, 0

	// Pooled out-of-fold raw scores for final-model calibration.
	var poolAI1Scores, poolAI2Scores []float64
	var poolAI1Labels, poolAI2Labels []int

	for _, split := range plan.Splits {
		if err := ctx.Err(); err != nil {
			return nil, contracts.WrapFault(contracts.ReasonTrainingFailure, contracts.StageTraining, err, "run cancelled")
		}
		seed := t.config.Seed + int64(split.Fold)

		ai1 := assembleFold(samples, split, contracts.RoleAI1)
		fm1, model1 := t.fitFold(split.Fold, contracts.RoleAI1, ai1, seed)
		folds = append(folds, fm1)
		if !fm1.Failed {
			ai1Succeeded++
			ai1AUC = append(ai1AUC, fm1.AUC)
			ai1LL = append(ai1LL, fm1.LogLoss)
			ai1F1 = append(ai1F1, fm1.F1)
			ai1Cal = append(ai1Cal, fm1.CalibrationError)
			for i, fv := range ai1.valX {
				poolAI1Scores = append(poolAI1Scores, model1.PredictProb(fv))
				poolAI1Labels = append(poolAI1Labels, ai1.valY[i])
			}
		}

		ai2 := assembleFold(samples, split, contracts.RoleAI2)
		fm2, model2 := t.fitFold(split.Fold, contracts.RoleAI2, ai2, seed)
		folds = append(folds, fm2)
		if !fm2.Failed {
			ai2Succeeded++
			ai2AUC = append(ai2AUC, fm2.AUC)
			ai2LL = append(ai2LL, fm2.LogLoss)
			ai2F1 = append(ai2F1, fm2.F1)
			ai2Cal = append(ai2Cal, fm2.CalibrationError)
			for i, fv := range ai2.valX {
				poolAI2Scores = append(poolAI2Scores, model2.PredictProb(fv))
				poolAI2Labels = append(poolAI2Labels, ai2.valY[i])
			}
		}
	}

	metricsAI1 := aggregate(len(plan.Splits), ai1Succeeded, ai1AUC, ai1LL, ai1F1, ai1Cal)
	metricsAI2 := aggregate(len(plan.Splits), ai2Succeeded, ai2AUC, ai2LL, ai2F1, ai2Cal)

	if !metricsAI1.Sound(t.config.MaxCalError) {
		return nil, contracts.NewFault(contracts.ReasonTrainingFailure, contracts.StageTraining,
			"ai1 metrics unsound: %d/%d folds succeeded, mean_auc=%.4f, mean_cal_error=%.4f",
			metricsAI1.FoldsSucceeded, metricsAI1.FoldsTotal, metricsAI1.MeanAUC, metricsAI1.MeanCalError)
	}
	if !metricsAI2.Sound(t.config.MaxCalError) {
		return nil, contracts.NewFault(contracts.ReasonTrainingFailure, contracts.StageTraining,
			"ai2 metrics unsound: %d/%d folds succeeded, mean_auc=%.4f, mean_cal_error=%.4f",
			metricsAI2.FoldsSucceeded, metricsAI2.FoldsTotal, metricsAI2.MeanAUC, metricsAI2.MeanCalError)
	}

	// Deployable models: refit on all bars, calibrated on the pooled
	// out-of-fold scores so calibration never sees training rows.
	final1, err := t.fitFinal(samples, contracts.RoleAI1, poolAI1Scores, poolAI1Labels)
	if err != nil {
		return nil, contracts.WrapFault(contracts.ReasonTrainingFailure, contracts.StageTraining, err, "ai1 final fit failed")
	}
	final2, err := t.fitFinal(samples, contracts.RoleAI2, poolAI2Scores, poolAI2Labels)
	if err != nil {
		return nil, contracts.WrapFault(contracts.ReasonTrainingFailure, contracts.StageTraining, err, "ai2 final fit failed")
	}

	now := time.Now().UTC()
	artifact := contracts.ModelArtifact{
		Version:    fmt.Sprintf("m%s-%s", now.Format("20060102T150405"), uuid.NewString()[:8]),
		UniverseID: params.UniverseID,
		CreatedAt:  now,
		CreatedBy:  params.CreatedBy,
		DataHash:   labeling.LabelSetHash(samples),
		CodeHash:   params.CodeHash,
		Seed:       t.config.Seed,
		MetricsAI1: metricsAI1,
		MetricsAI2: metricsAI2,
		Folds:      folds,
	}
	if err := artifact.Validate(); err != nil {
		return nil, contracts.WrapFault(contracts.ReasonTrainingFailure, contracts.StageTraining, err, "artifact validation failed")
	}

	t.log.Info().
		Str("version", artifact.Version).
		Float64("ai1_mean_auc", metricsAI1.MeanAUC).
		Float64("ai2_mean_auc", metricsAI2.MeanAUC).
		Int("ai1_folds_ok", ai1Succeeded).
		Int("ai2_folds_ok", ai2Succeeded).
		Msg("training run completed")

	return &Result{Artifact: artifact, AI1: final1, AI2: final2}, nil
}

// fitFold trains and calibrates one (fold, role) pair. Failures return a
// failed FoldMetrics instead of an error.
func (t *Trainer) fitFold(fold int, role contracts.ModelRole, data foldData, seed int64) (contracts.FoldMetrics, Model) {
	fm := contracts.FoldMetrics{Fold: fold, Role: role, Samples: data.valRows}

	if len(data.trainX) == 0 || data.valRows == 0 {
		fm.Failed = true
		fm.FailReason = "empty train or validation split"
		t.log.Warn().Int("fold", fold).Str("role", string(role)).Msg("fold skipped: empty split")
		return fm, nil
	}

	model, err := t.backend.Fit(data.trainX, data.trainY, data.trainW, seed)
	if err != nil {
		fm.Failed = true
		fm.FailReason = err.Error()
		t.log.Warn().Int("fold", fold).Str("role", string(role)).Err(err).Msg("fold fit failed")
		return fm, nil
	}

	rawScores := make([]float64, data.valRows)
	for i, fv := range data.valX {
		rawScores[i] = model.PredictProb(fv)
	}

	// Calibration fits on this fold's validation split only.
	cal, err := FitCalibrator(rawScores, data.valY)
	if err != nil {
		fm.Failed = true
		fm.FailReason = err.Error()
		return fm, nil
	}
	probs := cal.TransformAll(rawScores)

	var pos int
	for _, y := range data.valY {
		pos += y
	}
	fm.AUC = auc(probs, data.valY)
	fm.LogLoss = logLoss(probs, data.valY, nil)
	fm.F1 = f1Score(probs, data.valY)
	fm.CalibrationError = expectedCalibrationError(probs, data.valY)
	fm.PositiveRate = float64(pos) / float64(data.valRows)
	return fm, model
}

// fitFinal refits on the full sample set and calibrates on pooled
// out-of-fold predictions.
func (t *Trainer) fitFinal(samples []contracts.LabeledSample, role contracts.ModelRole, poolScores []float64, poolLabels []int) (*CalibratedModel, error) {
	rows, labels, weights := roleRows(samples, role)
	if len(rows) == 0 {
		return nil, fmt.Errorf("no eligible rows for %s", role)
	}
	model, err := t.backend.Fit(featureMatrix(rows), labels, weights, t.config.Seed)
	if err != nil {
		return nil, err
	}
	cal, err := FitCalibrator(poolScores, poolLabels)
	if err != nil {
		return nil, fmt.Errorf("pooled calibration for %s: %w", role, err)
	}
	return &CalibratedModel{Base: model, Cal: cal}, nil
}

// roleRows selects the rows, labels, and weights a role trains on. AI1
// sees only eligible episodes (regime-broken bars are excluded entirely)
// and carries the capped class weights; AI2 sees every bar unweighted.
func roleRows(samples []contracts.LabeledSample, role contracts.ModelRole) ([]contracts.LabeledSample, []int, []float64) {
	var rows []contracts.LabeledSample
	var labels []int
	var weights []float64
	for _, s := range samples {
		switch role {
		case contracts.RoleAI1:
			if !s.AI1Eligible {
				continue
			}
			rows = append(rows, s)
			labels = append(labels, s.LabelAI1)
			weights = append(weights, s.Weight)
		case contracts.RoleAI2:
			rows = append(rows, s)
			labels = append(labels, s.LabelAI2)
		}
	}
	if role == contracts.RoleAI2 {
		return rows, labels, nil
	}
	return rows, labels, weights
}

// assembleFold materializes one fold's matrices for a role using the
// split's index ranges over the bar-ordered sample slice.
func assembleFold(samples []contracts.LabeledSample, split contracts.Split, role contracts.ModelRole) foldData {
	inTrain := func(i int) bool {
		for _, r := range split.Train {
			if r.Contains(i) {
				return true
			}
		}
		return false
	}

	var data foldData
	for i, s := range samples {
		isVal := split.Validation.Contains(i)
		if !isVal && !inTrain(i) {
			continue
		}
		if role == contracts.RoleAI1 && !s.AI1Eligible {
			continue
		}

		var label int
		weight := 1.0
		if role == contracts.RoleAI1 {
			label = s.LabelAI1
			weight = s.Weight
		} else {
			label = s.LabelAI2
		}

		if isVal {
			data.valX = append(data.valX, s.Features)
			data.valY = append(data.valY, label)
			data.valRows++
			continue
		}

		row := make([]float64, len(contracts.RequiredFeatureKeys))
		for j, key := range contracts.RequiredFeatureKeys {
			row[j] = s.Features[key]
		}
		data.trainX = append(data.trainX, row)
		data.trainY = append(data.trainY, label)
		data.trainW = append(data.trainW, weight)
	}
	if role == contracts.RoleAI2 {
		data.trainW = nil
	}
	return data
}

// aggregate folds per-fold metric slices into the artifact payload.
func aggregate(total, succeeded int, aucs, lls, f1s, cals []float64) contracts.AggregateMetrics {
	meanAUC, varAUC := meanVar(aucs)
	meanLL, _ := meanVar(lls)
	meanF1, _ := meanVar(f1s)
	meanCal, _ := meanVar(cals)
	return contracts.AggregateMetrics{
		FoldsTotal:     total,
		FoldsSucceeded: succeeded,
		MeanAUC:        meanAUC,
		VarAUC:         varAUC,
		MeanLogLoss:    meanLL,
		MeanF1:         meanF1,
		MeanCalError:   meanCal,
	}
}
