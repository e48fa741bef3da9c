package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/jmlee/statarb/internal/contracts"
)

// Model scores a single feature vector. Implementations must be
// deterministic once fitted.
type Model interface {
	PredictProb(fv contracts.FeatureVector) float64
}

// Backend fits a binary classifier on a training matrix. Implementations
// must be fully determined by (data, params, seed).
type Backend interface {
	Fit(features [][]float64, labels []int, weights []float64, seed int64) (Model, error)
}

// featureMatrix flattens feature vectors into rows with a fixed column
// order so fitted weights line up across processes.
func featureMatrix(samples []contracts.LabeledSample) [][]float64 {
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		row := make([]float64, len(contracts.RequiredFeatureKeys))
		for j, key := range contracts.RequiredFeatureKeys {
			row[j] = s.Features[key]
		}
		rows[i] = row
	}
	return rows
}

// LogisticParams configure the default SGD backend.
type LogisticParams struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

// LogisticBackend is the default learner: a weighted logistic regression
// fitted with seeded SGD. Identical inputs and seed produce identical
// weights.
type LogisticBackend struct {
	Params LogisticParams
}

// Fit trains the model. Returns an error when a class is empty or when
// the loss diverges.
func (b *LogisticBackend) Fit(features [][]float64, labels []int, weights []float64, seed int64) (Model, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("empty training set")
	}
	var pos, neg int
	for _, l := range labels {
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, fmt.Errorf("degenerate training set: pos=%d neg=%d", pos, neg)
	}

	dim := len(features[0])
	w := make([]float64, dim)
	var bias float64

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, len(features))
	for i := range order {
		order[i] = i
	}

	lr := b.Params.LearningRate
	for epoch := 0; epoch < b.Params.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for _, idx := range order {
			x := features[idx]
			y := float64(labels[idx])
			sw := 1.0
			if weights != nil {
				sw = weights[idx]
			}

			z := bias
			for j := range x {
				z += w[j] * x[j]
			}
			p := sigmoid(z)
			grad := sw * (p - y)

			for j := range w {
				w[j] -= lr * (grad*x[j] + b.Params.L2*w[j])
			}
			bias -= lr * grad

			const eps = 1e-12
			pc := math.Min(math.Max(p, eps), 1-eps)
			epochLoss += -sw * (y*math.Log(pc) + (1-y)*math.Log(1-pc))
		}

		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return nil, fmt.Errorf("training diverged at epoch %d", epoch)
		}
	}

	return &LogisticModel{Weights: w, Bias: bias}, nil
}

// LogisticModel is the fitted form of LogisticBackend. Fields are
// exported for artifact serialization.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func (m *LogisticModel) PredictProb(fv contracts.FeatureVector) float64 {
	z := m.Bias
	for j, key := range contracts.RequiredFeatureKeys {
		z += m.Weights[j] * fv[key]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}
