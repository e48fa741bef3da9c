package training

import (
	"fmt"
	"sort"
)

// Calibrator maps raw scores to calibrated probabilities via isotonic
// regression fitted with the pool-adjacent-violators algorithm. The
// fitted mapping is a non-decreasing step function.
type Calibrator struct {
	Thresholds []float64 `json:"thresholds"`
	Values     []float64 `json:"values"`
}

// FitCalibrator fits isotonic regression on (score, label) pairs.
// Fitting data must come from a validation split the model never
// trained on.
func FitCalibrator(scores []float64, labels []int) (*Calibrator, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return nil, fmt.Errorf("calibration set: %d scores, %d labels", len(scores), len(labels))
	}

	type point struct {
		score float64
		label float64
	}
	points := make([]point, len(scores))
	for i := range scores {
		points[i] = point{scores[i], float64(labels[i])}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].score < points[j].score })

	// PAV over blocks: merge adjacent blocks until values are
	// non-decreasing.
	type block struct {
		value  float64
		weight float64
		min    float64
	}
	blocks := make([]block, 0, len(points))
	for _, p := range points {
		blocks = append(blocks, block{value: p.label, weight: 1, min: p.score})
		for len(blocks) >= 2 {
			last := len(blocks) - 1
			if blocks[last-1].value <= blocks[last].value {
				break
			}
			merged := block{
				value:  (blocks[last-1].value*blocks[last-1].weight + blocks[last].value*blocks[last].weight) / (blocks[last-1].weight + blocks[last].weight),
				weight: blocks[last-1].weight + blocks[last].weight,
				min:    blocks[last-1].min,
			}
			blocks = blocks[:last-1]
			blocks = append(blocks, merged)
		}
	}

	cal := &Calibrator{
		Thresholds: make([]float64, len(blocks)),
		Values:     make([]float64, len(blocks)),
	}
	for i, b := range blocks {
		cal.Thresholds[i] = b.min
		cal.Values[i] = b.value
	}
	return cal, nil
}

// Transform maps a raw score to its calibrated probability.
func (c *Calibrator) Transform(score float64) float64 {
	// Last block whose lower bound does not exceed the score.
	idx := sort.SearchFloat64s(c.Thresholds, score)
	if idx < len(c.Thresholds) && c.Thresholds[idx] == score {
		return c.Values[idx]
	}
	if idx == 0 {
		return c.Values[0]
	}
	return c.Values[idx-1]
}

// TransformAll maps a batch of scores.
func (c *Calibrator) TransformAll(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = c.Transform(s)
	}
	return out
}
