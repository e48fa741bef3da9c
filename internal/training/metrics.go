package training

import (
	"math"
	"sort"
)

// auc computes the area under the ROC curve by the rank-sum method.
// Returns NaN for degenerate label distributions.
func auc(scores []float64, labels []int) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(scores))
	for i := range scores {
		pairs[i] = pair{scores[i], labels[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	var pos, neg int
	var rankSum float64
	i := 0
	for i < len(pairs) {
		// Tied scores share the average rank.
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			if pairs[k].label == 1 {
				rankSum += avgRank
				pos++
			} else {
				neg++
			}
		}
		i = j
	}

	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	return (rankSum - float64(pos)*float64(pos+1)/2.0) / (float64(pos) * float64(neg))
}

// logLoss computes the weighted negative log likelihood.
func logLoss(probs []float64, labels []int, weights []float64) float64 {
	const eps = 1e-12
	var total, weightSum float64
	for i, p := range probs {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		p = math.Min(math.Max(p, eps), 1-eps)
		if labels[i] == 1 {
			total += -w * math.Log(p)
		} else {
			total += -w * math.Log(1-p)
		}
		weightSum += w
	}
	if weightSum == 0 {
		return math.NaN()
	}
	return total / weightSum
}

// f1Score computes the F1 at a 0.5 decision point.
func f1Score(probs []float64, labels []int) float64 {
	var tp, fp, fn float64
	for i, p := range probs {
		predicted := p >= 0.5
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall)
}

// expectedCalibrationError computes a 10-bin ECE: the weighted mean gap
// between predicted probability and observed frequency per bin.
func expectedCalibrationError(probs []float64, labels []int) float64 {
	const bins = 10
	var binCount [bins]float64
	var binProb [bins]float64
	var binPos [bins]float64

	for i, p := range probs {
		b := int(p * bins)
		if b >= bins {
			b = bins - 1
		}
		binCount[b]++
		binProb[b] += p
		binPos[b] += float64(labels[i])
	}

	n := float64(len(probs))
	if n == 0 {
		return math.NaN()
	}

	var ece float64
	for b := 0; b < bins; b++ {
		if binCount[b] == 0 {
			continue
		}
		gap := math.Abs(binProb[b]/binCount[b] - binPos[b]/binCount[b])
		ece += (binCount[b] / n) * gap
	}
	return ece
}

// meanVar returns the mean and population variance of xs, skipping NaNs.
func meanVar(xs []float64) (float64, float64) {
	var sum float64
	var n int
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		sum += x
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	mean := sum / float64(n)

	var varSum float64
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		d := x - mean
		varSum += d * d
	}
	return mean, varSum / float64(n)
}
