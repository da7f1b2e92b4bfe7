// Package calibrate derives decision thresholds separating genuine from
// impostor scores, for both modalities, purely from stored embeddings.
package calibrate

import (
	"math"
	"sort"
)

// ROCCurve computes false- and true-positive rates over descending
// distinct score thresholds. labels holds 1 for genuine and 0 for
// impostor; scores are similarity values where higher means more
// genuine. One point is emitted per distinct score. With no positives or
// no negatives the corresponding rate is NaN for every point.
func ROCCurve(labels []int, scores []float64) (fpr, tpr, thresholds []float64) {
	n := len(scores)
	if n == 0 || len(labels) != n {
		return nil, nil, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	var totalPos, totalNeg float64
	for _, l := range labels {
		if l == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}

	var tp, fp float64
	for i, idx := range order {
		if labels[idx] == 1 {
			tp++
		} else {
			fp++
		}
		// Emit a point once all items sharing this score are counted.
		if i+1 < n && scores[order[i+1]] == scores[idx] {
			continue
		}
		thresholds = append(thresholds, scores[idx])
		tpr = append(tpr, tp/totalPos)
		fpr = append(fpr, fp/totalNeg)
	}

	return fpr, tpr, thresholds
}

// EERIndex returns the index of the point minimizing |(1-TPR)-FPR|, the
// equal-error criterion. Ties break to the first occurrence and NaN
// points are skipped. Returns -1 when no valid point exists.
func EERIndex(fpr, tpr []float64) int {
	best := -1
	bestDiff := math.Inf(1)
	for i := range fpr {
		diff := math.Abs((1 - tpr[i]) - fpr[i])
		if math.IsNaN(diff) {
			continue
		}
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best
}
