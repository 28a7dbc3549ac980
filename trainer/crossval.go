package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
)

// Metrics are pooled held-out classification metrics: sensitivity and
// specificity at the 0.5 operating point, and the rank-based ROC AUC.
type Metrics struct {
	Sensitivity float64
	Specificity float64
	AUC         float64
}

// CrossValidate scores the trainer on (x, y) with stratified k-fold
// resampling. Held-out predictions are pooled across folds and repeats
// before metrics are computed. Folds run sequentially on the given rng, so
// equal seeds give equal metrics.
func CrossValidate(ctx context.Context, tr Trainer, x [][]float32, y []bool, rs Resampling, rng *rand.Rand) (Metrics, error) {
	if rs.Folds < 2 {
		return Metrics{}, fmt.Errorf("trainer: resampling needs at least 2 folds, got %d", rs.Folds)
	}

	if rs.Repeats < 1 {
		return Metrics{}, fmt.Errorf("trainer: resampling needs at least 1 repeat, got %d", rs.Repeats)
	}

	if len(x) != len(y) {
		return Metrics{}, fmt.Errorf("trainer: %d rows for %d labels", len(x), len(y))
	}

	var pos, neg int
	for _, label := range y {
		if label {
			pos++
		} else {
			neg++
		}
	}

	if pos < 2 || neg < 2 {
		return Metrics{}, fmt.Errorf("trainer: resampling needs at least 2 samples per class, got %d positive / %d negative", pos, neg)
	}

	probs := make([]float64, 0, len(y)*rs.Repeats)
	truth := make([]bool, 0, len(y)*rs.Repeats)

	trainX := make([][]float32, 0, len(y))
	trainY := make([]bool, 0, len(y))

	for rep := 0; rep < rs.Repeats; rep++ {
		folds := foldAssignments(y, rs.Folds, rng)

		for f := 0; f < rs.Folds; f++ {
			if err := ctx.Err(); err != nil {
				return Metrics{}, err
			}

			trainX = trainX[:0]
			trainY = trainY[:0]

			for i := range x {
				if folds[i] != f {
					trainX = append(trainX, x[i])
					trainY = append(trainY, y[i])
				}
			}

			if len(trainX) == len(x) {
				continue // empty fold, nothing held out
			}

			model, err := tr.Train(ctx, trainX, trainY, rng)
			if err != nil {
				return Metrics{}, fmt.Errorf("fold %d: %w", f, err)
			}

			for i := range x {
				if folds[i] == f {
					probs = append(probs, model.PredictProbability(x[i]))
					truth = append(truth, y[i])
				}
			}
		}
	}

	return poolMetrics(probs, truth), nil
}

// foldAssignments deals samples into folds, stratified by class: members
// of each class are shuffled and distributed round-robin, so every fold
// sees both classes where counts allow and no training split ever loses a
// whole class.
func foldAssignments(y []bool, folds int, rng *rand.Rand) []int {
	var pos, neg []int
	for i, label := range y {
		if label {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
	rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })

	out := make([]int, len(y))
	for i, idx := range pos {
		out[idx] = i % folds
	}

	for i, idx := range neg {
		out[idx] = i % folds
	}

	return out
}

// poolMetrics computes sensitivity/specificity at the 0.5 cutoff and the
// tie-aware rank-based AUC over pooled held-out predictions.
func poolMetrics(probs []float64, truth []bool) Metrics {
	var tp, fn, tn, fp int
	for i, p := range probs {
		predicted := p >= 0.5
		switch {
		case truth[i] && predicted:
			tp++
		case truth[i] && !predicted:
			fn++
		case !truth[i] && !predicted:
			tn++
		default:
			fp++
		}
	}

	var m Metrics

	if tp+fn > 0 {
		m.Sensitivity = float64(tp) / float64(tp+fn)
	}

	if tn+fp > 0 {
		m.Specificity = float64(tn) / float64(tn+fp)
	}

	m.AUC = rankAUC(probs, truth)

	return m
}

// rankAUC is the Mann-Whitney form of the ROC AUC with average ranks for
// ties.
func rankAUC(probs []float64, truth []bool) float64 {
	n := len(probs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	sort.Slice(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	ranks := make([]float64, n)

	i := 0
	for i < n {
		j := i
		for j+1 < n && probs[order[j+1]] == probs[order[i]] {
			j++
		}

		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}

		i = j + 1
	}

	var rPos float64
	var nPos, nNeg int

	for i, label := range truth {
		if label {
			rPos += ranks[i]
			nPos++
		} else {
			nNeg++
		}
	}

	if nPos == 0 || nNeg == 0 {
		return 0
	}

	u := rPos - float64(nPos)*float64(nPos+1)/2

	return u / (float64(nPos) * float64(nNeg))
}
