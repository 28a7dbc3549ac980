// Package predict applies trained one-vs-rest classifiers to aligned query
// coordinates. Every sample receives the full probability vector over the
// scored categories and a final label: the argmax category, or the
// Unassigned sentinel when no probability clears the decision threshold.
//
// Prediction is pure: it mutates neither the registry nor the coordinates,
// and its output is identical at every parallelism degree.
package predict

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/trainer"
)

// Unassigned is the sentinel label for samples whose best probability stays
// strictly below the decision threshold.
const Unassigned = "unassigned"

// DefaultThreshold is the default decision threshold.
const DefaultThreshold = 0.55

// Prediction is the outcome for one sample: every scored category's
// independent membership probability and the selected label.
type Prediction struct {
	Probabilities map[string]float64 `json:"probabilities"`
	Label         string             `json:"label"`
}

// Options configures prediction.
type Options struct {
	// Threshold is the decision threshold in (0,1). A sample whose best
	// probability is strictly below it is labeled Unassigned.
	Threshold float64

	// Categories restricts scoring to the named categories. Empty scores
	// every trained category.
	Categories []string

	// Parallelism caps the number of sample shards scored concurrently.
	// Zero or negative selects GOMAXPROCS.
	Parallelism int
}

// DefaultOptions is the default prediction configuration.
var DefaultOptions = Options{
	Threshold:   DefaultThreshold,
	Parallelism: 1,
}

// WithThreshold sets the decision threshold.
func WithThreshold(threshold float64) func(o *Options) {
	return func(o *Options) {
		o.Threshold = threshold
	}
}

// WithCategories restricts scoring to the named categories.
func WithCategories(categories ...string) func(o *Options) {
	return func(o *Options) {
		o.Categories = categories
	}
}

// WithParallelism caps the number of sample shards scored concurrently.
func WithParallelism(n int) func(o *Options) {
	return func(o *Options) {
		o.Parallelism = n
	}
}

// Predict scores every coordinate row against the registry's classifiers
// and selects a label per sample. Exact probability ties go to the
// lexicographically first category.
//
// A registry holding exactly two categories is scored as a single binary
// problem: the second category's probability is the complement of the
// first, so the best probability never falls below 0.5 and a threshold of
// 0.5 reduces to pure argmax.
func Predict(ctx context.Context, coords [][]float32, reg *registry.Registry, optFns ...func(o *Options)) ([]Prediction, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		return nil, fmt.Errorf("predict: threshold %g out of range (0,1)", opts.Threshold)
	}

	categories := opts.Categories
	if len(categories) == 0 {
		categories = reg.Categories()
	} else {
		categories = append([]string(nil), categories...)
		sort.Strings(categories)
		categories = slices.Compact(categories)
	}

	if len(categories) == 0 {
		return nil, fmt.Errorf("predict: no trained categories to score")
	}

	models := make([]trainer.Model, len(categories))
	for i, category := range categories {
		model, ok := reg.Model(category)
		if !ok {
			return nil, &registry.ErrUnknownCategory{Category: category}
		}

		models[i] = model
	}

	// Both models of a two-category registry solve complementary problems;
	// mirroring one keeps the reported probabilities complementary too.
	binary := len(categories) == 2 && len(reg.Categories()) == 2

	for _, row := range coords {
		if len(row) != reg.Width() {
			return nil, &embedding.ErrDimensionMismatch{Expected: reg.Width(), Actual: len(row)}
		}
	}

	if len(coords) == 0 {
		return []Prediction{}, nil
	}

	out := make([]Prediction, len(coords))

	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	if limit > len(coords) {
		limit = len(coords)
	}

	chunk := (len(coords) + limit - 1) / limit

	var g errgroup.Group
	g.SetLimit(limit)

	for start := 0; start < len(coords); start += chunk {
		end := min(start+chunk, len(coords))

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			for i := start; i < end; i++ {
				if binary {
					out[i] = predictBinary(coords[i], categories, models[0], opts.Threshold)
				} else {
					out[i] = predictOne(coords[i], categories, models, opts.Threshold)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// predictOne scores one row. Iterating categories in lexicographic order
// with a strictly-greater argmax makes ties land on the first name.
func predictOne(row []float32, categories []string, models []trainer.Model, threshold float64) Prediction {
	probs := make(map[string]float64, len(models))

	best := Unassigned
	bestP := math.Inf(-1)

	for i, category := range categories {
		p := models[i].PredictProbability(row)
		probs[category] = p

		if p > bestP {
			bestP = p
			best = category
		}
	}

	label := best
	if bestP < threshold {
		label = Unassigned
	}

	return Prediction{Probabilities: probs, Label: label}
}

// predictBinary scores one row of a two-category registry against the
// first category's model and mirrors the probability onto the second. The
// larger of p and 1-p is at least 0.5, and an exact 0.5 tie lands on the
// lexicographically first category.
func predictBinary(row []float32, categories []string, first trainer.Model, threshold float64) Prediction {
	p := first.PredictProbability(row)
	q := 1 - p

	best, bestP := categories[0], p
	if q > p {
		best, bestP = categories[1], q
	}

	label := best
	if bestP < threshold {
		label = Unassigned
	}

	return Prediction{
		Probabilities: map[string]float64{categories[0]: p, categories[1]: q},
		Label:         label,
	}
}
