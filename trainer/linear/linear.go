// Package linear implements an L2-regularized logistic regression on the
// raw feature-space coordinates. It is the cheap linear alternative to the
// default rbf family.
package linear

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/internal/glm"
	"github.com/hupe1980/cytogo/trainer"
)

// ModelMethod is the stable identifier of this model family.
const ModelMethod = "logistic"

func init() {
	trainer.RegisterModel(ModelMethod, decode)
}

// Options configures the logistic trainer.
type Options struct {
	// Lambda is the L2 penalty of the fit.
	Lambda float64

	// MaxIter and Tol bound the IRLS iteration.
	MaxIter int
	Tol     float64
}

// DefaultOptions returns the default logistic trainer configuration.
func DefaultOptions() Options {
	return Options{
		Lambda:  0.1,
		MaxIter: 50,
		Tol:     1e-8,
	}
}

// WithLambda sets the L2 penalty.
func WithLambda(lambda float64) func(o *Options) {
	return func(o *Options) {
		o.Lambda = lambda
	}
}

// Trainer fits logistic regression classifiers.
type Trainer struct {
	opts Options
}

var _ trainer.Trainer = (*Trainer)(nil)

// New creates a logistic trainer.
func New(optFns ...func(o *Options)) *Trainer {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Trainer{opts: opts}
}

// Method returns the model family identifier.
func (t *Trainer) Method() string {
	return ModelMethod
}

// Train fits a logistic regression. The fit is closed-form iterative and
// ignores the rng.
func (t *Trainer) Train(ctx context.Context, x [][]float32, y []bool, _ *rand.Rand) (trainer.Model, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("linear: empty training set")
	}

	if len(x) != len(y) {
		return nil, fmt.Errorf("linear: %d rows for %d labels", len(x), len(y))
	}

	var pos, neg bool
	for _, label := range y {
		if label {
			pos = true
		} else {
			neg = true
		}
	}

	if !pos || !neg {
		return nil, fmt.Errorf("linear: single-class training set")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(x)
	d := len(x[0])

	phi := mat.NewDense(n, d+1, nil)
	for i, row := range x {
		phi.Set(i, 0, 1)
		for j, v := range row {
			phi.Set(i, j+1, float64(v))
		}
	}

	weights, err := glm.Fit(phi, y, glm.Config{
		Lambda:  t.opts.Lambda,
		MaxIter: t.opts.MaxIter,
		Tol:     t.opts.Tol,
	})
	if err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}

	return &Model{weights: weights}, nil
}

// Model is a trained logistic regression.
type Model struct {
	weights []float64 // intercept first, then one weight per feature
}

var _ trainer.Model = (*Model)(nil)

// PredictProbability returns the membership probability of v.
func (m *Model) PredictProbability(v []float32) float64 {
	f := m.weights[0]
	for j, w := range m.weights[1:] {
		f += w * float64(v[j])
	}

	return glm.Sigmoid(f)
}

// Method returns the model family identifier.
func (m *Model) Method() string {
	return ModelMethod
}

type modelState struct {
	Weights []float64 `json:"weights"`
}

// MarshalBinary encodes the model with the default codec.
func (m *Model) MarshalBinary() ([]byte, error) {
	return codec.Default.Marshal(modelState{Weights: m.weights})
}

func decode(data []byte) (trainer.Model, error) {
	var st modelState
	if err := codec.Default.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("linear: decode: %w", err)
	}

	if len(st.Weights) < 2 {
		return nil, fmt.Errorf("linear: decode: %d weights, need intercept plus features", len(st.Weights))
	}

	return &Model{weights: st.Weights}, nil
}
