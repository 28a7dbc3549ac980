// Package rbf implements the default model family: a radial-basis-function
// kernel classifier with regularized logistic loss. Anchors are drawn from
// the training rows, every row is expanded into kernel similarities against
// the anchors, and the expansion is fit by the shared IRLS core.
package rbf

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/internal/glm"
	"github.com/hupe1980/cytogo/internal/math32"
	"github.com/hupe1980/cytogo/trainer"
)

// ModelMethod is the stable identifier of this model family.
const ModelMethod = "rbf"

func init() {
	trainer.RegisterModel(ModelMethod, decode)
}

// Options configures the RBF trainer.
type Options struct {
	// Gamma is the kernel width exp(-gamma*||a-b||^2). Zero selects
	// 1/featureWidth.
	Gamma float64

	// Lambda is the L2 penalty of the logistic fit.
	Lambda float64

	// MaxAnchors caps the number of kernel anchors. Training sets larger
	// than this are subsampled with the caller's rng.
	MaxAnchors int

	// MaxIter and Tol bound the IRLS iteration.
	MaxIter int
	Tol     float64
}

// DefaultOptions returns the default RBF trainer configuration.
func DefaultOptions() Options {
	return Options{
		Gamma:      0,
		Lambda:     0.1,
		MaxAnchors: 256,
		MaxIter:    50,
		Tol:        1e-8,
	}
}

// WithGamma sets the kernel width.
func WithGamma(gamma float64) func(o *Options) {
	return func(o *Options) {
		o.Gamma = gamma
	}
}

// WithLambda sets the L2 penalty.
func WithLambda(lambda float64) func(o *Options) {
	return func(o *Options) {
		o.Lambda = lambda
	}
}

// WithMaxAnchors caps the number of kernel anchors.
func WithMaxAnchors(n int) func(o *Options) {
	return func(o *Options) {
		o.MaxAnchors = n
	}
}

// Trainer fits RBF kernel classifiers.
type Trainer struct {
	opts Options
}

var _ trainer.Trainer = (*Trainer)(nil)

// New creates an RBF trainer.
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

// Train fits a kernel logistic model. The rng drives anchor subsampling,
// so equal seeds produce equal models.
func (t *Trainer) Train(ctx context.Context, x [][]float32, y []bool, rng *rand.Rand) (trainer.Model, error) {
	if err := validate(x, y); err != nil {
		return nil, err
	}

	if t.opts.MaxAnchors < 1 {
		return nil, fmt.Errorf("rbf: max anchors %d out of range", t.opts.MaxAnchors)
	}

	gamma := t.opts.Gamma
	if gamma == 0 {
		gamma = 1 / float64(len(x[0]))
	}

	if gamma <= 0 {
		return nil, fmt.Errorf("rbf: gamma %g out of range", gamma)
	}

	anchors := pickAnchors(x, t.opts.MaxAnchors, rng)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(x)
	m := len(anchors)

	phi := mat.NewDense(n, m+1, nil)
	for i, row := range x {
		phi.Set(i, 0, 1)
		for j, anchor := range anchors {
			phi.Set(i, j+1, kernel(gamma, row, anchor))
		}
	}

	weights, err := glm.Fit(phi, y, glm.Config{
		Lambda:  t.opts.Lambda,
		MaxIter: t.opts.MaxIter,
		Tol:     t.opts.Tol,
	})
	if err != nil {
		return nil, fmt.Errorf("rbf: %w", err)
	}

	return &Model{gamma: gamma, anchors: anchors, weights: weights}, nil
}

func validate(x [][]float32, y []bool) error {
	if len(x) == 0 {
		return fmt.Errorf("rbf: empty training set")
	}

	if len(x) != len(y) {
		return fmt.Errorf("rbf: %d rows for %d labels", len(x), len(y))
	}

	var pos bool
	var neg bool
	for _, label := range y {
		if label {
			pos = true
		} else {
			neg = true
		}
	}

	if !pos || !neg {
		return fmt.Errorf("rbf: single-class training set")
	}

	return nil
}

// pickAnchors returns all rows, or an rng-chosen subset when the training
// set exceeds the cap. The chosen rows are copied in index order so the
// anchor set does not depend on permutation layout.
func pickAnchors(x [][]float32, max int, rng *rand.Rand) [][]float32 {
	if len(x) <= max {
		return x
	}

	perm := rng.Perm(len(x))

	// Index order keeps the design matrix stable for a given subset.
	chosen := append([]int(nil), perm[:max]...)
	sort.Ints(chosen)

	anchors := make([][]float32, len(chosen))
	for i, idx := range chosen {
		anchors[i] = x[idx]
	}

	return anchors
}

func kernel(gamma float64, a, b []float32) float64 {
	return math.Exp(-gamma * float64(math32.SquaredL2(a, b)))
}

// Model is a trained RBF kernel classifier.
type Model struct {
	gamma   float64
	anchors [][]float32
	weights []float64 // intercept first, then one weight per anchor
}

var _ trainer.Model = (*Model)(nil)

// PredictProbability returns the membership probability of v.
func (m *Model) PredictProbability(v []float32) float64 {
	f := m.weights[0]
	for j, anchor := range m.anchors {
		f += m.weights[j+1] * kernel(m.gamma, v, anchor)
	}

	return glm.Sigmoid(f)
}

// Method returns the model family identifier.
func (m *Model) Method() string {
	return ModelMethod
}

type modelState struct {
	Gamma   float64     `json:"gamma"`
	Anchors [][]float32 `json:"anchors"`
	Weights []float64   `json:"weights"`
}

// MarshalBinary encodes the model with the default codec.
func (m *Model) MarshalBinary() ([]byte, error) {
	return codec.Default.Marshal(modelState{
		Gamma:   m.gamma,
		Anchors: m.anchors,
		Weights: m.weights,
	})
}

func decode(data []byte) (trainer.Model, error) {
	var st modelState
	if err := codec.Default.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("rbf: decode: %w", err)
	}

	if len(st.Weights) != len(st.Anchors)+1 {
		return nil, fmt.Errorf("rbf: decode: %d weights for %d anchors", len(st.Weights), len(st.Anchors))
	}

	if st.Gamma <= 0 {
		return nil, fmt.Errorf("rbf: decode: gamma %g out of range", st.Gamma)
	}

	return &Model{gamma: st.Gamma, anchors: st.Anchors, weights: st.Weights}, nil
}
