// Package centroid implements a regularized Gaussian nearest-centroid
// classifier with a logistic margin calibration. It is the cheapest model
// family and mainly serves heterogeneous registries and tests.
package centroid

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
const ModelMethod = "centroid"

func init() {
	trainer.RegisterModel(ModelMethod, decode)
}

// varianceFloor keeps the per-dimension variances strictly positive.
const varianceFloor = 1e-6

// Options configures the centroid trainer.
type Options struct {
	// Lambda is the L2 penalty of the calibration fit.
	Lambda float64

	// MaxIter and Tol bound the calibration iteration.
	MaxIter int
	Tol     float64
}

// DefaultOptions returns the default centroid trainer configuration.
func DefaultOptions() Options {
	return Options{
		Lambda:  0.1,
		MaxIter: 50,
		Tol:     1e-8,
	}
}

// WithLambda sets the L2 penalty of the calibration fit.
func WithLambda(lambda float64) func(o *Options) {
	return func(o *Options) {
		o.Lambda = lambda
	}
}

// Trainer fits Gaussian nearest-centroid classifiers.
type Trainer struct {
	opts Options
}

var _ trainer.Trainer = (*Trainer)(nil)

// New creates a centroid trainer.
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

// Train fits class centroids with pooled per-dimension variances, then
// calibrates the centroid margin into a probability with a 1-D logistic
// fit. Closed-form throughout, the rng is ignored.
func (t *Trainer) Train(ctx context.Context, x [][]float32, y []bool, _ *rand.Rand) (trainer.Model, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("centroid: empty training set")
	}

	if len(x) != len(y) {
		return nil, fmt.Errorf("centroid: %d rows for %d labels", len(x), len(y))
	}

	var npos, nneg int
	for _, label := range y {
		if label {
			npos++
		} else {
			nneg++
		}
	}

	if npos == 0 || nneg == 0 {
		return nil, fmt.Errorf("centroid: single-class training set")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := len(x[0])

	pos := make([]float64, d)
	neg := make([]float64, d)

	for i, row := range x {
		for j, v := range row {
			if y[i] {
				pos[j] += float64(v)
			} else {
				neg[j] += float64(v)
			}
		}
	}

	for j := 0; j < d; j++ {
		pos[j] /= float64(npos)
		neg[j] /= float64(nneg)
	}

	// Pooled within-class variance per dimension, floored.
	variance := make([]float64, d)
	for i, row := range x {
		center := neg
		if y[i] {
			center = pos
		}

		for j, v := range row {
			diff := float64(v) - center[j]
			variance[j] += diff * diff
		}
	}

	for j := 0; j < d; j++ {
		variance[j] = variance[j]/float64(len(x)) + varianceFloor
	}

	model := &Model{pos: pos, neg: neg, variance: variance, scale: []float64{0, 1}}

	// Calibrate the raw margin into a probability.
	phi := mat.NewDense(len(x), 2, nil)
	for i, row := range x {
		phi.Set(i, 0, 1)
		phi.Set(i, 1, model.margin(row))
	}

	scale, err := glm.Fit(phi, y, glm.Config{
		Lambda:  t.opts.Lambda,
		MaxIter: t.opts.MaxIter,
		Tol:     t.opts.Tol,
	})
	if err != nil {
		return nil, fmt.Errorf("centroid: %w", err)
	}

	model.scale = scale

	return model, nil
}

// Model is a trained Gaussian nearest-centroid classifier.
type Model struct {
	pos      []float64 // positive-class centroid
	neg      []float64 // negative-class centroid
	variance []float64 // pooled per-dimension variance
	scale    []float64 // logistic calibration: intercept, slope
}

var _ trainer.Model = (*Model)(nil)

// margin is the variance-normalized distance advantage of the positive
// centroid, averaged over dimensions.
func (m *Model) margin(v []float32) float64 {
	var dpos, dneg float64
	for j, x := range v {
		dp := float64(x) - m.pos[j]
		dn := float64(x) - m.neg[j]

		dpos += dp * dp / m.variance[j]
		dneg += dn * dn / m.variance[j]
	}

	return (dneg - dpos) / float64(2*len(v))
}

// PredictProbability returns the membership probability of v.
func (m *Model) PredictProbability(v []float32) float64 {
	return glm.Sigmoid(m.scale[0] + m.scale[1]*m.margin(v))
}

// Method returns the model family identifier.
func (m *Model) Method() string {
	return ModelMethod
}

type modelState struct {
	Pos      []float64 `json:"pos"`
	Neg      []float64 `json:"neg"`
	Variance []float64 `json:"variance"`
	Scale    []float64 `json:"scale"`
}

// MarshalBinary encodes the model with the default codec.
func (m *Model) MarshalBinary() ([]byte, error) {
	return codec.Default.Marshal(modelState{
		Pos:      m.pos,
		Neg:      m.neg,
		Variance: m.variance,
		Scale:    m.scale,
	})
}

func decode(data []byte) (trainer.Model, error) {
	var st modelState
	if err := codec.Default.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("centroid: decode: %w", err)
	}

	if len(st.Pos) == 0 || len(st.Pos) != len(st.Neg) || len(st.Pos) != len(st.Variance) {
		return nil, fmt.Errorf("centroid: decode: inconsistent centroid widths")
	}

	if len(st.Scale) != 2 {
		return nil, fmt.Errorf("centroid: decode: %d calibration terms, want 2", len(st.Scale))
	}

	for _, v := range st.Variance {
		if v <= 0 {
			return nil, fmt.Errorf("centroid: decode: non-positive variance %g", v)
		}
	}

	return &Model{pos: st.Pos, neg: st.Neg, variance: st.Variance, scale: st.Scale}, nil
}
