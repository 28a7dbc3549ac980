// Package embedding wraps an externally computed linear embedding of the
// reference dataset (typically a principal component analysis) and projects
// raw feature vectors into its basis.
//
// The embedding itself is consumed, never computed: callers hand over the
// reference coordinates, the loading matrix and the per-feature centering
// means produced by their upstream pipeline.
package embedding

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch is a named error type for raw-vector width mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options configures embedding construction.
type Options struct {
	// ExplainedVariance holds the variance captured per embedding
	// dimension, in dimension order. Optional.
	ExplainedVariance []float64

	// DimensionNames names each embedding dimension. Defaults to
	// PC1..PCd when absent.
	DimensionNames []string
}

// DefaultOptions is the default configuration for embedding construction.
var DefaultOptions = Options{}

// WithExplainedVariance sets the per-dimension explained variance.
func WithExplainedVariance(v []float64) func(o *Options) {
	return func(o *Options) {
		o.ExplainedVariance = v
	}
}

// WithDimensionNames sets the embedding dimension names.
func WithDimensionNames(names []string) func(o *Options) {
	return func(o *Options) {
		o.DimensionNames = names
	}
}

// Embedding is an immutable low-dimensional representation of the reference
// dataset together with the linear basis that produced it.
type Embedding struct {
	coords   [][]float32 // n x d reference coordinates
	loadings [][]float32 // p x d basis, one row per raw feature
	means    []float32   // per-feature centering means, length p
	variance []float64   // explained variance per dimension, length d
	names    []string    // dimension names, length d

	basis *mat.Dense // float64 view of loadings for batch projection
}

// New validates the embedding pieces and wraps them. Slices are referenced,
// not copied. Callers must not modify them afterwards.
func New(coords [][]float32, loadings [][]float32, means []float32, optFns ...func(o *Options)) (*Embedding, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(coords) == 0 {
		return nil, fmt.Errorf("embedding: no reference coordinates")
	}

	d := len(coords[0])
	if d == 0 {
		return nil, fmt.Errorf("embedding: zero-width coordinates")
	}

	for i, c := range coords {
		if len(c) != d {
			return nil, fmt.Errorf("embedding: coordinate row %d has width %d, want %d", i, len(c), d)
		}
	}

	p := len(loadings)
	if p == 0 {
		return nil, fmt.Errorf("embedding: no loadings")
	}

	for i, row := range loadings {
		if len(row) != d {
			return nil, fmt.Errorf("embedding: loading row %d has width %d, want %d", i, len(row), d)
		}
	}

	if len(means) != p {
		return nil, fmt.Errorf("embedding: %d means for %d features", len(means), p)
	}

	if opts.ExplainedVariance != nil && len(opts.ExplainedVariance) != d {
		return nil, fmt.Errorf("embedding: %d variances for %d dimensions", len(opts.ExplainedVariance), d)
	}

	names := opts.DimensionNames
	if names == nil {
		names = make([]string, d)
		for j := range names {
			names[j] = fmt.Sprintf("PC%d", j+1)
		}
	} else if len(names) != d {
		return nil, fmt.Errorf("embedding: %d names for %d dimensions", len(names), d)
	}

	basis := mat.NewDense(p, d, nil)
	for i, row := range loadings {
		for j, v := range row {
			basis.Set(i, j, float64(v))
		}
	}

	return &Embedding{
		coords:   coords,
		loadings: loadings,
		means:    means,
		variance: opts.ExplainedVariance,
		names:    names,
		basis:    basis,
	}, nil
}

// Samples returns the number of reference samples.
func (e *Embedding) Samples() int {
	return len(e.coords)
}

// Dim returns the number of embedding dimensions.
func (e *Embedding) Dim() int {
	return len(e.coords[0])
}

// FeatureDim returns the raw feature width the basis expects.
func (e *Embedding) FeatureDim() int {
	return len(e.means)
}

// Coords returns the reference coordinates. Shared, not copied.
func (e *Embedding) Coords() [][]float32 {
	return e.coords
}

// Coord returns the i-th reference coordinate row. Shared, not copied.
func (e *Embedding) Coord(i int) []float32 {
	return e.coords[i]
}

// Loadings returns the basis rows, one per raw feature. Shared, not copied.
func (e *Embedding) Loadings() [][]float32 {
	return e.loadings
}

// Means returns the per-feature centering means. Shared, not copied.
func (e *Embedding) Means() []float32 {
	return e.means
}

// ExplainedVariance returns the per-dimension explained variance, or nil
// when none was provided.
func (e *Embedding) ExplainedVariance() []float64 {
	return e.variance
}

// Names returns the embedding dimension names. Shared, not copied.
func (e *Embedding) Names() []string {
	return e.names
}

// Project maps a single raw feature vector into the embedding basis.
func (e *Embedding) Project(raw []float32) ([]float32, error) {
	p := e.FeatureDim()
	if len(raw) != p {
		return nil, &ErrDimensionMismatch{Expected: p, Actual: len(raw)}
	}

	d := e.Dim()
	out := make([]float32, d)

	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < p; i++ {
			sum += float64(raw[i]-e.means[i]) * e.basis.At(i, j)
		}

		out[j] = float32(sum)
	}

	return out, nil
}

// ProjectAll maps a batch of raw feature vectors into the embedding basis.
// All rows must have the basis feature width.
func (e *Embedding) ProjectAll(raw [][]float32) ([][]float32, error) {
	p := e.FeatureDim()
	for _, row := range raw {
		if len(row) != p {
			return nil, &ErrDimensionMismatch{Expected: p, Actual: len(row)}
		}
	}

	n := len(raw)
	if n == 0 {
		return nil, nil
	}

	// Center into a float64 matrix, multiply by the basis.
	data := make([]float64, 0, n*p)
	for _, row := range raw {
		for i, v := range row {
			data = append(data, float64(v-e.means[i]))
		}
	}

	x := mat.NewDense(n, p, data)

	d := e.Dim()
	var projected mat.Dense
	projected.Mul(x, e.basis)

	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, d)
		for j := 0; j < d; j++ {
			row[j] = float32(projected.At(i, j))
		}

		out[i] = row
	}

	return out, nil
}
