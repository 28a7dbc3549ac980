package align

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/cytogo/internal/kmeans"
	"github.com/hupe1980/cytogo/internal/math32"
)

// Corrector adjusts projected query coordinates toward the reference
// distribution, in place. Implementations must be deterministic for a given
// rng, must preserve dimensionality, and never see query labels.
type Corrector interface {
	Correct(ctx context.Context, query [][]float32, reference [][]float32, rng *rand.Rand) error
}

// MomentCorrector matches every dimension's mean and deviation to the
// reference distribution. Closed form, always converges.
type MomentCorrector struct{}

var _ Corrector = MomentCorrector{}

// Correct rescales each query dimension to the reference moments.
func (MomentCorrector) Correct(ctx context.Context, query, reference [][]float32, _ *rand.Rand) error {
	if len(query) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	dim := len(query[0])

	qcol := make([]float64, len(query))
	rcol := make([]float64, len(reference))

	for j := 0; j < dim; j++ {
		for i, row := range query {
			qcol[i] = float64(row[j])
		}

		for i, row := range reference {
			rcol[i] = float64(row[j])
		}

		qMean, qStd := stat.MeanStdDev(qcol, nil)
		rMean, rStd := stat.MeanStdDev(rcol, nil)

		// Degenerate deviations (single sample, constant column) fall back
		// to a pure mean shift.
		scale := 1.0
		if qStd > 0 && rStd > 0 {
			scale = rStd / qStd
		}

		for _, row := range query {
			row[j] = float32((float64(row[j])-qMean)*scale + rMean)
		}
	}

	return nil
}

// anchorFitIter bounds the k-means iterations that place the anchors.
const anchorFitIter = 25

// minAnchorMass is the smallest soft mass an anchor needs on either side
// before its local offset is trusted.
const minAnchorMass = 1e-12

// AnchorOptions configures the anchored corrector.
type AnchorOptions struct {
	// Anchors is the number of reference partitions. Clamped to the
	// reference size.
	Anchors int

	// MaxIter bounds the correction iterations.
	MaxIter int

	// Tol is the largest per-point movement that counts as converged.
	Tol float64
}

// DefaultAnchorOptions returns the default anchored corrector
// configuration.
func DefaultAnchorOptions() AnchorOptions {
	return AnchorOptions{
		Anchors: 8,
		MaxIter: 50,
		Tol:     1e-4,
	}
}

// WithAnchors sets the number of reference partitions.
func WithAnchors(n int) func(o *AnchorOptions) {
	return func(o *AnchorOptions) {
		o.Anchors = n
	}
}

// WithMaxIter bounds the correction iterations.
func WithMaxIter(n int) func(o *AnchorOptions) {
	return func(o *AnchorOptions) {
		o.MaxIter = n
	}
}

// WithTol sets the movement tolerance.
func WithTol(tol float64) func(o *AnchorOptions) {
	return func(o *AnchorOptions) {
		o.Tol = tol
	}
}

// AnchorCorrector is the default correction strategy. It partitions the
// reference coordinates into anchors with seeded k-means, soft-assigns
// both sides to the anchors by Gaussian kernel distance, and shifts each
// query point by its blend of the per-anchor offsets between the local
// query mass and the local reference mass. The loop repeats until the
// largest per-point movement drops below the tolerance.
//
// Comparing soft means on both sides makes a query that already matches
// the reference distribution a fixed point, and points near an anchor
// share one shift, so the correction removes local systematic offsets
// without collapsing the query's own structure.
type AnchorCorrector struct {
	opts AnchorOptions
}

var _ Corrector = (*AnchorCorrector)(nil)

// NewAnchorCorrector creates an anchored corrector.
func NewAnchorCorrector(optFns ...func(o *AnchorOptions)) *AnchorCorrector {
	opts := DefaultAnchorOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &AnchorCorrector{opts: opts}
}

// Correct shifts the query toward the reference structure.
func (c *AnchorCorrector) Correct(ctx context.Context, query, reference [][]float32, rng *rand.Rand) error {
	if len(query) == 0 {
		return nil
	}

	if c.opts.Anchors < 1 {
		return fmt.Errorf("align: anchor count %d out of range", c.opts.Anchors)
	}

	if c.opts.MaxIter < 1 {
		return fmt.Errorf("align: iteration budget %d out of range", c.opts.MaxIter)
	}

	dim := len(query[0])

	k := c.opts.Anchors
	if k > len(reference) {
		k = len(reference)
	}

	flat := flatten(reference, dim)

	centroids, err := kmeans.Train(ctx, flat, dim, k, anchorFitIter, rng)
	if err != nil {
		return err
	}

	h := bandwidth(reference, centroids, dim)

	weights := make([]float64, k)

	// The reference's soft means are the fixed correction targets.
	refMass := make([]float64, k)
	refSum := make([]float64, k*dim)
	accumulate(reference, centroids, dim, h, weights, refMass, refSum)

	mass := make([]float64, k)
	local := make([]float64, k*dim)
	delta := make([]float64, k*dim)

	for iter := 1; iter <= c.opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Weighted query mass and mean per anchor.
		clear(mass)
		clear(local)
		accumulate(query, centroids, dim, h, weights, mass, local)

		// Per-anchor offset from the local query mean to the local
		// reference mean.
		clear(delta)

		for a := 0; a < k; a++ {
			if mass[a] < minAnchorMass || refMass[a] < minAnchorMass {
				continue
			}

			for j := 0; j < dim; j++ {
				delta[a*dim+j] = refSum[a*dim+j]/refMass[a] - local[a*dim+j]/mass[a]
			}
		}

		// Each point moves by its blend of anchor offsets.
		var maxMove float64

		for _, row := range query {
			if softAssign(row, centroids, dim, h, weights) == 0 {
				continue
			}

			var move float64

			for j := range row {
				var shift float64
				for a, w := range weights {
					shift += w * delta[a*dim+j]
				}

				row[j] = float32(float64(row[j]) + shift)
				move += shift * shift
			}

			if move > maxMove {
				maxMove = move
			}
		}

		if math.Sqrt(maxMove) < c.opts.Tol {
			return nil
		}
	}

	return &ErrNotConverged{Iterations: c.opts.MaxIter}
}

// accumulate soft-assigns every row and adds its weighted mass and
// coordinates into the per-anchor sums.
func accumulate(rows [][]float32, centroids []float32, dim int, h float64, weights, mass, sums []float64) {
	for _, row := range rows {
		if softAssign(row, centroids, dim, h, weights) == 0 {
			continue
		}

		for a, w := range weights {
			mass[a] += w
			for j, v := range row {
				sums[a*dim+j] += w * float64(v)
			}
		}
	}
}

// softAssign writes the normalized Gaussian kernel weights of row against
// every anchor and reports the total unnormalized mass. A zero total means
// the row is too far from every anchor to correct.
func softAssign(row []float32, centroids []float32, dim int, h float64, weights []float64) float64 {
	var total float64

	for a := range weights {
		d2 := float64(math32.SquaredL2(row, centroids[a*dim:(a+1)*dim]))
		w := math.Exp(-d2 / (2 * h))
		weights[a] = w
		total += w
	}

	if total == 0 {
		return 0
	}

	for a := range weights {
		weights[a] /= total
	}

	return total
}

// bandwidth is the mean squared distance of the reference points to their
// anchors, floored for degenerate references.
func bandwidth(reference [][]float32, centroids []float32, dim int) float64 {
	var sum float64

	for _, row := range reference {
		a := kmeans.Assign(row, centroids, dim)
		sum += float64(math32.SquaredL2(row, centroids[a*dim:(a+1)*dim]))
	}

	h := sum / float64(len(reference))
	if h <= 0 {
		h = 1
	}

	return h
}

func flatten(rows [][]float32, dim int) []float32 {
	flat := make([]float32, 0, len(rows)*dim)
	for _, row := range rows {
		flat = append(flat, row...)
	}

	return flat
}
