package kmeans

import (
	"context"
	"math"
	"math/rand"

	"github.com/hupe1980/cytogo/internal/math32"
)

// Train learns k centroids from the given vectors using Lloyd's algorithm.
// It returns the flattened centroids (k * dim). The rng drives centroid
// initialization and empty-cluster reseeding, so equal seeds produce equal
// centroids. Returns nil when there are fewer vectors than clusters.
func Train(ctx context.Context, vectors []float32, dim, k, maxIter int, rng *rand.Rand) ([]float32, error) {
	n := len(vectors) / dim
	if n < k {
		return nil, nil // Not enough vectors to cluster
	}

	centroids := make([]float32, k*dim)

	// Initialize centroids from distinct data points
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			bestCluster := Assign(vec, centroids, dim)

			if assignments[i] != bestCluster {
				assignments[i] = bestCluster
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			math32.AddInPlace(sums[cluster*dim:(cluster+1)*dim], vec)
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-initialize empty cluster with a random point
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

// Assign finds the closest centroid for a vector.
func Assign(vec []float32, centroids []float32, dim int) int {
	k := len(centroids) / dim

	bestCluster := -1
	minDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		center := centroids[j*dim : (j+1)*dim]
		d := math32.SquaredL2(vec, center)
		if d < minDist {
			minDist = d
			bestCluster = j
		}
	}

	return bestCluster
}
