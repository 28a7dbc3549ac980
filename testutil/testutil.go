package testutil

import (
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// GaussianVectors generates random vectors with values from a standard normal distribution.
func (r *RNG) GaussianVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}

	return vectors
}

// Blob describes one labeled cluster of synthetic samples.
type Blob struct {
	Label  string
	Center []float32
	Count  int
}

// LabeledBlobs draws Count samples around each blob's center with Gaussian
// noise of deviation dev. Samples are emitted blob by blob, with the labels
// alongside. All centers must share one width.
func (r *RNG) LabeledBlobs(dev float64, blobs ...Blob) ([][]float32, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int
	for _, b := range blobs {
		total += b.Count
	}

	vectors := make([][]float32, 0, total)
	labels := make([]string, 0, total)

	for _, b := range blobs {
		for range b.Count {
			vec := make([]float32, len(b.Center))
			for j, c := range b.Center {
				vec[j] = c + float32(r.rand.NormFloat64()*dev)
			}

			vectors = append(vectors, vec)
			labels = append(labels, b.Label)
		}
	}

	return vectors, labels
}

// Shifted returns a copy of the vectors with a constant offset added to
// every row. Useful for simulating a systematic batch effect between a
// reference and a query.
func Shifted(vectors [][]float32, offset []float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		row := make([]float32, len(vec))
		for j, v := range vec {
			row[j] = v + offset[j]
		}
		out[i] = row
	}

	return out
}

// IdentityLoadings returns a dim x dim identity basis. An embedding built
// on it projects raw vectors to themselves (minus centering), which keeps
// test coordinates easy to reason about.
func IdentityLoadings(dim int) [][]float32 {
	loadings := make([][]float32, dim)
	for i := range loadings {
		row := make([]float32, dim)
		row[i] = 1
		loadings[i] = row
	}

	return loadings
}
