// Package align projects raw query feature vectors into the reference
// embedding basis and corrects systematic offsets between the query and
// reference distributions. The correction strategy is pluggable through the
// Corrector interface; correctors never see query labels.
package align

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/hupe1980/cytogo/embedding"
)

// ErrNotConverged is a named error type for a correction that exhausted its
// iteration budget.
type ErrNotConverged struct {
	Iterations int
}

// Error returns the error message for a correction that did not converge
func (e *ErrNotConverged) Error() string {
	return fmt.Sprintf("alignment did not converge after %d iterations", e.Iterations)
}

// Options configures the aligner.
type Options struct {
	// Corrector adjusts projected coordinates toward the reference
	// distribution. Nil selects the default anchored corrector.
	Corrector Corrector

	// Seed drives the corrector's random choices. Equal seeds align equal
	// queries to equal coordinates.
	Seed int64
}

// DefaultOptions is the default aligner configuration.
var DefaultOptions = Options{
	Seed: 42,
}

// WithCorrector sets the correction strategy.
func WithCorrector(c Corrector) func(o *Options) {
	return func(o *Options) {
		o.Corrector = c
	}
}

// WithSeed sets the seed of the corrector's random stream.
func WithSeed(seed int64) func(o *Options) {
	return func(o *Options) {
		o.Seed = seed
	}
}

// Aligner maps raw query vectors into the reference basis. The reference
// itself is the anchor: its embedded coordinates describe the distribution
// queries are corrected toward.
//
// An Aligner is safe for concurrent use; every Align call derives a fresh
// random stream from the seed.
type Aligner struct {
	emb  *embedding.Embedding
	opts Options
}

// New creates an aligner anchored on the reference embedding.
func New(emb *embedding.Embedding, optFns ...func(o *Options)) *Aligner {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Corrector == nil {
		opts.Corrector = NewAnchorCorrector()
	}

	return &Aligner{emb: emb, opts: opts}
}

// FeatureDim returns the raw feature width the aligner expects.
func (a *Aligner) FeatureDim() int {
	return a.emb.FeatureDim()
}

// Align projects the raw query vectors into the reference basis and
// corrects them toward the reference distribution. Row widths are validated
// before any computation. Aligning the same query twice produces identical
// coordinates.
func (a *Aligner) Align(ctx context.Context, raw [][]float32) (*State, error) {
	projected, err := a.emb.ProjectAll(raw)
	if err != nil {
		return nil, err
	}

	if len(projected) == 0 {
		return &State{fingerprint: a.Fingerprint(raw)}, nil
	}

	rng := rand.New(rand.NewSource(a.opts.Seed)) // nolint gosec

	if err := a.opts.Corrector.Correct(ctx, projected, a.emb.Coords(), rng); err != nil {
		return nil, err
	}

	return &State{coords: projected, fingerprint: a.Fingerprint(raw)}, nil
}

// Fingerprint hashes the raw query together with the aligner's seed.
// A state carries the fingerprint of the query it was aligned from, so
// callers can tell whether a memoized state still matches.
func (a *Aligner) Fingerprint(raw [][]float32) uint64 {
	h := fnv.New64a()

	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(a.opts.Seed))
	h.Write(buf[:])

	binary.LittleEndian.PutUint64(buf[:], uint64(len(raw)))
	h.Write(buf[:])

	for _, row := range raw {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
			h.Write(buf[:4])
		}
	}

	return h.Sum64()
}

// State is the outcome of aligning one query dataset: the corrected
// coordinates in the reference basis plus the fingerprint of the inputs
// that produced them.
type State struct {
	coords      [][]float32
	fingerprint uint64
}

// Len returns the number of aligned query samples.
func (s *State) Len() int {
	return len(s.coords)
}

// Coords returns the aligned coordinates. Shared, not copied.
func (s *State) Coords() [][]float32 {
	return s.coords
}

// Coord returns the i-th aligned coordinate row. Shared, not copied.
func (s *State) Coord(i int) []float32 {
	return s.coords[i]
}

// Fingerprint returns the hash of the query the state was aligned from.
func (s *State) Fingerprint() uint64 {
	return s.fingerprint
}
