// Package feature derives a reusable feature space from a labeled reference
// embedding. For every embedding dimension and category it scores how well
// the dimension separates the category from the rest (Mann-Whitney rank-sum
// with tie correction), and records the ordered set of dimensions that
// downstream training and prediction operate on.
package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
)

// MinCategorySize is the minimum number of samples a category needs before
// its separability can be scored.
const MinCategorySize = 2

// ErrDegenerateEmbedding indicates that no embedding dimension carries any
// variance, so no feature space can be derived.
var ErrDegenerateEmbedding = errors.New("feature: degenerate embedding: all dimensions have zero variance")

// ErrInsufficientData is a named error type for reference data too small to
// score.
type ErrInsufficientData struct {
	Category string // offending category, empty when the label set as a whole is too small
	Count    int
}

// Error returns the error message for insufficient reference data
func (e *ErrInsufficientData) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("insufficient data: %d categories, need at least 2", e.Count)
	}

	return fmt.Sprintf("insufficient data: category %q has %d samples, need at least %d", e.Category, e.Count, MinCategorySize)
}

// Stat is the separability score of one embedding dimension for one
// category: the Mann-Whitney U statistic of the category's coordinates
// against the rest, and its two-sided p-value.
type Stat struct {
	U float64 `json:"u"`
	P float64 `json:"p"`
}

// Options configures feature space construction.
type Options struct {
	// Significance keeps only dimensions whose p-value passes the given
	// level for at least one category. Zero keeps every dimension.
	Significance float64
}

// DefaultOptions is the default configuration for feature space
// construction: every dimension is kept in embedding order.
var DefaultOptions = Options{}

// WithSignificance keeps only dimensions significant at level alpha for at
// least one category. Dimension order is preserved.
func WithSignificance(alpha float64) func(o *Options) {
	return func(o *Options) {
		o.Significance = alpha
	}
}

// Space is an immutable feature space: the scored and selected embedding
// dimensions shared by training and prediction.
type Space struct {
	fullDim    int
	dims       []int
	names      []string
	categories []string
	stats      map[string][]Stat
	alpha      float64
}

// Build scores every embedding dimension against the given labels and
// derives the feature space. One label per reference sample.
func Build(emb *embedding.Embedding, labels []string, optFns ...func(o *Options)) (*Space, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Significance < 0 || opts.Significance >= 1 {
		return nil, fmt.Errorf("feature: significance %g out of range [0,1)", opts.Significance)
	}

	n := emb.Samples()
	if len(labels) != n {
		return nil, fmt.Errorf("feature: %d labels for %d samples", len(labels), n)
	}

	idx := dataset.NewLabelIndex(labels)

	categories := idx.Categories()
	if len(categories) < 2 {
		return nil, &ErrInsufficientData{Count: len(categories)}
	}

	if small := idx.Small(MinCategorySize); len(small) > 0 {
		return nil, &ErrInsufficientData{Category: small[0], Count: idx.Count(small[0])}
	}

	d := emb.Dim()

	stats := make(map[string][]Stat, len(categories))
	for _, category := range categories {
		stats[category] = make([]Stat, d)
	}

	vals := make([]float64, n)
	order := make([]int, n)
	ranks := make([]float64, n)

	degenerate := true

	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			vals[i] = float64(emb.Coord(i)[j])
		}

		tieSum, constant := rankColumn(vals, order, ranks)
		if !constant {
			degenerate = false
		}

		for _, category := range categories {
			stats[category][j] = rankSumStat(idx, category, ranks, tieSum)
		}
	}

	if degenerate {
		return nil, ErrDegenerateEmbedding
	}

	dims := make([]int, 0, d)
	for j := 0; j < d; j++ {
		if opts.Significance > 0 && !significantForAny(stats, categories, j, opts.Significance) {
			continue
		}

		dims = append(dims, j)
	}

	if len(dims) == 0 {
		return nil, fmt.Errorf("feature: no dimension is significant at level %g", opts.Significance)
	}

	names := make([]string, len(dims))
	for i, j := range dims {
		names[i] = emb.Names()[j]
	}

	return &Space{
		fullDim:    d,
		dims:       dims,
		names:      names,
		categories: categories,
		stats:      stats,
		alpha:      opts.Significance,
	}, nil
}

// FullDim returns the width of the embedding the space was derived from.
func (s *Space) FullDim() int {
	return s.fullDim
}

// Width returns the number of selected dimensions.
func (s *Space) Width() int {
	return len(s.dims)
}

// Dims returns the selected dimension indices in embedding order. Shared,
// not copied.
func (s *Space) Dims() []int {
	return s.dims
}

// Names returns the names of the selected dimensions. Shared, not copied.
func (s *Space) Names() []string {
	return s.names
}

// Categories returns the scored category names in lexicographic order.
// Shared, not copied.
func (s *Space) Categories() []string {
	return s.categories
}

// Stats returns the per-dimension scores of the category over ALL embedding
// dimensions, or nil for unknown categories. Shared, not copied.
func (s *Space) Stats(category string) []Stat {
	return s.stats[category]
}

// Significance returns the significance level the selection used, zero when
// every dimension was kept.
func (s *Space) Significance() float64 {
	return s.alpha
}

// Select reduces a full-width embedded coordinate row to the selected
// dimensions. The input must have FullDim width.
func (s *Space) Select(row []float32) []float32 {
	out := make([]float32, len(s.dims))
	for i, j := range s.dims {
		out[i] = row[j]
	}

	return out
}

// SelectAll reduces a batch of full-width embedded coordinate rows to the
// selected dimensions.
func (s *Space) SelectAll(rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = s.Select(row)
	}

	return out
}

func significantForAny(stats map[string][]Stat, categories []string, dim int, alpha float64) bool {
	for _, category := range categories {
		if stats[category][dim].P < alpha {
			return true
		}
	}

	return false
}

// rankColumn writes 1-based average ranks of vals into ranks, using order
// as scratch. It returns the tie correction term sum(t^3-t) over tied
// groups and whether the column is constant.
func rankColumn(vals []float64, order []int, ranks []float64) (float64, bool) {
	n := len(vals)
	for i := range order {
		order[i] = i
	}

	sort.Slice(order, func(a, b int) bool { return vals[order[a]] < vals[order[b]] })

	constant := vals[order[0]] == vals[order[n-1]]

	var tieSum float64

	i := 0
	for i < n {
		j := i
		for j+1 < n && vals[order[j+1]] == vals[order[i]] {
			j++
		}

		// Tied group spans sorted positions i..j; all share the average rank.
		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}

		if t := float64(j - i + 1); t > 1 {
			tieSum += t*t*t - t
		}

		i = j + 1
	}

	return tieSum, constant
}

// rankSumStat computes the Mann-Whitney U of the category's ranks against
// the rest, with tie-corrected normal approximation and continuity
// correction for the two-sided p-value.
func rankSumStat(idx *dataset.LabelIndex, category string, ranks []float64, tieSum float64) Stat {
	n := len(ranks)
	n1 := idx.Count(category)
	n2 := n - n1

	var r1 float64
	for i := range idx.Members(category) {
		r1 += ranks[i]
	}

	u := r1 - float64(n1)*float64(n1+1)/2

	mu := float64(n1) * float64(n2) / 2

	sigma2 := float64(n1) * float64(n2) / 12 * (float64(n+1) - tieSum/(float64(n)*float64(n-1)))
	if sigma2 <= 0 {
		return Stat{U: u, P: 1}
	}

	// Continuity correction toward the mean.
	diff := u - mu
	switch {
	case diff > 0.5:
		diff -= 0.5
	case diff < -0.5:
		diff += 0.5
	default:
		diff = 0
	}

	z := diff / math.Sqrt(sigma2)

	p := 2 * distuv.UnitNormal.Survival(math.Abs(z))
	if p > 1 {
		p = 1
	}

	return Stat{U: u, P: p}
}
