// Package dataset holds immutable sample matrices and their label
// bookkeeping, shared by training, alignment and prediction.
package dataset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Options configures dataset construction.
type Options struct {
	// Labels assigns one category name per sample row. Optional:
	// query datasets are typically unlabeled.
	Labels []string

	// IDs assigns a stable identifier per sample row. Optional: rows
	// without IDs are addressed by index.
	IDs []string
}

// DefaultOptions is the default configuration for dataset construction.
var DefaultOptions = Options{}

// WithLabels sets per-sample category labels.
func WithLabels(labels []string) func(o *Options) {
	return func(o *Options) {
		o.Labels = labels
	}
}

// WithIDs sets per-sample identifiers.
func WithIDs(ids []string) func(o *Options) {
	return func(o *Options) {
		o.IDs = ids
	}
}

// Dataset is an immutable matrix of per-sample feature vectors with an
// optional label column and optional sample IDs. All rows have equal width.
type Dataset struct {
	vectors [][]float32
	labels  []string
	ids     []string
	dim     int
}

// New validates the given vectors and wraps them in a Dataset. Rows are
// referenced, not copied. Callers must not modify them afterwards.
func New(vectors [][]float32, optFns ...func(o *Options)) (*Dataset, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(vectors) == 0 {
		return nil, fmt.Errorf("dataset: no samples")
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("dataset: zero-width samples")
	}

	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("dataset: row %d has width %d, want %d", i, len(v), dim)
		}
	}

	if opts.Labels != nil && len(opts.Labels) != len(vectors) {
		return nil, fmt.Errorf("dataset: %d labels for %d samples", len(opts.Labels), len(vectors))
	}

	if opts.IDs != nil && len(opts.IDs) != len(vectors) {
		return nil, fmt.Errorf("dataset: %d ids for %d samples", len(opts.IDs), len(vectors))
	}

	return &Dataset{
		vectors: vectors,
		labels:  opts.Labels,
		ids:     opts.IDs,
		dim:     dim,
	}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.vectors)
}

// Dim returns the feature width of every sample.
func (d *Dataset) Dim() int {
	return d.dim
}

// Vector returns the i-th sample row. The returned slice is shared, not
// copied.
func (d *Dataset) Vector(i int) []float32 {
	return d.vectors[i]
}

// Vectors returns all sample rows. The returned slices are shared, not
// copied.
func (d *Dataset) Vectors() [][]float32 {
	return d.vectors
}

// Labeled reports whether the dataset carries a label column.
func (d *Dataset) Labeled() bool {
	return d.labels != nil
}

// Labels returns the label column, or nil for unlabeled datasets. The
// returned slice is shared, not copied.
func (d *Dataset) Labels() []string {
	return d.labels
}

// Label returns the label of the i-th sample. Empty for unlabeled datasets.
func (d *Dataset) Label(i int) string {
	if d.labels == nil {
		return ""
	}

	return d.labels[i]
}

// ID returns the identifier of the i-th sample, falling back to the row
// index when no IDs were provided.
func (d *Dataset) ID(i int) string {
	if d.ids == nil {
		return fmt.Sprintf("%d", i)
	}

	return d.ids[i]
}

// LabelIndex builds a category index over the label column.
func (d *Dataset) LabelIndex() (*LabelIndex, error) {
	if d.labels == nil {
		return nil, fmt.Errorf("dataset: unlabeled")
	}

	return NewLabelIndex(d.labels), nil
}

// Subset returns a new dataset containing only samples whose label is in
// the given categories, preserving row order.
func (d *Dataset) Subset(categories ...string) (*Dataset, error) {
	idx, err := d.LabelIndex()
	if err != nil {
		return nil, err
	}

	return d.take(idx.union(categories...)), nil
}

// Without returns a new dataset with samples of the given categories
// removed, preserving row order.
func (d *Dataset) Without(categories ...string) (*Dataset, error) {
	idx, err := d.LabelIndex()
	if err != nil {
		return nil, err
	}

	keep := idx.all()
	keep.AndNot(idx.union(categories...))

	return d.take(keep), nil
}

func (d *Dataset) take(rows *roaring.Bitmap) *Dataset {
	n := int(rows.GetCardinality())
	out := &Dataset{
		vectors: make([][]float32, 0, n),
		dim:     d.dim,
	}

	if d.labels != nil {
		out.labels = make([]string, 0, n)
	}

	if d.ids != nil {
		out.ids = make([]string, 0, n)
	}

	it := rows.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		out.vectors = append(out.vectors, d.vectors[i])

		if d.labels != nil {
			out.labels = append(out.labels, d.labels[i])
		}

		if d.ids != nil {
			out.ids = append(out.ids, d.ids[i])
		}
	}

	return out
}
