package dataset

import (
	"iter"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// LabelIndex maps category names to roaring bitmaps of sample row indices.
// It backs one-vs-rest splits during training and label subsetting.
type LabelIndex struct {
	n          int
	categories []string
	members    map[string]*roaring.Bitmap
}

// NewLabelIndex builds an index over one label per sample row.
func NewLabelIndex(labels []string) *LabelIndex {
	members := make(map[string]*roaring.Bitmap)
	for i, label := range labels {
		bm, ok := members[label]
		if !ok {
			bm = roaring.New()
			members[label] = bm
		}

		bm.Add(uint32(i))
	}

	categories := make([]string, 0, len(members))
	for category := range members {
		categories = append(categories, category)
	}

	sort.Strings(categories)

	return &LabelIndex{
		n:          len(labels),
		categories: categories,
		members:    members,
	}
}

// Len returns the number of indexed samples.
func (x *LabelIndex) Len() int {
	return x.n
}

// Categories returns all category names in lexicographic order.
func (x *LabelIndex) Categories() []string {
	out := make([]string, len(x.categories))
	copy(out, x.categories)

	return out
}

// Count returns the number of samples labeled with the category.
func (x *LabelIndex) Count(category string) int {
	bm, ok := x.members[category]
	if !ok {
		return 0
	}

	return int(bm.GetCardinality())
}

// Contains reports whether the given row is labeled with the category.
func (x *LabelIndex) Contains(category string, row int) bool {
	bm, ok := x.members[category]
	if !ok {
		return false
	}

	return bm.Contains(uint32(row))
}

// Small returns the categories with fewer than min members, in
// lexicographic order.
func (x *LabelIndex) Small(min int) []string {
	var out []string
	for _, category := range x.categories {
		if x.Count(category) < min {
			out = append(out, category)
		}
	}

	return out
}

// Members iterates the row indices labeled with the category, ascending.
func (x *LabelIndex) Members(category string) iter.Seq[int] {
	return func(yield func(int) bool) {
		bm, ok := x.members[category]
		if !ok {
			return
		}

		it := bm.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}

// Rest iterates the row indices NOT labeled with the category, ascending.
func (x *LabelIndex) Rest(category string) iter.Seq[int] {
	return func(yield func(int) bool) {
		rest := x.all()
		if bm, ok := x.members[category]; ok {
			rest.AndNot(bm)
		}

		it := rest.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}

func (x *LabelIndex) all() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(x.n))

	return bm
}

func (x *LabelIndex) union(categories ...string) *roaring.Bitmap {
	bm := roaring.New()
	for _, category := range categories {
		if m, ok := x.members[category]; ok {
			bm.Or(m)
		}
	}

	return bm
}
