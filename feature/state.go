package feature

import (
	"fmt"
	"sort"
)

// State is the serializable form of a Space, exchanged through bundles.
type State struct {
	FullDim    int               `json:"full_dim"`
	Dims       []int             `json:"dims"`
	Names      []string          `json:"names"`
	Categories []string          `json:"categories"`
	Stats      map[string][]Stat `json:"stats"`
	Alpha      float64           `json:"alpha,omitempty"`
}

// State returns the serializable form of the space.
func (s *Space) State() State {
	return State{
		FullDim:    s.fullDim,
		Dims:       s.dims,
		Names:      s.names,
		Categories: s.categories,
		Stats:      s.stats,
		Alpha:      s.alpha,
	}
}

// FromState validates a serialized space and reconstructs it.
func FromState(st State) (*Space, error) {
	if st.FullDim < 1 {
		return nil, fmt.Errorf("feature: state has full dimension %d", st.FullDim)
	}

	if len(st.Dims) == 0 {
		return nil, fmt.Errorf("feature: state selects no dimensions")
	}

	for i, j := range st.Dims {
		if j < 0 || j >= st.FullDim {
			return nil, fmt.Errorf("feature: state dimension %d out of range [0,%d)", j, st.FullDim)
		}

		if i > 0 && st.Dims[i-1] >= j {
			return nil, fmt.Errorf("feature: state dimensions not strictly increasing")
		}
	}

	if len(st.Names) != len(st.Dims) {
		return nil, fmt.Errorf("feature: state has %d names for %d dimensions", len(st.Names), len(st.Dims))
	}

	if len(st.Categories) < 2 {
		return nil, fmt.Errorf("feature: state has %d categories, need at least 2", len(st.Categories))
	}

	if !sort.StringsAreSorted(st.Categories) {
		return nil, fmt.Errorf("feature: state categories not sorted")
	}

	for _, category := range st.Categories {
		stats, ok := st.Stats[category]
		if !ok {
			return nil, fmt.Errorf("feature: state missing stats for category %q", category)
		}

		if len(stats) != st.FullDim {
			return nil, fmt.Errorf("feature: state has %d stats for category %q, want %d", len(stats), category, st.FullDim)
		}
	}

	return &Space{
		fullDim:    st.FullDim,
		dims:       st.Dims,
		names:      st.Names,
		categories: st.Categories,
		stats:      st.Stats,
		alpha:      st.Alpha,
	}, nil
}
