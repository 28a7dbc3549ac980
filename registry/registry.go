// Package registry trains and holds the per-category probabilistic
// classifiers of a classification model. Every category gets a one-vs-rest
// binary model, scored by stratified cross-validation before the final fit
// on the full reference.
//
// Training is deterministic: each category derives its own random streams
// from the base seed and the category name, so results do not depend on
// worker scheduling or on which categories train alongside it.
package registry

import (
	"fmt"
	"sort"

	"github.com/hupe1980/cytogo/resource"
	"github.com/hupe1980/cytogo/trainer"
)

// ErrTrainer wraps the failure of a single category's trainer. Sibling
// categories keep training; the failures are joined into the returned
// error.
type ErrTrainer struct {
	Category string
	Err      error
}

// Error returns the error message for a per-category training failure.
func (e *ErrTrainer) Error() string {
	return fmt.Sprintf("registry: training category %q: %v", e.Category, e.Err)
}

// Unwrap returns the trainer's underlying error.
func (e *ErrTrainer) Unwrap() error {
	return e.Err
}

// ErrUnknownCategory is a named error type for categories the model was
// never trained on.
type ErrUnknownCategory struct {
	Category string
}

// Error returns the error message for an unknown category
func (e *ErrUnknownCategory) Error() string {
	return fmt.Sprintf("unknown category %q", e.Category)
}

// Options configures classifier training.
type Options struct {
	// Trainer fits categories without a per-category override. Nil selects
	// the default RBF kernel family.
	Trainer trainer.Trainer

	// Trainers overrides the model family per category.
	Trainers map[string]trainer.Trainer

	// Resampling is the cross-validation protocol.
	Resampling trainer.Resampling

	// Seed is the base seed that every per-category random stream derives
	// from.
	Seed int64

	// Parallelism caps the number of categories training concurrently.
	// Zero or negative selects GOMAXPROCS.
	Parallelism int

	// Controller bounds worker slots during training. Nil disables the
	// limit.
	Controller *resource.Controller

	// Progress, when set, receives each category's summary as its training
	// completes. Calls may arrive from concurrent workers.
	Progress func(s trainer.Summary)
}

// DefaultOptions is the default training configuration. Training is
// sequential unless a parallelism degree is requested.
var DefaultOptions = Options{
	Resampling:  trainer.DefaultResampling,
	Seed:        42,
	Parallelism: 1,
}

// WithTrainer sets the model family for categories without an override.
func WithTrainer(t trainer.Trainer) func(o *Options) {
	return func(o *Options) {
		o.Trainer = t
	}
}

// WithCategoryTrainer overrides the model family for one category.
func WithCategoryTrainer(category string, t trainer.Trainer) func(o *Options) {
	return func(o *Options) {
		if o.Trainers == nil {
			o.Trainers = make(map[string]trainer.Trainer)
		}

		o.Trainers[category] = t
	}
}

// WithResampling sets the cross-validation protocol.
func WithResampling(rs trainer.Resampling) func(o *Options) {
	return func(o *Options) {
		o.Resampling = rs
	}
}

// WithSeed sets the base seed.
func WithSeed(seed int64) func(o *Options) {
	return func(o *Options) {
		o.Seed = seed
	}
}

// WithParallelism caps the number of categories training concurrently.
func WithParallelism(n int) func(o *Options) {
	return func(o *Options) {
		o.Parallelism = n
	}
}

// WithController bounds training by the given resource controller.
func WithController(c *resource.Controller) func(o *Options) {
	return func(o *Options) {
		o.Controller = c
	}
}

// WithProgress registers a callback for per-category completion.
func WithProgress(fn func(s trainer.Summary)) func(o *Options) {
	return func(o *Options) {
		o.Progress = fn
	}
}

type entry struct {
	model   trainer.Model
	summary trainer.Summary
}

// Registry is an immutable set of trained one-vs-rest classifiers, one per
// category. Retraining returns a new registry; entries are never mutated in
// place.
type Registry struct {
	width   int
	entries map[string]*entry
}

// Len returns the number of trained categories.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Width returns the feature space width every model expects.
func (r *Registry) Width() int {
	return r.width
}

// Categories returns the trained category names in lexicographic order.
func (r *Registry) Categories() []string {
	out := make([]string, 0, len(r.entries))
	for category := range r.entries {
		out = append(out, category)
	}

	sort.Strings(out)

	return out
}

// Model returns the trained model of the category.
func (r *Registry) Model(category string) (trainer.Model, bool) {
	e, ok := r.entries[category]
	if !ok {
		return nil, false
	}

	return e.model, true
}

// Summary returns the cross-validated performance record of the category.
func (r *Registry) Summary(category string) (trainer.Summary, bool) {
	e, ok := r.entries[category]
	if !ok {
		return trainer.Summary{}, false
	}

	return e.summary, true
}

// Summaries returns all performance records in category order.
func (r *Registry) Summaries() []trainer.Summary {
	out := make([]trainer.Summary, 0, len(r.entries))
	for _, category := range r.Categories() {
		out = append(out, r.entries[category].summary)
	}

	return out
}

// State is the serializable form of a registry.
type State struct {
	Width   int          `json:"width"`
	Entries []EntryState `json:"entries"`
}

// EntryState is the serializable form of one category's classifier.
type EntryState struct {
	Category string          `json:"category"`
	Method   string          `json:"method"`
	Payload  []byte          `json:"payload"`
	Summary  trainer.Summary `json:"summary"`
}

// State returns the serializable form of the registry. Entries are emitted
// in category order, so equal registries produce equal bytes.
func (r *Registry) State() (*State, error) {
	st := &State{
		Width:   r.width,
		Entries: make([]EntryState, 0, len(r.entries)),
	}

	for _, category := range r.Categories() {
		e := r.entries[category]

		payload, err := e.model.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("registry: marshal model for category %q: %w", category, err)
		}

		st.Entries = append(st.Entries, EntryState{
			Category: category,
			Method:   e.model.Method(),
			Payload:  payload,
			Summary:  e.summary,
		})
	}

	return st, nil
}

// FromState reconstructs a registry. Models are decoded through the
// decoders their packages registered.
func FromState(st *State) (*Registry, error) {
	if st.Width < 1 {
		return nil, fmt.Errorf("registry: invalid state: width %d", st.Width)
	}

	if len(st.Entries) == 0 {
		return nil, fmt.Errorf("registry: invalid state: no entries")
	}

	entries := make(map[string]*entry, len(st.Entries))

	for i, es := range st.Entries {
		if es.Category == "" {
			return nil, fmt.Errorf("registry: invalid state: entry %d has no category", i)
		}

		if _, ok := entries[es.Category]; ok {
			return nil, fmt.Errorf("registry: invalid state: duplicate category %q", es.Category)
		}

		model, err := trainer.DecodeModel(es.Method, es.Payload)
		if err != nil {
			return nil, fmt.Errorf("registry: decode model for category %q: %w", es.Category, err)
		}

		entries[es.Category] = &entry{model: model, summary: es.Summary}
	}

	return &Registry{width: st.Width, entries: entries}, nil
}
