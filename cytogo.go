// Package cytogo provides a reference-based cell type classification engine.
//
// This file implements the Model facade that orchestrates feature space
// derivation, classifier training, query alignment, prediction and
// persistence.
package cytogo

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/cytogo/align"
	"github.com/hupe1980/cytogo/blobstore"
	"github.com/hupe1980/cytogo/bundle"
	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/feature"
	"github.com/hupe1980/cytogo/predict"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/report"
	"github.com/hupe1980/cytogo/trainer"
)

const (
	// Unassigned is the sentinel label for samples whose best probability
	// stays strictly below the decision threshold.
	Unassigned = predict.Unassigned

	// DefaultThreshold is the default decision threshold.
	DefaultThreshold = predict.DefaultThreshold
)

// Model is a trained classification model: the feature space derived from
// a labeled reference embedding, one classifier per category, and the
// alignment anchor that maps new query datasets into the reference basis.
//
// A Model is safe for concurrent use. Options given at construction become
// its defaults; every operation accepts further options that override them
// for that call only.
type Model struct {
	mu      sync.RWMutex
	space   *feature.Space
	reg     *registry.Registry
	emb     *embedding.Embedding
	aligned *align.State

	opts options
}

// Train derives a feature space from the labeled reference embedding and
// fits one one-vs-rest classifier per category, each scored by
// cross-validation.
//
// Trainer failures are per-category: siblings keep training, and Train
// returns the model holding the successful categories together with the
// joined failures. Only when no category trains at all (or the reference
// fails validation) is the model nil.
func Train(ctx context.Context, emb *embedding.Embedding, labels []string, optFns ...Option) (*Model, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	space, err := buildSpace(emb, labels, &opts)
	if err != nil {
		err = translateError(err)
		opts.metricsCollector.RecordTrain(0, 0, time.Since(start))
		opts.logger.LogTrain(ctx, 0, 0, err)
		return nil, err
	}

	total := len(space.Categories())

	reg, err := registry.Train(ctx, space, emb, labels, opts.registryOptions(progressBridge(&opts, total))...)
	failed := countTrainerFailures(err)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordTrain(total, failed, duration)
	opts.logger.LogTrain(ctx, total, failed, err)
	if reg == nil {
		return nil, err
	}

	return &Model{space: space, reg: reg, emb: emb, opts: opts}, err
}

// buildSpace derives the feature space the options describe.
func buildSpace(emb *embedding.Embedding, labels []string, opts *options) (*feature.Space, error) {
	if opts.significance > 0 {
		return feature.Build(emb, labels, feature.WithSignificance(opts.significance))
	}

	return feature.Build(emb, labels)
}

// progressBridge adapts the facade progress callback to the registry's
// summary callback, numbering events across the run. Intermediate events
// pass through the controller's progress limiter; the final event is
// always delivered.
func progressBridge(opts *options, total int) func(s trainer.Summary) {
	if opts.progress == nil {
		return nil
	}

	progress := opts.progress
	ctrl := opts.controller

	var completed atomic.Int64

	return func(s trainer.Summary) {
		n := int(completed.Add(1))
		if n < total && !ctrl.AllowProgress() {
			return
		}

		progress(ProgressEvent{Category: s.Category, Completed: n, Total: total, Summary: s})
	}
}

// countTrainerFailures counts the per-category failures inside a joined
// training error.
func countTrainerFailures(err error) int {
	if err == nil {
		return 0
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		count := 0
		for _, e := range joined.Unwrap() {
			count += countTrainerFailures(e)
		}

		return count
	}

	var te *registry.ErrTrainer
	if errors.As(err, &te) {
		return 1
	}

	return 0
}

// Retrain fits fresh classifiers for the selected categories against the
// given reference labels and swaps them into the model. Categories are
// selected with WithCategories; an empty selection retrains every
// category. A different trainer than the original run's is legal and
// yields a heterogeneous registry.
//
// Every unselected category keeps its model and performance summary bit
// for bit, as does a selected category whose retraining fails.
func (m *Model) Retrain(ctx context.Context, labels []string, optFns ...Option) error {
	start := time.Now()
	opts := m.opts.apply(optFns)

	m.mu.RLock()
	space, reg, emb := m.space, m.reg, m.emb
	m.mu.RUnlock()

	categories := opts.categories
	if len(categories) == 0 {
		categories = space.Categories()
	}

	next, err := reg.Retrain(ctx, space, emb, labels, categories, opts.registryOptions(progressBridge(&opts, len(categories)))...)
	failed := countTrainerFailures(err)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordTrain(len(categories), failed, duration)
	opts.logger.LogRetrain(ctx, len(categories), failed, err)
	if next == nil {
		return err
	}

	m.mu.Lock()
	m.reg = next
	m.mu.Unlock()

	return err
}

// Align projects the query's raw feature vectors into the reference basis
// and corrects them toward the reference distribution. The resulting state
// is memoized on the model: a later call with WithRecompute(false) reuses
// it as long as the query fingerprint matches, so updated classifiers can
// be applied without repeating the expensive correction.
func (m *Model) Align(ctx context.Context, query *dataset.Dataset, optFns ...Option) (*align.State, error) {
	start := time.Now()
	opts := m.opts.apply(optFns)

	state, reused, err := m.alignState(ctx, query, &opts)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordAlign(query.Len(), duration, err)
	opts.logger.LogAlign(ctx, query.Len(), reused, err)
	if err != nil {
		return nil, err
	}

	return state, nil
}

// alignState aligns the query, or reuses the memoized state when recompute
// is disabled and the cached fingerprint still matches the query.
func (m *Model) alignState(ctx context.Context, query *dataset.Dataset, opts *options) (*align.State, bool, error) {
	m.mu.RLock()
	emb, cached := m.emb, m.aligned
	m.mu.RUnlock()

	aligner := opts.aligner(emb)

	if !opts.recompute && cached != nil && cached.Fingerprint() == aligner.Fingerprint(query.Vectors()) {
		return cached, true, nil
	}

	state, err := aligner.Align(ctx, query.Vectors())
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	m.aligned = state
	m.mu.Unlock()

	return state, false, nil
}

// Result is the outcome for one query sample.
type Result struct {
	// ID identifies the sample within the query dataset.
	ID string

	// Probabilities holds every scored category's independent membership
	// probability.
	Probabilities map[string]float64

	// Label is the selected category, or Unassigned when no probability
	// clears the decision threshold.
	Label string

	// Coords is the sample's aligned coordinate in the reference basis.
	Coords []float32
}

// Predict aligns the query into the reference basis and scores every
// sample against the trained classifiers. The model itself is not
// mutated beyond the memoized alignment state.
func (m *Model) Predict(ctx context.Context, query *dataset.Dataset, optFns ...Option) ([]Result, error) {
	start := time.Now()
	opts := m.opts.apply(optFns)

	m.mu.RLock()
	space, reg := m.space, m.reg
	m.mu.RUnlock()

	state, _, err := m.alignState(ctx, query, &opts)
	if err != nil {
		duration := time.Since(start)
		err = translateError(err)
		opts.metricsCollector.RecordPredict(query.Len(), duration, err)
		opts.logger.LogPredict(ctx, query.Len(), 0, err)
		return nil, err
	}

	preds, err := predict.Predict(ctx, space.SelectAll(state.Coords()), reg, opts.predictOptions()...)
	duration := time.Since(start)
	err = translateError(err)
	if err != nil {
		opts.metricsCollector.RecordPredict(query.Len(), duration, err)
		opts.logger.LogPredict(ctx, query.Len(), 0, err)
		return nil, err
	}

	results := make([]Result, len(preds))
	unassigned := 0

	for i, p := range preds {
		if p.Label == Unassigned {
			unassigned++
		}

		results[i] = Result{
			ID:            query.ID(i),
			Probabilities: p.Probabilities,
			Label:         p.Label,
			Coords:        state.Coord(i),
		}
	}

	opts.metricsCollector.RecordPredict(query.Len(), duration, nil)
	opts.logger.LogPredict(ctx, query.Len(), unassigned, nil)
	return results, nil
}

// CrossTab cross-tabulates true labels against predicted results, row per
// true category, column per predicted label.
func CrossTab(truth []string, results []Result, optFns ...func(o *report.Options)) (*report.CrossTab, error) {
	predicted := make([]string, len(results))
	for i, r := range results {
		predicted[i] = r.Label
	}

	return report.NewCrossTab(truth, predicted, optFns...)
}

// Categories returns the trained category names in lexicographic order.
func (m *Model) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.Categories()
}

// Summaries returns every category's cross-validated performance record,
// ordered by category name.
func (m *Model) Summaries() []trainer.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.Summaries()
}

// Summary returns the performance record of one category.
func (m *Model) Summary(category string) (trainer.Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.Summary(category)
}

// FeatureSpace returns the feature space derived from the reference.
func (m *Model) FeatureSpace() *feature.Space {
	return m.space
}

// Embedding returns the reference embedding the model is anchored on.
func (m *Model) Embedding() *embedding.Embedding {
	return m.emb
}

// Registry returns the trained classifier registry.
func (m *Model) Registry() *registry.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg
}

// bundle assembles the persistable state under the read lock.
func (m *Model) bundle() *bundle.Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &bundle.Bundle{Space: m.space, Registry: m.reg, Embedding: m.emb}
}

// SaveToWriter serializes the model to w. The bundle carries everything
// prediction needs: feature space, classifiers and the alignment anchor,
// independent of the raw reference data.
func (m *Model) SaveToWriter(ctx context.Context, w io.Writer, optFns ...Option) error {
	start := time.Now()
	opts := m.opts.apply(optFns)

	err := translateError(bundle.Write(ctx, w, m.bundle(), opts.bundleOptions()...))
	opts.metricsCollector.RecordSave(time.Since(start), err)
	opts.logger.LogSave(ctx, "stream", err)
	return err
}

// SaveToFile serializes the model to a file. The write is atomic: the
// file appears complete or not at all.
func (m *Model) SaveToFile(ctx context.Context, path string, optFns ...Option) error {
	start := time.Now()
	opts := m.opts.apply(optFns)

	err := translateError(bundle.SaveToFile(ctx, path, m.bundle(), opts.bundleOptions()...))
	opts.metricsCollector.RecordSave(time.Since(start), err)
	opts.logger.LogSave(ctx, path, err)
	return err
}

// SaveToStore writes the model bundle to the named blob. The blob becomes
// visible to readers only after the write completes.
func (m *Model) SaveToStore(ctx context.Context, store blobstore.Store, name string, optFns ...Option) error {
	start := time.Now()
	opts := m.opts.apply(optFns)

	err := translateError(m.saveToStore(ctx, store, name, &opts))
	opts.metricsCollector.RecordSave(time.Since(start), err)
	opts.logger.LogSave(ctx, name, err)
	return err
}

func (m *Model) saveToStore(ctx context.Context, store blobstore.Store, name string, opts *options) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}

	if err := bundle.Write(ctx, w, m.bundle(), opts.bundleOptions()...); err != nil {
		_ = w.Abort()
		return err
	}

	return w.Close()
}

// fromBundle builds a model around loaded bundle state.
func fromBundle(b *bundle.Bundle, opts options) *Model {
	return &Model{space: b.Space, reg: b.Registry, emb: b.Embedding, opts: opts}
}

// NewFromReader reconstructs a model from a serialized bundle. The codec
// and compression are resolved from the bundle header.
func NewFromReader(ctx context.Context, r io.Reader, optFns ...Option) (*Model, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	b, err := bundle.Read(ctx, r, opts.bundleOptions()...)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordLoad(duration, err)
	opts.logger.LogLoad(ctx, "stream", err)
	if err != nil {
		return nil, err
	}

	return fromBundle(b, opts), nil
}

// NewFromFile reconstructs a model from a bundle file.
func NewFromFile(ctx context.Context, path string, optFns ...Option) (*Model, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	b, err := bundle.LoadFromFile(ctx, path, opts.bundleOptions()...)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordLoad(duration, err)
	opts.logger.LogLoad(ctx, path, err)
	if err != nil {
		return nil, err
	}

	return fromBundle(b, opts), nil
}

// NewFromStore reconstructs a model from the named blob.
func NewFromStore(ctx context.Context, store blobstore.Store, name string, optFns ...Option) (*Model, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	b, err := readFromStore(ctx, store, name, &opts)
	duration := time.Since(start)
	err = translateError(err)
	opts.metricsCollector.RecordLoad(duration, err)
	opts.logger.LogLoad(ctx, name, err)
	if err != nil {
		return nil, err
	}

	return fromBundle(b, opts), nil
}

func readFromStore(ctx context.Context, store blobstore.Store, name string, opts *options) (*bundle.Bundle, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	return bundle.Read(ctx, blob, opts.bundleOptions()...)
}
