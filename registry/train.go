package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/feature"
	"github.com/hupe1980/cytogo/trainer"
	"github.com/hupe1980/cytogo/trainer/rbf"
)

// Train fits one classifier per feature space category, one-vs-rest over
// the reference embedding. Failed categories do not stop their siblings:
// Train returns the registry of successful classifiers together with the
// joined failures, or nil and the error when nothing trained.
func Train(ctx context.Context, space *feature.Space, emb *embedding.Embedding, labels []string, optFns ...func(o *Options)) (*Registry, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	idx, err := prepare(space, emb, labels)
	if err != nil {
		return nil, err
	}

	x := space.SelectAll(emb.Coords())

	entries, err := trainCategories(ctx, space, x, idx, space.Categories(), &opts)
	if len(entries) == 0 {
		return nil, err
	}

	return &Registry{width: space.Width(), entries: entries}, err
}

// Retrain fits fresh classifiers for the named categories against the given
// reference and returns a new registry. Every other category keeps its
// existing model bit for bit. A named category whose retraining fails also
// keeps its previous model; the failure is reported in the joined error.
func (r *Registry) Retrain(ctx context.Context, space *feature.Space, emb *embedding.Embedding, labels []string, categories []string, optFns ...func(o *Options)) (*Registry, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(categories) == 0 {
		return nil, errors.New("registry: no categories to retrain")
	}

	if space.Width() != r.width {
		return nil, fmt.Errorf("registry: feature space width %d does not match registry width %d", space.Width(), r.width)
	}

	for _, category := range categories {
		if !slices.Contains(space.Categories(), category) {
			return nil, &ErrUnknownCategory{Category: category}
		}
	}

	idx, err := prepare(space, emb, labels)
	if err != nil {
		return nil, err
	}

	x := space.SelectAll(emb.Coords())

	fresh, err := trainCategories(ctx, space, x, idx, categories, &opts)

	next := &Registry{
		width:   r.width,
		entries: make(map[string]*entry, len(r.entries)+len(fresh)),
	}

	for category, e := range r.entries {
		next.entries[category] = e
	}

	for category, e := range fresh {
		next.entries[category] = e
	}

	return next, err
}

// prepare validates the reference against the feature space and indexes the
// labels.
func prepare(space *feature.Space, emb *embedding.Embedding, labels []string) (*dataset.LabelIndex, error) {
	if emb.Samples() != len(labels) {
		return nil, fmt.Errorf("registry: %d labels for %d samples", len(labels), emb.Samples())
	}

	if emb.Dim() != space.FullDim() {
		return nil, fmt.Errorf("registry: embedding width %d does not match feature space width %d", emb.Dim(), space.FullDim())
	}

	idx := dataset.NewLabelIndex(labels)

	if !slices.Equal(idx.Categories(), space.Categories()) {
		return nil, fmt.Errorf("registry: label categories %v do not match feature space categories %v", idx.Categories(), space.Categories())
	}

	return idx, nil
}

// trainCategories trains the given categories over the selected rows x.
// Failures land in per-category slots so one category cannot cancel its
// siblings; the slots are joined in category order.
func trainCategories(ctx context.Context, space *feature.Space, x [][]float32, idx *dataset.LabelIndex, categories []string, opts *Options) (map[string]*entry, error) {
	if opts.Trainer == nil {
		opts.Trainer = rbf.New()
	}

	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]*entry, len(categories))
	errs := make([]error, len(categories))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, category := range categories {
		g.Go(func() error {
			e, err := trainOne(ctx, space, x, idx, category, opts)
			if err != nil {
				errs[i] = &ErrTrainer{Category: category, Err: err}

				return nil
			}

			results[i] = e

			if opts.Progress != nil {
				opts.Progress(e.summary)
			}

			return nil
		})
	}

	// Workers report through the slots above.
	_ = g.Wait()

	entries := make(map[string]*entry, len(categories))
	for i, category := range categories {
		if results[i] != nil {
			entries[category] = results[i]
		}
	}

	return entries, errors.Join(errs...)
}

// trainOne cross-validates and then fits one category's classifier.
func trainOne(ctx context.Context, space *feature.Space, x [][]float32, idx *dataset.LabelIndex, category string, opts *Options) (*entry, error) {
	if err := opts.Controller.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer opts.Controller.ReleaseWorker()

	tr := opts.Trainer
	if override, ok := opts.Trainers[category]; ok {
		tr = override
	}

	y := make([]bool, len(x))
	for i := range idx.Members(category) {
		y[i] = true
	}

	metrics, err := trainer.CrossValidate(ctx, tr, x, y, opts.Resampling, rngFor(opts.Seed, category, "cv"))
	if err != nil {
		return nil, err
	}

	model, err := tr.Train(ctx, x, y, rngFor(opts.Seed, category, "fit"))
	if err != nil {
		return nil, err
	}

	return &entry{
		model: model,
		summary: trainer.Summary{
			Category:    category,
			Method:      model.Method(),
			Features:    space.Width(),
			Folds:       opts.Resampling.Folds,
			Repeats:     opts.Resampling.Repeats,
			Sensitivity: metrics.Sensitivity,
			Specificity: metrics.Specificity,
			AUC:         metrics.AUC,
		},
	}, nil
}

// rngFor derives an independent random stream from the base seed, the
// category, and the stream name. The derivation depends only on these
// inputs, so a category retrains to identical bytes no matter which other
// categories train alongside it.
func rngFor(seed int64, category, stream string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(stream))

	return rand.New(rand.NewSource(seed ^ int64(h.Sum64()))) // nolint gosec
}
