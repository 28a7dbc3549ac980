package cytogo

import (
	"log/slog"

	"github.com/hupe1980/cytogo/align"
	"github.com/hupe1980/cytogo/bundle"
	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/predict"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/resource"
	"github.com/hupe1980/cytogo/trainer"
)

// ProgressEvent reports the completion of one category's training.
type ProgressEvent struct {
	// Category is the category whose model finished training.
	Category string

	// Completed and Total count finished categories within the run.
	Completed int
	Total     int

	// Summary is the category's cross-validated performance record.
	Summary trainer.Summary
}

type options struct {
	trainer          trainer.Trainer
	trainers         map[string]trainer.Trainer
	resampling       trainer.Resampling
	categories       []string
	parallelism      int
	threshold        float64
	recompute        bool
	seed             int64
	significance     float64
	corrector        align.Corrector
	codec            codec.Codec
	compression      bundle.Compression
	controller       *resource.Controller
	progress         func(e ProgressEvent)
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures model training, prediction and persistence behavior.
//
// Options set at Train time become the model's defaults; every Model
// operation accepts further options that override them for that call only.
type Option func(*options)

// WithTrainer sets the model family used for categories without a
// per-category override.
//
// If nil is passed, the default RBF kernel trainer is used.
func WithTrainer(t trainer.Trainer) Option {
	return func(o *options) {
		o.trainer = t
	}
}

// WithCategoryTrainer overrides the model family for a single category.
// Mixing families across categories is legal and produces a heterogeneous
// registry.
func WithCategoryTrainer(category string, t trainer.Trainer) Option {
	return func(o *options) {
		trainers := make(map[string]trainer.Trainer, len(o.trainers)+1)
		for c, tr := range o.trainers {
			trainers[c] = tr
		}
		trainers[category] = t
		o.trainers = trainers
	}
}

// WithResampling sets the cross-validation protocol used to score each
// category's model.
func WithResampling(rs trainer.Resampling) Option {
	return func(o *options) {
		o.resampling = rs
	}
}

// WithCategories restricts an operation to the named categories.
//
// On Retrain it selects the categories whose models are replaced; on
// Predict it restricts scoring to the named categories. An empty list
// means all trained categories.
func WithCategories(categories ...string) Option {
	return func(o *options) {
		o.categories = categories
	}
}

// WithParallelism caps the number of categories trained, or sample shards
// scored, concurrently. The default of 1 keeps operations sequential;
// results are identical at every degree.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithThreshold sets the decision threshold in (0,1). A sample whose best
// probability is strictly below it is labeled Unassigned.
func WithThreshold(threshold float64) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

// WithRecompute controls alignment memoization. When false, a Predict or
// Align call reuses the model's cached alignment state if its fingerprint
// matches the query; when true (the default), alignment is recomputed.
func WithRecompute(recompute bool) Option {
	return func(o *options) {
		o.recompute = recompute
	}
}

// WithSeed sets the base random seed for training and alignment.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithSignificance keeps only embedding dimensions significant at level
// alpha for at least one category when deriving the feature space. Zero
// keeps every dimension.
func WithSignificance(alpha float64) Option {
	return func(o *options) {
		o.significance = alpha
	}
}

// WithCorrector sets the alignment correction strategy.
//
// If nil is passed, the default anchored corrector is used.
func WithCorrector(c align.Corrector) Option {
	return func(o *options) {
		o.corrector = c
	}
}

// WithCodec configures the codec used for encoding bundle sections.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the bundle section compression.
func WithCompression(c bundle.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithController bounds training workers, bundle IO and progress delivery
// by the given resource controller. Pass nil to disable.
func WithController(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.controller = ctrl
	}
}

// WithProgress registers a callback for per-category training completion.
// Events may arrive from concurrent workers. When a resource controller is
// set, intermediate events are rate-limited; the final event is always
// delivered.
func WithProgress(fn func(e ProgressEvent)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &cytogo.BasicMetricsCollector{}
//	model, _ := cytogo.Train(ctx, emb, labels, cytogo.WithMetricsCollector(metrics))
//	// ... use model ...
//	stats := metrics.GetStats()
//	fmt.Printf("Trained: %d, Avg latency: %dns\n", stats.TrainCategories, stats.TrainAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := cytogo.NewJSONLogger(slog.LevelInfo)
//	model, _ := cytogo.Train(ctx, emb, labels, cytogo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		resampling:       trainer.DefaultResampling,
		parallelism:      1,
		threshold:        predict.DefaultThreshold,
		recompute:        true,
		seed:             42,
		compression:      bundle.DefaultOptions.Compression,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// apply returns a copy of o with the given options layered on top.
func (o options) apply(optFns []Option) options {
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// registryOptions assembles the training options of the registry layer.
// The progress callback is passed separately because the facade wraps it
// with run-scoped counters.
func (o *options) registryOptions(progress func(s trainer.Summary)) []func(ro *registry.Options) {
	fns := []func(ro *registry.Options){
		registry.WithResampling(o.resampling),
		registry.WithSeed(o.seed),
		registry.WithParallelism(o.parallelism),
	}

	if o.trainer != nil {
		fns = append(fns, registry.WithTrainer(o.trainer))
	}

	for category, tr := range o.trainers {
		fns = append(fns, registry.WithCategoryTrainer(category, tr))
	}

	if o.controller != nil {
		fns = append(fns, registry.WithController(o.controller))
	}

	if progress != nil {
		fns = append(fns, registry.WithProgress(progress))
	}

	return fns
}

// aligner builds the aligner the options describe, anchored on the given
// reference embedding.
func (o *options) aligner(emb *embedding.Embedding) *align.Aligner {
	fns := []func(ao *align.Options){align.WithSeed(o.seed)}

	if o.corrector != nil {
		fns = append(fns, align.WithCorrector(o.corrector))
	}

	return align.New(emb, fns...)
}

// predictOptions assembles the scoring options of the predict layer.
func (o *options) predictOptions() []func(po *predict.Options) {
	fns := []func(po *predict.Options){
		predict.WithThreshold(o.threshold),
		predict.WithParallelism(o.parallelism),
	}

	if len(o.categories) > 0 {
		fns = append(fns, predict.WithCategories(o.categories...))
	}

	return fns
}

// bundleOptions assembles the persistence options of the bundle layer.
func (o *options) bundleOptions() []func(bo *bundle.Options) {
	fns := []func(bo *bundle.Options){
		bundle.WithCompression(o.compression),
	}

	if o.codec != nil {
		fns = append(fns, bundle.WithCodec(o.codec))
	}

	if o.controller != nil {
		fns = append(fns, bundle.WithController(o.controller))
	}

	return fns
}
