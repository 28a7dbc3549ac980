// Package cytogo provides a reference-based cell type classification engine.
//
// This file implements the fluent builder API for training classification models.
// Builders are immutable - each method returns a new builder with the updated configuration.
package cytogo

import (
	"context"

	"github.com/hupe1980/cytogo/align"
	"github.com/hupe1980/cytogo/bundle"
	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/resource"
	"github.com/hupe1980/cytogo/trainer"
	"github.com/hupe1980/cytogo/trainer/centroid"
	"github.com/hupe1980/cytogo/trainer/linear"
	"github.com/hupe1980/cytogo/trainer/rbf"
)

// =============================================================================
// Classifier Builder (Immutable)
// =============================================================================

// Classifier creates a new classifier builder for the given reference
// embedding and per-sample category labels.
//
// The builder is immutable - each method returns a new builder with the updated
// configuration. This ensures thread-safety and prevents accidental state sharing.
//
// Example:
//
//	model, err := cytogo.Classifier(emb, labels).
//	    Linear().
//	    Folds(10).
//	    Seed(7).
//	    Train(ctx)
func Classifier(emb *embedding.Embedding, labels []string) ClassifierBuilder {
	return ClassifierBuilder{
		emb:    emb,
		labels: labels,
	}
}

// ClassifierBuilder is an immutable fluent builder for training classification
// models. Each method returns a new builder with the updated configuration.
type ClassifierBuilder struct {
	emb          *embedding.Embedding
	labels       []string
	trainer      trainer.Trainer
	trainers     map[string]trainer.Trainer
	folds        int
	repeats      int
	seed         *int64
	parallelism  int
	threshold    float64
	significance float64
	corrector    align.Corrector
	codec        codec.Codec
	compression  *bundle.Compression
	controller   *resource.Controller
	progress     func(ProgressEvent)
	logger       *Logger
	metrics      MetricsCollector
}

// RBF selects the kernel logistic trainer for every category.
// RBF handles categories that are not linearly separable in the embedding.
// Default: this is the trainer used when none is selected.
func (b ClassifierBuilder) RBF(optFns ...func(o *rbf.Options)) ClassifierBuilder {
	b.trainer = rbf.New(optFns...)
	return b
}

// Linear selects the regularized logistic trainer for every category.
// Linear models train faster than RBF and serialize to a compact weight vector.
func (b ClassifierBuilder) Linear(optFns ...func(o *linear.Options)) ClassifierBuilder {
	b.trainer = linear.New(optFns...)
	return b
}

// Centroid selects the nearest-centroid trainer for every category.
// Centroid models are the cheapest to train and a useful baseline.
func (b ClassifierBuilder) Centroid(optFns ...func(o *centroid.Options)) ClassifierBuilder {
	b.trainer = centroid.New(optFns...)
	return b
}

// Trainer sets a custom trainer for every category.
func (b ClassifierBuilder) Trainer(t trainer.Trainer) ClassifierBuilder {
	b.trainer = t
	return b
}

// CategoryTrainer overrides the trainer for a single category.
// Categories without an override use the builder's default trainer.
func (b ClassifierBuilder) CategoryTrainer(category string, t trainer.Trainer) ClassifierBuilder {
	trainers := make(map[string]trainer.Trainer, len(b.trainers)+1)
	for c, tr := range b.trainers {
		trainers[c] = tr
	}
	trainers[category] = t
	b.trainers = trainers
	return b
}

// Folds sets the number of cross-validation folds per category.
// Default: 5. Recommended range: 3-10.
func (b ClassifierBuilder) Folds(k int) ClassifierBuilder {
	b.folds = k
	return b
}

// Repeats sets the number of times cross-validation is repeated.
// Higher values stabilize the reported metrics but multiply training cost.
// Default: 1.
func (b ClassifierBuilder) Repeats(n int) ClassifierBuilder {
	b.repeats = n
	return b
}

// Seed sets the seed for deterministic fold assignment and anchor sampling.
// Default: 42.
func (b ClassifierBuilder) Seed(seed int64) ClassifierBuilder {
	b.seed = &seed
	return b
}

// Parallelism sets the number of categories trained concurrently.
// Default: 1 (sequential).
func (b ClassifierBuilder) Parallelism(n int) ClassifierBuilder {
	b.parallelism = n
	return b
}

// Threshold sets the model's default decision threshold for prediction.
// Samples whose best probability falls below it are labeled Unassigned.
// Default: 0.55. Must be in (0, 1).
func (b ClassifierBuilder) Threshold(t float64) ClassifierBuilder {
	b.threshold = t
	return b
}

// Significance keeps only embedding dimensions significant at level alpha
// for at least one category.
// Default: 0 (keep every dimension).
func (b ClassifierBuilder) Significance(alpha float64) ClassifierBuilder {
	b.significance = alpha
	return b
}

// Corrector sets the batch-effect corrector used when aligning queries.
func (b ClassifierBuilder) Corrector(c align.Corrector) ClassifierBuilder {
	b.corrector = c
	return b
}

// Codec sets the codec for model serialization.
func (b ClassifierBuilder) Codec(c codec.Codec) ClassifierBuilder {
	b.codec = c
	return b
}

// Compression sets the section compression used when saving the model.
// Default: bundle.CompressionZstd.
func (b ClassifierBuilder) Compression(c bundle.Compression) ClassifierBuilder {
	b.compression = &c
	return b
}

// Controller sets the resource controller for rate and memory admission.
func (b ClassifierBuilder) Controller(ctrl *resource.Controller) ClassifierBuilder {
	b.controller = ctrl
	return b
}

// Progress sets a callback invoked as per-category training completes.
func (b ClassifierBuilder) Progress(fn func(ProgressEvent)) ClassifierBuilder {
	b.progress = fn
	return b
}

// Logger sets the structured logger for operation tracing.
func (b ClassifierBuilder) Logger(l *Logger) ClassifierBuilder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b ClassifierBuilder) Metrics(mc MetricsCollector) ClassifierBuilder {
	b.metrics = mc
	return b
}

// Train derives the feature space and trains the classification model.
func (b ClassifierBuilder) Train(ctx context.Context) (*Model, error) {
	var opts []Option
	if b.trainer != nil {
		opts = append(opts, WithTrainer(b.trainer))
	}
	for category, t := range b.trainers {
		opts = append(opts, WithCategoryTrainer(category, t))
	}
	if b.folds > 0 || b.repeats > 0 {
		resampling := trainer.DefaultResampling
		if b.folds > 0 {
			resampling.Folds = b.folds
		}
		if b.repeats > 0 {
			resampling.Repeats = b.repeats
		}
		opts = append(opts, WithResampling(resampling))
	}
	if b.seed != nil {
		opts = append(opts, WithSeed(*b.seed))
	}
	if b.parallelism > 0 {
		opts = append(opts, WithParallelism(b.parallelism))
	}
	if b.threshold > 0 {
		opts = append(opts, WithThreshold(b.threshold))
	}
	if b.significance > 0 {
		opts = append(opts, WithSignificance(b.significance))
	}
	if b.corrector != nil {
		opts = append(opts, WithCorrector(b.corrector))
	}
	if b.codec != nil {
		opts = append(opts, WithCodec(b.codec))
	}
	if b.compression != nil {
		opts = append(opts, WithCompression(*b.compression))
	}
	if b.controller != nil {
		opts = append(opts, WithController(b.controller))
	}
	if b.progress != nil {
		opts = append(opts, WithProgress(b.progress))
	}
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		opts = append(opts, WithMetricsCollector(b.metrics))
	}

	return Train(ctx, b.emb, b.labels, opts...)
}

// MustTrain trains the model, panicking on error.
func (b ClassifierBuilder) MustTrain(ctx context.Context) *Model {
	model, err := b.Train(ctx)
	if err != nil {
		panic(err)
	}
	return model
}
