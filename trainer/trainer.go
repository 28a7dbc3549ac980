// Package trainer defines the contract for per-category binary classifiers:
// the Trainer that fits them, the Model they produce, and the shared
// cross-validation machinery that scores them.
//
// Concrete model families live in subpackages (rbf, linear, centroid) and
// register a decoder here so persisted models can be reconstructed by
// method name.
package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Model is a trained binary classifier for a single category.
//
// PredictProbability returns the probability in [0,1] that the given
// feature-space vector belongs to the model's category. Implementations
// must be safe for concurrent use and must round-trip through
// MarshalBinary and the decoder registered for their method.
type Model interface {
	PredictProbability(v []float32) float64
	Method() string
	MarshalBinary() ([]byte, error)
}

// Trainer fits binary one-vs-rest classifiers.
type Trainer interface {
	// Train fits a model on rows x with membership flags y (true =
	// member of the category). The rng drives every stochastic choice,
	// so equal seeds produce equal models regardless of scheduling.
	Train(ctx context.Context, x [][]float32, y []bool, rng *rand.Rand) (Model, error)

	// Method identifies the model family. Stable: persisted models are
	// decoded by this name.
	Method() string
}

// Resampling configures the cross-validation protocol used to score a
// category's model.
type Resampling struct {
	Folds   int // number of folds, minimum 2
	Repeats int // repeated k-fold when greater than 1
}

// DefaultResampling is 5-fold cross-validation without repeats.
var DefaultResampling = Resampling{Folds: 5, Repeats: 1}

// Summary is the cross-validated performance record of one category's
// model.
type Summary struct {
	Category    string  `json:"category"`
	Method      string  `json:"method"`
	Features    int     `json:"features"`
	Folds       int     `json:"folds"`
	Repeats     int     `json:"repeats"`
	Sensitivity float64 `json:"sensitivity"`
	Specificity float64 `json:"specificity"`
	AUC         float64 `json:"auc"`
}

var (
	decoderMu sync.RWMutex
	decoders  = make(map[string]func(data []byte) (Model, error))
)

// RegisterModel registers a decoder for models of the given method.
// Typically called from the implementing package's init. Registering the
// same method twice panics.
func RegisterModel(method string, fn func(data []byte) (Model, error)) {
	decoderMu.Lock()
	defer decoderMu.Unlock()

	if _, ok := decoders[method]; ok {
		panic(fmt.Sprintf("trainer: model decoder %q registered twice", method))
	}

	decoders[method] = fn
}

// DecodeModel reconstructs a model from its method name and marshaled
// payload.
func DecodeModel(method string, data []byte) (Model, error) {
	decoderMu.RLock()
	fn, ok := decoders[method]
	decoderMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("trainer: no model decoder registered for method %q", method)
	}

	return fn(data)
}
