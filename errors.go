package cytogo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/cytogo/align"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/feature"
	"github.com/hupe1980/cytogo/registry"
)

var (
	// ErrDegenerateEmbedding is returned when every embedding dimension has
	// zero variance, leaving nothing to separate categories with.
	ErrDegenerateEmbedding = errors.New("degenerate embedding")
)

// ErrInsufficientData indicates reference data too small to train on:
// either a single category with fewer than two samples (Category names it)
// or fewer than two categories overall (Category is empty, Count is the
// category count).
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInsufficientData struct {
	Category string
	Count    int
	cause    error
}

func (e *ErrInsufficientData) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("insufficient data: %d categories", e.Count)
	}

	return fmt.Sprintf("insufficient data: category %q has %d samples", e.Category, e.Count)
}

func (e *ErrInsufficientData) Unwrap() error { return e.cause }

// ErrTrainer indicates that one category's trainer failed. Sibling
// categories train independently and are unaffected.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrTrainer struct {
	Category string
	cause    error
}

func (e *ErrTrainer) Error() string {
	return fmt.Sprintf("trainer failed for category %q", e.Category)
}

func (e *ErrTrainer) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a query/reference feature width mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrAlignmentNotConverged indicates that the alignment correction
// exhausted its iteration budget.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrAlignmentNotConverged struct {
	Iterations int
	cause      error
}

func (e *ErrAlignmentNotConverged) Error() string {
	return fmt.Sprintf("alignment did not converge within %d iterations", e.Iterations)
}

func (e *ErrAlignmentNotConverged) Unwrap() error { return e.cause }

// ErrUnknownCategory indicates a category the model was never trained on.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnknownCategory struct {
	Category string
	cause    error
}

func (e *ErrUnknownCategory) Error() string {
	return fmt.Sprintf("unknown category %q", e.Category)
}

func (e *ErrUnknownCategory) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Reference validation.
	if errors.Is(err, feature.ErrDegenerateEmbedding) {
		return fmt.Errorf("%w: %w", ErrDegenerateEmbedding, err)
	}
	var insufficient *feature.ErrInsufficientData
	if errors.As(err, &insufficient) {
		return &ErrInsufficientData{Category: insufficient.Category, Count: insufficient.Count, cause: err}
	}

	// Width normalization.
	var dm *embedding.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	// Alignment and training.
	var nc *align.ErrNotConverged
	if errors.As(err, &nc) {
		return &ErrAlignmentNotConverged{Iterations: nc.Iterations, cause: err}
	}
	var uc *registry.ErrUnknownCategory
	if errors.As(err, &uc) {
		return &ErrUnknownCategory{Category: uc.Category, cause: err}
	}
	var te *registry.ErrTrainer
	if errors.As(err, &te) {
		return &ErrTrainer{Category: te.Category, cause: err}
	}

	return err
}
