// Package glm fits L2-regularized logistic regressions by iteratively
// reweighted least squares. It is the shared numerical core of the rbf and
// linear trainers.
package glm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular indicates that the penalized normal equations could not be
// factorized.
var ErrSingular = errors.New("glm: singular system")

// ErrNotConverged is a named error type for iteration budget exhaustion
type ErrNotConverged struct {
	Iterations int
}

// Error returns the error message for iteration budget exhaustion
func (e *ErrNotConverged) Error() string {
	return fmt.Sprintf("glm: did not converge within %d iterations", e.Iterations)
}

// Config bounds the IRLS iteration.
type Config struct {
	Lambda  float64 // L2 penalty applied to every coefficient
	MaxIter int
	Tol     float64 // max absolute coefficient change considered converged
}

// Fit solves a regularized logistic regression of y on the design matrix
// phi (rows = samples; columns include any intercept column the caller
// added). It returns one coefficient per design column.
func Fit(phi *mat.Dense, y []bool, cfg Config) ([]float64, error) {
	n, p := phi.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("glm: %d rows for %d labels", n, len(y))
	}

	if cfg.Lambda < 0 {
		return nil, fmt.Errorf("glm: negative penalty %g", cfg.Lambda)
	}

	if cfg.MaxIter <= 0 || cfg.Tol <= 0 {
		return nil, fmt.Errorf("glm: invalid iteration budget %d / tolerance %g", cfg.MaxIter, cfg.Tol)
	}

	w := mat.NewVecDense(p, nil)
	eta := mat.NewVecDense(n, nil)

	scaled := mat.NewDense(n, p, nil)
	sz := mat.NewVecDense(n, nil)

	a := mat.NewSymDense(p, nil)
	b := mat.NewVecDense(p, nil)
	next := mat.NewVecDense(p, nil)

	var chol mat.Cholesky

	for iter := 0; iter < cfg.MaxIter; iter++ {
		eta.MulVec(phi, w)

		// Working weights and response. mu is clamped away from the
		// saturated ends so the weights stay positive.
		for i := 0; i < n; i++ {
			mu := sigmoid(eta.AtVec(i))
			mu = math.Min(math.Max(mu, 1e-9), 1-1e-9)

			s := mu * (1 - mu)

			target := 0.0
			if y[i] {
				target = 1.0
			}

			z := eta.AtVec(i) + (target-mu)/s
			sz.SetVec(i, s*z)

			root := math.Sqrt(s)
			for j := 0; j < p; j++ {
				scaled.Set(i, j, root*phi.At(i, j))
			}
		}

		// Penalized normal equations: (phi' S phi + lambda I) w = phi' S z.
		a.SymOuterK(1, scaled.T())
		for j := 0; j < p; j++ {
			a.SetSym(j, j, a.At(j, j)+cfg.Lambda)
		}

		b.MulVec(phi.T(), sz)

		if ok := chol.Factorize(a); !ok {
			return nil, ErrSingular
		}

		if err := chol.SolveVecTo(next, b); err != nil {
			return nil, fmt.Errorf("glm: solve: %w", err)
		}

		var delta float64
		for j := 0; j < p; j++ {
			if d := math.Abs(next.AtVec(j) - w.AtVec(j)); d > delta {
				delta = d
			}
		}

		w.CopyVec(next)

		if delta < cfg.Tol {
			out := make([]float64, p)
			for j := 0; j < p; j++ {
				out[j] = w.AtVec(j)
			}

			return out, nil
		}
	}

	return nil, &ErrNotConverged{Iterations: cfg.MaxIter}
}

// Sigmoid is the logistic link shared by the trainers that calibrate
// probabilities on top of Fit.
func Sigmoid(x float64) float64 {
	return sigmoid(x)
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}

	e := math.Exp(x)

	return e / (1 + e)
}
