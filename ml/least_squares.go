package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrSingular = errors.New("normal equations are singular")

// LeastSquares returns the closed-form solution w = (X^T X)^-1 X^T y.
func LeastSquares(X mat.Matrix, y mat.Vector) (*mat.VecDense, error) {
	if err := CheckDims(X, y, nil); err != nil {
		return nil, err
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	_, cols := X.Dims()
	w := mat.NewVecDense(cols, nil)
	if err := w.SolveVec(&xtx, &xty); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("%w (condition number %g)", ErrSingular, float64(cond))
		}
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}
	for _, v := range w.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrSingular
		}
	}
	return w, nil
}

// SpectralNorm returns the largest singular value of X.
func SpectralNorm(X mat.Matrix) float64 {
	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDNone) {
		// Frobenius norm bounds the spectral norm from above.
		return mat.Norm(X, 2)
	}
	return svd.Values(nil)[0]
}

// SpectralStepSize returns 1/||X||_2^2. For hinge loss this is a plain fixed
// step. The least squares gradient has Lipschitz constant 2||X||_2^2, so for
// MSE this step sits exactly on the 2/L stability edge: the error component
// along the top singular vector flips sign every step without shrinking.
func SpectralStepSize(X mat.Matrix) float64 {
	norm := SpectralNorm(X)
	if norm == 0 {
		return 0
	}
	return 1 / (norm * norm)
}
