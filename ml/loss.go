package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrDimensionMismatch = errors.New("dimension mismatch")

// LossKind selects the loss/gradient pair used by a training run.
type LossKind int

const (
	Hinge LossKind = iota + 1
	MeanSquaredError
)

func (k LossKind) String() string {
	switch k {
	case Hinge:
		return "hinge"
	case MeanSquaredError:
		return "mse"
	default:
		return fmt.Sprintf("LossKind(%d)", int(k))
	}
}

// CheckDims validates that X is n×d, y has n entries and w has d entries.
// w may be nil when only the sample/label pairing is checked.
func CheckDims(X mat.Matrix, y, w mat.Vector) error {
	rows, cols := X.Dims()
	if y.Len() != rows {
		return fmt.Errorf("%w: %d samples but %d labels", ErrDimensionMismatch, rows, y.Len())
	}
	if w != nil && w.Len() != cols {
		return fmt.Errorf("%w: %d features but %d weights", ErrDimensionMismatch, cols, w.Len())
	}
	return nil
}

// Loss evaluates the loss of the given kind. Inputs must satisfy CheckDims.
func Loss(kind LossKind, X mat.Matrix, y, w mat.Vector) float64 {
	if kind == Hinge {
		return HingeLoss(X, y, w)
	}
	return MSELoss(X, y, w)
}

// Gradient evaluates the (sub)gradient of the given kind at w.
func Gradient(kind LossKind, X mat.Matrix, y, w mat.Vector) *mat.VecDense {
	if kind == Hinge {
		return HingeGradient(X, y, w)
	}
	return MSEGradient(X, y, w)
}

// Step returns w - tau*Gradient(kind, X, y, w). w is not modified.
func Step(kind LossKind, X mat.Matrix, y, w mat.Vector, tau float64) *mat.VecDense {
	grad := Gradient(kind, X, y, w)
	next := mat.NewVecDense(w.Len(), nil)
	next.AddScaledVec(w, -tau, grad)
	return next
}

// HingeLoss is sum_i max(0, 1 - y_i*(X_i.w)).
func HingeLoss(X mat.Matrix, y, w mat.Vector) float64 {
	var scores mat.VecDense
	scores.MulVec(X, w)

	var loss float64
	for i := 0; i < scores.Len(); i++ {
		loss += math.Max(1-y.AtVec(i)*scores.AtVec(i), 0)
	}
	return loss
}

// HingeGradient is -sum_i 0.5*y_i*(1 + sign(1 - y_i*(X_i.w)))*X_i.
// A sample sitting exactly on the margin has sign(0) = 0 and contributes half a term.
func HingeGradient(X mat.Matrix, y, w mat.Vector) *mat.VecDense {
	var scores mat.VecDense
	scores.MulVec(X, w)

	coef := mat.NewVecDense(scores.Len(), nil)
	for i := 0; i < scores.Len(); i++ {
		yi := y.AtVec(i)
		coef.SetVec(i, -0.5*yi*(1+sign(1-yi*scores.AtVec(i))))
	}

	_, cols := X.Dims()
	grad := mat.NewVecDense(cols, nil)
	grad.MulVec(X.T(), coef)
	return grad
}

// MSELoss is ||X.w - y||^2.
func MSELoss(X mat.Matrix, y, w mat.Vector) float64 {
	r := residual(X, y, w)
	return mat.Dot(r, r)
}

// MSEGradient is 2*X^T*(X.w - y).
func MSEGradient(X mat.Matrix, y, w mat.Vector) *mat.VecDense {
	r := residual(X, y, w)

	_, cols := X.Dims()
	grad := mat.NewVecDense(cols, nil)
	grad.MulVec(X.T(), r)
	grad.ScaleVec(2, grad)
	return grad
}

func residual(X mat.Matrix, y, w mat.Vector) *mat.VecDense {
	var r mat.VecDense
	r.MulVec(X, w)
	r.SubVec(&r, y)
	return &r
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
