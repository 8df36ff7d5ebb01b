package ml

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Classify predicts sign(X.w) per sample. A zero score maps to label 0, which
// never matches a +1/-1 label.
func Classify(X mat.Matrix, w mat.Vector) *mat.VecDense {
	var scores mat.VecDense
	scores.MulVec(X, w)

	labels := mat.NewVecDense(scores.Len(), nil)
	for i := 0; i < scores.Len(); i++ {
		labels.SetVec(i, sign(scores.AtVec(i)))
	}
	return labels
}

// ErrorCount counts positions where yHat and y disagree.
func ErrorCount(yHat, y mat.Vector) int {
	var errs int
	for i := 0; i < y.Len(); i++ {
		if yHat.AtVec(i) != y.AtVec(i) {
			errs++
		}
	}
	return errs
}

// PercentError is ErrorCount/len(y)*100.
func PercentError(yHat, y mat.Vector) float64 {
	if y.Len() == 0 {
		return 0
	}
	return float64(ErrorCount(yHat, y)) / float64(y.Len()) * 100
}

// Report holds the figures printed after a training run.
type Report struct {
	PercentError float64
	TrainingLoss float64
}

// Evaluate classifies the full set (X, y) with w and evaluates the training
// loss of kind on (Xtr, ytr).
func Evaluate(kind LossKind, X mat.Matrix, y mat.Vector, Xtr mat.Matrix, ytr mat.Vector, w mat.Vector) (Report, error) {
	if err := CheckDims(X, y, w); err != nil {
		return Report{}, err
	}
	if err := CheckDims(Xtr, ytr, w); err != nil {
		return Report{}, err
	}
	yHat := Classify(X, w)
	return Report{
		PercentError: PercentError(yHat, y),
		TrainingLoss: Loss(kind, Xtr, ytr, w),
	}, nil
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
