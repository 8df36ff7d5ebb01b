package dataset

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GaussianConfig describes a two-class Gaussian mixture.
type GaussianConfig struct {
	Samples    int
	Features   int
	TrainRatio float64
	// Separation shifts class means to +/- Separation on every feature.
	Separation float64
	Seed       int64
}

// Gaussian draws a dataset whose samples have label +/-1 and features
// N(label*Separation, 1). The first TrainRatio share of the rows is the
// training split; the full split holds every row.
func Gaussian(id int, config GaussianConfig) (*Dataset, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	if config.Samples < 2 || config.Features < 1 {
		return nil, errors.New("need at least 2 samples and 1 feature")
	}
	if config.TrainRatio <= 0 || config.TrainRatio > 1 {
		config.TrainRatio = 0.5
	}
	if config.Separation == 0 {
		config.Separation = 1
	}

	rng := rand.New(rand.NewSource(config.Seed))
	n, d := config.Samples, config.Features
	data := make([]float64, n*d)
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		target := float64(2*rng.Intn(2) - 1)
		labels[i] = target
		for j := 0; j < d; j++ {
			data[i*d+j] = rng.NormFloat64() + config.Separation*target
		}
	}

	split := int(float64(n) * config.TrainRatio)
	if split < 1 {
		split = 1
	}
	X := mat.NewDense(n, d, data)
	return &Dataset{
		ID:     id,
		X:      X,
		Y:      mat.NewVecDense(n, labels),
		XTrain: mat.DenseCopyOf(X.Slice(0, split, 0, d)),
		YTrain: mat.NewVecDense(split, append([]float64(nil), labels[:split]...)),
	}, nil
}
