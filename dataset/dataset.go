package dataset

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"linclass/ml"
)

const (
	MinID = 1
	MaxID = 6
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrInvalidLabel   = errors.New("labels must be -1 or +1")
)

// Dataset is a fixed full/training split. All fields are read-only once loaded.
type Dataset struct {
	ID     int
	X      *mat.Dense
	Y      *mat.VecDense
	XTrain *mat.Dense
	YTrain *mat.VecDense
}

// Provider supplies numbered datasets.
type Provider interface {
	Load(ctx context.Context, id int) (*Dataset, error)
}

func CheckID(id int) error {
	if id < MinID || id > MaxID {
		return fmt.Errorf("%w: %d (supported %d..%d)", ErrUnknownDataset, id, MinID, MaxID)
	}
	return nil
}

func (d *Dataset) Features() int {
	_, cols := d.XTrain.Dims()
	return cols
}

// Validate checks shapes and labels of both splits.
func (d *Dataset) Validate() error {
	if d.X == nil || d.Y == nil || d.XTrain == nil || d.YTrain == nil {
		return errors.New("dataset is incomplete")
	}
	if err := ml.CheckDims(d.X, d.Y, nil); err != nil {
		return fmt.Errorf("full split: %w", err)
	}
	if err := ml.CheckDims(d.XTrain, d.YTrain, nil); err != nil {
		return fmt.Errorf("training split: %w", err)
	}
	_, fullCols := d.X.Dims()
	_, trainCols := d.XTrain.Dims()
	if fullCols != trainCols {
		return fmt.Errorf("%w: full split has %d features, training split %d",
			ml.ErrDimensionMismatch, fullCols, trainCols)
	}
	for _, y := range []*mat.VecDense{d.Y, d.YTrain} {
		for i := 0; i < y.Len(); i++ {
			if v := y.AtVec(i); v != 1 && v != -1 {
				return fmt.Errorf("%w: got %v at row %d", ErrInvalidLabel, v, i)
			}
		}
	}
	return nil
}
