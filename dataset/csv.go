package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

const (
	fileX      = "X.csv"
	fileY      = "y.csv"
	fileXTrain = "X_tr.csv"
	fileYTrain = "y_tr.csv"
)

// CSVProvider reads <Dir>/dataset<id>/{X,y,X_tr,y_tr}.csv. Matrix files hold
// one comma separated row per sample; label files one value per line.
type CSVProvider struct {
	Dir string
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// Path returns the directory holding dataset id.
func (p *CSVProvider) Path(id int) string {
	return filepath.Join(p.Dir, fmt.Sprintf("dataset%d", id))
}

func (p *CSVProvider) Load(ctx context.Context, id int) (*Dataset, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	dir := p.Path(id)
	d := &Dataset{ID: id}

	var err error
	if d.X, err = readMatrix(ctx, filepath.Join(dir, fileX)); err != nil {
		return nil, err
	}
	if d.Y, err = readLabels(ctx, filepath.Join(dir, fileY)); err != nil {
		return nil, err
	}
	if d.XTrain, err = readMatrix(ctx, filepath.Join(dir, fileXTrain)); err != nil {
		return nil, err
	}
	if d.YTrain, err = readLabels(ctx, filepath.Join(dir, fileYTrain)); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return d, nil
}

// WriteCSV stores d in the layout CSVProvider reads.
func WriteCSV(dir string, d *Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	target := filepath.Join(dir, fmt.Sprintf("dataset%d", d.ID))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	if err := writeMatrix(filepath.Join(target, fileX), d.X); err != nil {
		return err
	}
	if err := writeMatrix(filepath.Join(target, fileY), vectorAsColumn(d.Y)); err != nil {
		return err
	}
	if err := writeMatrix(filepath.Join(target, fileXTrain), d.XTrain); err != nil {
		return err
	}
	return writeMatrix(filepath.Join(target, fileYTrain), vectorAsColumn(d.YTrain))
}

func readRecords(ctx context.Context, path string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read %s: no rows", path)
	}
	return records, nil
}

func readMatrix(ctx context.Context, path string) (*mat.Dense, error) {
	records, err := readRecords(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, cols := len(records), len(records[0])
	data := make([]float64, 0, rows*cols)
	for i, record := range records {
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("read %s: row %d col %d: %w", path, i+1, j+1, err)
			}
			data = append(data, v)
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

func readLabels(ctx context.Context, path string) (*mat.VecDense, error) {
	m, err := readMatrix(ctx, path)
	if err != nil {
		return nil, err
	}
	_, cols := m.Dims()
	if cols != 1 {
		return nil, fmt.Errorf("read %s: expected one label per line, got %d columns", path, cols)
	}
	return mat.VecDenseCopyOf(m.ColView(0)), nil
}

func vectorAsColumn(v *mat.VecDense) *mat.Dense {
	return mat.NewDense(v.Len(), 1, append([]float64(nil), v.RawVector().Data...))
}

func writeMatrix(path string, m *mat.Dense) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	writer := csv.NewWriter(file)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
