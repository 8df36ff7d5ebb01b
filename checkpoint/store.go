package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrCorrupt  = errors.New("checkpoint corrupt")
)

// Key identifies a checkpoint record: one per algorithm and dataset.
type Key struct {
	Algorithm string
	Dataset   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/dataset%d", k.Algorithm, k.Dataset)
}

// Meta is informational data stored alongside the weights.
type Meta struct {
	Iterations int
	Loss       float64
}

// Record describes a stored checkpoint without its weights.
type Record struct {
	Key        Key
	Length     int
	Iterations int
	Loss       float64
	UpdatedAt  time.Time
}

// Store persists the latest weight vector per Key. Save overwrites; no history
// is kept. At most one writer per Key is supported at a time.
type Store interface {
	Load(ctx context.Context, key Key) (*mat.VecDense, error)
	Save(ctx context.Context, key Key, w *mat.VecDense, meta Meta) error
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}

func encodeWeights(w *mat.VecDense) ([]byte, string) {
	buf := make([]byte, 8*w.Len())
	for i := 0; i < w.Len(); i++ {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(w.AtVec(i)))
	}
	sum := sha256.Sum256(buf)
	return buf, hex.EncodeToString(sum[:])
}

func decodeWeights(buf []byte, length int, checksum string) (*mat.VecDense, error) {
	if length <= 0 || len(buf) != 8*length {
		return nil, fmt.Errorf("%w: %d bytes for %d weights", ErrCorrupt, len(buf), length)
	}
	sum := sha256.Sum256(buf)
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	data := make([]float64, length)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return mat.NewVecDense(length, data), nil
}
