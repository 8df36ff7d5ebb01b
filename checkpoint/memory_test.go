package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{Algorithm: "GDLS", Dataset: 1}

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	w := mat.NewVecDense(2, []float64{1, -1})
	require.NoError(t, store.Save(ctx, key, w, Meta{Iterations: 2}))
	w.SetVec(0, 100)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1}, got.RawVector().Data)
	assert.Equal(t, 1, store.Saves())
	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Iterations)
}

func TestMemoryStoreRejectsCancelledSave(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Save(ctx, Key{Algorithm: "GDHL", Dataset: 1}, mat.NewVecDense(1, []float64{1}), Meta{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeWeightsValidation(t *testing.T) {
	blob, sum := encodeWeights(mat.NewVecDense(3, []float64{1, 2, 3}))

	w, err := decodeWeights(blob, 3, sum)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, w.RawVector().Data)

	_, err = decodeWeights(blob, 2, sum)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = decodeWeights(blob, 3, "deadbeef")
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = decodeWeights(nil, 0, sum)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "GDHL/dataset4", Key{Algorithm: "GDHL", Dataset: 4}.String())
}
