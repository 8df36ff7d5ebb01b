package optimizer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"linclass/checkpoint"
	"linclass/ml"
)

var testKey = checkpoint.Key{Algorithm: "GDHL", Dataset: 1}

func noisyProblem(seed int64, rows, cols int) (*mat.Dense, *mat.VecDense) {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	labels := make([]float64, rows)
	for i := range labels {
		labels[i] = float64(2*rng.Intn(2) - 1)
	}
	return mat.NewDense(rows, cols, data), mat.NewVecDense(rows, labels)
}

func squareProblem() (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(4, 2, []float64{1, 0, 0, 1, -1, 0, 0, -1})
	y := mat.NewVecDense(4, []float64{1, 1, -1, -1})
	return X, y
}

func newEngine(t *testing.T, config Config, store checkpoint.Store, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(config, store, opts...)
	require.NoError(t, err)
	return engine
}

func TestRunColdStartSavesResult(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	engine := newEngine(t, Config{Kind: ml.Hinge}, store)

	result, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.False(t, result.HotStart)
	assert.Equal(t, 4.0, result.HotStartLoss)
	assert.Equal(t, StatusConverged, result.Status)
	assert.Greater(t, result.Iterations, 0)
	assert.Equal(t, 0.0, result.Loss)

	saved, err := store.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, result.Weights.RawVector().Data, saved.RawVector().Data)
}

func TestRunHotStartResumes(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	start := mat.NewVecDense(2, []float64{0.25, 0.25})
	require.NoError(t, store.Save(context.Background(), testKey, start, checkpoint.Meta{}))

	engine := newEngine(t, Config{Kind: ml.Hinge, MaxIterations: 1}, store)
	result, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.True(t, result.HotStart)
	assert.InDelta(t, ml.HingeLoss(X, y, start), result.HotStartLoss, 1e-12)
	assert.Equal(t, 1, result.Iterations)

	want := ml.Step(ml.Hinge, X, y, start, result.StepSize)
	assert.InDeltaSlice(t, want.RawVector().Data, result.Weights.RawVector().Data, 1e-12)
}

func TestRunResumabilityMatchesUninterrupted(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "hinge", config: Config{Kind: ml.Hinge}},
		{name: "mse", config: Config{Kind: ml.MeanSquaredError, ReferenceLoss: -1e12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, y := noisyProblem(42, 40, 5)
			ctx := context.Background()
			const k1, k2 = 5, 7

			split := checkpoint.NewMemoryStore()
			config := tt.config
			config.MaxIterations = k1
			first, err := newEngine(t, config, split).Run(ctx, X, y, testKey)
			require.NoError(t, err)
			require.Equal(t, StatusMaxIterations, first.Status)

			config.MaxIterations = k2
			second, err := newEngine(t, config, split).Run(ctx, X, y, testKey)
			require.NoError(t, err)
			require.Equal(t, StatusMaxIterations, second.Status)
			assert.True(t, second.HotStart)
			assert.InDelta(t, first.Loss, second.HotStartLoss, 1e-9)

			whole := checkpoint.NewMemoryStore()
			config.MaxIterations = k1 + k2
			full, err := newEngine(t, config, whole).Run(ctx, X, y, testKey)
			require.NoError(t, err)
			require.Equal(t, StatusMaxIterations, full.Status)

			assert.InDeltaSlice(t, full.Weights.RawVector().Data, second.Weights.RawVector().Data, 1e-9)
			assert.InDelta(t, full.Loss, second.Loss, 1e-9)
		})
	}
}

func TestRunInterruptedAfterOneIteration(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	engine := newEngine(t, Config{Kind: ml.Hinge, StepSize: 0.1}, store,
		WithObserver(func(iteration int, _ *mat.VecDense, _ float64) {
			seen = iteration
			if iteration == 1 {
				cancel()
			}
		}))

	result, err := engine.Run(ctx, X, y, testKey)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, seen)

	saved, err := store.Load(context.Background(), testKey)
	require.NoError(t, err)
	assert.Greater(t, mat.Norm(saved, 2), 0.0)
	assert.Equal(t, result.Weights.RawVector().Data, saved.RawVector().Data)

	loss := ml.HingeLoss(X, y, saved)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	assert.InDelta(t, 3.2, loss, 1e-12)
}

func TestRunCancelledBeforeStartStillSaves(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newEngine(t, Config{Kind: ml.MeanSquaredError, ReferenceLoss: -100}, store).Run(ctx, X, y, testKey)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, result.Status)
	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, 1, store.Saves())
}

func TestRunMSEStopsInsideBand(t *testing.T) {
	X, y := noisyProblem(7, 30, 4)
	wStar, err := ml.LeastSquares(X, y)
	require.NoError(t, err)
	reference := ml.MSELoss(X, y, wStar)

	store := checkpoint.NewMemoryStore()
	engine := newEngine(t, Config{
		Kind:          ml.MeanSquaredError,
		StepSize:      ml.SpectralStepSize(X) / 2,
		ReferenceLoss: reference,
		MaxIterations: 10000,
	}, store)
	result, err := engine.Run(context.Background(), X, y, checkpoint.Key{Algorithm: "GDLS", Dataset: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, result.Status)
	assert.LessOrEqual(t, result.Loss-reference, DefaultBand)

	// a second run starts inside the band and takes no steps
	again, err := engine.Run(context.Background(), X, y, checkpoint.Key{Algorithm: "GDLS", Dataset: 1})
	require.NoError(t, err)
	assert.True(t, again.HotStart)
	assert.Equal(t, StatusConverged, again.Status)
	assert.Equal(t, 0, again.Iterations)
	assert.Equal(t, result.Weights.RawVector().Data, again.Weights.RawVector().Data)
}

func TestRunMSEDerivedStepOscillates(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 1, 1})
	y := mat.NewVecDense(3, []float64{1, 1, 1})
	key := checkpoint.Key{Algorithm: "GDLS", Dataset: 1}

	var weights []float64
	engine := newEngine(t, Config{Kind: ml.MeanSquaredError, MaxIterations: 10}, checkpoint.NewMemoryStore(),
		WithObserver(func(_ int, w *mat.VecDense, loss float64) {
			weights = append(weights, w.AtVec(0))
			assert.InDelta(t, 3.0, loss, 1e-9)
		}))
	result, err := engine.Run(context.Background(), X, y, key)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, result.StepSize, 1e-12)
	assert.Equal(t, StatusMaxIterations, result.Status)
	assert.Equal(t, 10, result.Iterations)
	assert.InDelta(t, 3.0, result.Loss, 1e-9)
	require.Len(t, weights, 10)
	assert.InDelta(t, 2.0, weights[0], 1e-9)
	assert.InDelta(t, 0.0, weights[1], 1e-9)

	// half the derived step lands on the minimum in one step
	halved := newEngine(t, Config{Kind: ml.MeanSquaredError, StepSize: 1.0 / 6, MaxIterations: 10}, checkpoint.NewMemoryStore())
	result, err = halved.Run(context.Background(), X, y, key)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.InDelta(t, 0.0, result.Loss, 1e-12)
}

func TestRunHingeContinuesThroughLossIncrease(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 0, 1, 1})
	y := mat.NewVecDense(2, []float64{1, -1})
	store := checkpoint.NewMemoryStore()
	start := mat.NewVecDense(2, []float64{1.5, 0})
	require.NoError(t, store.Save(context.Background(), testKey, start, checkpoint.Meta{}))

	var losses []float64
	engine := newEngine(t, Config{Kind: ml.Hinge, StepSize: 4, MaxIterations: 10}, store,
		WithObserver(func(_ int, _ *mat.VecDense, loss float64) {
			losses = append(losses, loss)
		}))
	result, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.Equal(t, 2.5, result.HotStartLoss)
	assert.Equal(t, []float64{3.5, 0, 0}, losses)
	assert.Equal(t, StatusConverged, result.Status)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, []float64{1.5, -4}, result.Weights.RawVector().Data)
}

func TestRunMSEOneStepReducesLoss(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	engine := newEngine(t, Config{
		Kind:          ml.MeanSquaredError,
		StepSize:      0.1,
		ReferenceLoss: -100,
		MaxIterations: 1,
	}, store)

	result, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
	assert.Less(t, result.Loss, result.HotStartLoss)
}

func TestRunDerivesSpectralStepSize(t *testing.T) {
	X, y := noisyProblem(1, 20, 3)
	engine := newEngine(t, Config{Kind: ml.Hinge, MaxIterations: 1}, checkpoint.NewMemoryStore())
	result, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.InDelta(t, ml.SpectralStepSize(X), result.StepSize, 1e-15)
}

func TestRunDimensionMismatch(t *testing.T) {
	X, y := squareProblem()
	store := checkpoint.NewMemoryStore()
	engine := newEngine(t, Config{Kind: ml.Hinge}, store)

	_, err := engine.Run(context.Background(), X, mat.NewVecDense(3, nil), testKey)
	assert.ErrorIs(t, err, ml.ErrDimensionMismatch)

	require.NoError(t, store.Save(context.Background(), testKey, mat.NewVecDense(3, []float64{1, 2, 3}), checkpoint.Meta{}))
	_, err = engine.Run(context.Background(), X, y, testKey)
	assert.ErrorIs(t, err, ml.ErrDimensionMismatch)
	assert.Equal(t, 1, store.Saves())
}

type corruptStore struct {
	*checkpoint.MemoryStore
}

func (corruptStore) Load(context.Context, checkpoint.Key) (*mat.VecDense, error) {
	return nil, checkpoint.ErrCorrupt
}

func TestRunCorruptCheckpointFails(t *testing.T) {
	X, y := squareProblem()
	store := corruptStore{checkpoint.NewMemoryStore()}
	engine := newEngine(t, Config{Kind: ml.Hinge}, store)

	_, err := engine.Run(context.Background(), X, y, testKey)
	assert.ErrorIs(t, err, checkpoint.ErrCorrupt)
	assert.Equal(t, 0, store.Saves())
}

type flakyStore struct {
	*checkpoint.MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Save(ctx context.Context, key checkpoint.Key, w *mat.VecDense, meta checkpoint.Meta) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, key, w, meta)
}

func TestRunStorageFailure(t *testing.T) {
	X, y := squareProblem()
	store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore(), failures: 5}
	engine := newEngine(t, Config{Kind: ml.Hinge, SaveAttempts: 2}, store)

	result, err := engine.Run(context.Background(), X, y, testKey)
	assert.ErrorIs(t, err, ErrStorage)
	require.NotNil(t, result)
	assert.NotNil(t, result.Weights)
	assert.Equal(t, 2, store.calls)
}

func TestRunStorageRetrySucceeds(t *testing.T) {
	X, y := squareProblem()
	store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore(), failures: 1}
	engine := newEngine(t, Config{Kind: ml.Hinge, SaveAttempts: 3}, store)

	_, err := engine.Run(context.Background(), X, y, testKey)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1, store.Saves())
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{}, checkpoint.NewMemoryStore())
	assert.Error(t, err)
	_, err = NewEngine(Config{Kind: ml.Hinge}, nil)
	assert.Error(t, err)
	_, err = NewEngine(Config{Kind: ml.Hinge, MaxIterations: -1}, checkpoint.NewMemoryStore())
	assert.Error(t, err)

	engine, err := NewEngine(Config{Kind: ml.Hinge}, checkpoint.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, DefaultTolerance, engine.config.Tolerance)
	assert.Equal(t, DefaultBand, engine.config.Band)
	assert.Equal(t, DefaultSaveAttempts, engine.config.SaveAttempts)
}

func TestDescentPolicyToleratesOscillation(t *testing.T) {
	p := descentPolicy{tol: 1e-6}
	assert.False(t, p.satisfied(0))
	assert.True(t, p.converged(5, 5+1e-7))
	assert.True(t, p.converged(5, 5-1e-7))
	assert.False(t, p.converged(5, 6))

	b := bandPolicy{reference: 10, band: 1}
	assert.True(t, b.satisfied(11))
	assert.False(t, b.satisfied(11.5))
	assert.True(t, b.converged(100, 10.5))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "converged", StatusConverged.String())
	assert.Equal(t, "interrupted", StatusInterrupted.String())
	assert.Equal(t, "max_iterations", StatusMaxIterations.String())
	assert.Equal(t, "unknown", Status(0).String())
}
