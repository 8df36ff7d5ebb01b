// Package optimizer runs resumable gradient descent for the linear
// classifiers in package ml.
//
// A run loads the last saved weight vector for its checkpoint key (or starts
// from zeros), steps until the loss kind's convergence test passes, the
// context is cancelled or the iteration cap is hit, and then always writes the
// final weights back to the store.
//
// Concurrent runs against the same checkpoint key are not supported.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"linclass/checkpoint"
	"linclass/ml"
)

var ErrStorage = errors.New("checkpoint storage failure")

const (
	DefaultTolerance    = 1e-6
	DefaultBand         = 1.0
	DefaultSaveAttempts = 1
)

// Status is the way a run left its iteration loop.
type Status int

const (
	StatusConverged Status = iota + 1
	StatusInterrupted
	StatusMaxIterations
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusInterrupted:
		return "interrupted"
	case StatusMaxIterations:
		return "max_iterations"
	default:
		return "unknown"
	}
}

// Config 优化器配置
type Config struct {
	Kind ml.LossKind
	// StepSize <= 0 derives 1/||X||_2^2 from the training matrix.
	StepSize float64
	// Tolerance bounds |L_old - L_new| for hinge loss.
	Tolerance float64
	// ReferenceLoss is the closed-form least squares loss; MSE runs stop once
	// L_new - ReferenceLoss <= Band.
	ReferenceLoss float64
	Band          float64
	// MaxIterations caps the steps of one invocation; 0 is unbounded.
	MaxIterations int
	SaveAttempts  int
	// LogEvery emits a debug line every LogEvery steps; 0 disables it.
	LogEvery int
}

// Observer is called after every gradient step with the new weights and loss.
// It must not modify w.
type Observer func(iteration int, w *mat.VecDense, loss float64)

// StartObserver is called once the starting weights are known, before the
// first step.
type StartObserver func(hotStart bool, loss float64)

type Result struct {
	Weights      *mat.VecDense
	HotStart     bool
	HotStartLoss float64
	Loss         float64
	Iterations   int
	StepSize     float64
	Status       Status
	Elapsed      time.Duration
}

type Engine struct {
	config   Config
	store    checkpoint.Store
	logger   *zap.Logger
	observer Observer
	onStart  StartObserver
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func WithStartObserver(observer StartObserver) Option {
	return func(e *Engine) {
		e.onStart = observer
	}
}

func NewEngine(config Config, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if config.Kind != ml.Hinge && config.Kind != ml.MeanSquaredError {
		return nil, fmt.Errorf("unsupported loss kind %v", config.Kind)
	}
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultTolerance
	}
	if config.Band <= 0 {
		config.Band = DefaultBand
	}
	if config.SaveAttempts <= 0 {
		config.SaveAttempts = DefaultSaveAttempts
	}
	if config.MaxIterations < 0 {
		return nil, errors.New("max iterations must not be negative")
	}

	e := &Engine{
		config: config,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run optimizes w on (X, y), resuming from the checkpoint stored under key.
// Cancelling ctx stops the loop at the next iteration boundary; the weights
// reached so far are saved and returned with StatusInterrupted. When the save
// fails the Result is still returned together with an ErrStorage error.
func (e *Engine) Run(ctx context.Context, X mat.Matrix, y mat.Vector, key checkpoint.Key) (*Result, error) {
	if err := ml.CheckDims(X, y, nil); err != nil {
		return nil, err
	}
	start := time.Now()

	w, hot, err := e.load(ctx, X, key)
	if err != nil {
		return nil, err
	}

	tau := e.config.StepSize
	if tau <= 0 {
		tau = ml.SpectralStepSize(X)
	}

	kind := e.config.Kind
	policy := e.policy()
	loss := ml.Loss(kind, X, y, w)
	result := &Result{
		HotStart:     hot,
		HotStartLoss: loss,
		StepSize:     tau,
	}
	e.logger.Info("optimization started",
		zap.Stringer("key", key),
		zap.Stringer("loss_kind", kind),
		zap.Bool("hot_start", hot),
		zap.Float64("loss", loss),
		zap.Float64("step_size", tau))
	if e.onStart != nil {
		e.onStart(hot, loss)
	}

	var status Status
	if policy.satisfied(loss) {
		status = StatusConverged
	}
	iterations := 0
	for status == 0 {
		if ctx.Err() != nil {
			status = StatusInterrupted
			break
		}
		if e.config.MaxIterations > 0 && iterations >= e.config.MaxIterations {
			status = StatusMaxIterations
			break
		}

		next := ml.Step(kind, X, y, w, tau)
		nextLoss := ml.Loss(kind, X, y, next)
		w = next
		iterations++

		if e.observer != nil {
			e.observer(iterations, w, nextLoss)
		}
		if e.config.LogEvery > 0 && iterations%e.config.LogEvery == 0 {
			e.logger.Debug("iteration",
				zap.Int("iteration", iterations),
				zap.Float64("loss", nextLoss),
				zap.Float64("descent", loss-nextLoss))
		}

		if policy.converged(loss, nextLoss) {
			status = StatusConverged
		}
		loss = nextLoss
	}

	result.Weights = w
	result.Loss = loss
	result.Iterations = iterations
	result.Status = status

	if err := e.save(ctx, key, w, checkpoint.Meta{Iterations: iterations, Loss: loss}); err != nil {
		result.Elapsed = time.Since(start)
		return result, err
	}
	result.Elapsed = time.Since(start)

	e.logger.Info("optimization finished",
		zap.Stringer("key", key),
		zap.Stringer("status", status),
		zap.Int("iterations", iterations),
		zap.Float64("loss", loss),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (e *Engine) load(ctx context.Context, X mat.Matrix, key checkpoint.Key) (*mat.VecDense, bool, error) {
	_, cols := X.Dims()
	// interruption only applies to the iteration loop
	w, err := e.store.Load(context.WithoutCancel(ctx), key)
	if errors.Is(err, checkpoint.ErrNotFound) {
		e.logger.Debug("no checkpoint, starting from zero", zap.Stringer("key", key))
		return mat.NewVecDense(cols, nil), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if w.Len() != cols {
		return nil, false, fmt.Errorf("%w: checkpoint %s has %d weights, data has %d features",
			ml.ErrDimensionMismatch, key, w.Len(), cols)
	}
	for i := 0; i < w.Len(); i++ {
		if v := w.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, fmt.Errorf("%w: non-finite weight at %d", checkpoint.ErrCorrupt, i)
		}
	}
	return w, true, nil
}

// save runs detached from ctx so an interrupted run still persists.
func (e *Engine) save(ctx context.Context, key checkpoint.Key, w *mat.VecDense, meta checkpoint.Meta) error {
	saveCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= e.config.SaveAttempts; attempt++ {
		if err = e.store.Save(saveCtx, key, w, meta); err == nil {
			return nil
		}
		e.logger.Warn("checkpoint save failed",
			zap.Stringer("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
