package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"linclass/checkpoint"
	"linclass/config"
	"linclass/dataset"
	"linclass/logging"
	"linclass/ml"
	"linclass/optimizer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	list := flag.Bool("list", false, "list stored checkpoints and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if *list {
		err = listCheckpoints(ctx, cfg, logger, os.Stdout)
	} else {
		err = run(ctx, cfg, logger, os.Stdout)
	}
	stop()
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		_ = logger.Sync()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	p := message.NewPrinter(language.English)
	algo := cfg.AlgorithmSpec()

	data, err := loadDataset(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var reference float64
	if algo.Kind == ml.MeanSquaredError {
		p.Fprintln(out, "/// Least Squares Training via Closed Form ///")
		p.Fprintf(out, "-- Using dataset %d | Closed Form Solution --\n", data.ID)
		w, err := ml.LeastSquares(data.XTrain, data.YTrain)
		if err != nil {
			return fmt.Errorf("closed form least squares: %w", err)
		}
		report, err := ml.Evaluate(ml.MeanSquaredError, data.X, data.Y, data.XTrain, data.YTrain, w)
		if err != nil {
			return err
		}
		printReport(p, out, report)
		reference = report.TrainingLoss
	}
	if !algo.Iterative {
		return nil
	}

	store, err := checkpoint.OpenSQLite(checkpoint.SQLiteConfig{
		Path:      cfg.Checkpoint.Path,
		EnableWAL: cfg.Checkpoint.EnableWAL,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close checkpoint store", zap.Error(err))
		}
	}()

	key := checkpoint.Key{Algorithm: algo.Tag, Dataset: data.ID}
	if cfg.Checkpoint.Reset {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset checkpoint %s: %w", key, err)
		}
		logger.Info("checkpoint reset", zap.Stringer("key", key))
	}

	engine, err := optimizer.NewEngine(optimizer.Config{
		Kind:          algo.Kind,
		StepSize:      cfg.Optimizer.StepSize,
		Tolerance:     cfg.Optimizer.Tolerance,
		ReferenceLoss: reference,
		Band:          cfg.Optimizer.Band,
		MaxIterations: cfg.Optimizer.MaxIterations,
		SaveAttempts:  cfg.Checkpoint.SaveAttempts,
		LogEvery:      cfg.Optimizer.LogEvery,
	}, store,
		optimizer.WithLogger(logger),
		optimizer.WithStartObserver(func(_ bool, loss float64) {
			p.Fprintf(out, "Hot-start Loss Value: %.2f\n", ml.Round2(loss))
			p.Fprintln(out, "Press Ctrl+C to stop and show results")
			p.Fprintln(out, "Iterating...")
		}),
	)
	if err != nil {
		return err
	}

	if algo.Kind == ml.MeanSquaredError && cfg.Optimizer.StepSize <= 0 {
		logger.Warn("derived step size 1/||X||^2 is on the least squares stability edge, the band test may never pass",
			zap.Int("max_iterations", cfg.Optimizer.MaxIterations))
	}

	p.Fprintln(out)
	p.Fprintf(out, "-- Using dataset %d | ALGO: %s --\n", data.ID, algo.Tag)
	result, err := engine.Run(ctx, data.XTrain, data.YTrain, key)
	return reportResult(p, out, algo.Kind, data, result, err)
}

// reportResult prints the gradient descent figures whenever weights were
// computed, including when saving them failed, and passes runErr through.
func reportResult(p *message.Printer, out io.Writer, kind ml.LossKind, data *dataset.Dataset, result *optimizer.Result, runErr error) error {
	if result == nil {
		return runErr
	}
	report, err := ml.Evaluate(kind, data.X, data.Y, data.XTrain, data.YTrain, result.Weights)
	if err != nil {
		return multierr.Append(runErr, err)
	}
	p.Fprintln(out)
	p.Fprintf(out, "Gradient Descent %s classification (%s after %d iterations):\n",
		lossTitle(kind), result.Status, result.Iterations)
	printReport(p, out, report)
	return runErr
}

func loadDataset(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dataset.Dataset, error) {
	provider, err := dataset.NewCachedProvider(dataset.NewCSVProvider(cfg.Dataset.Dir), cfg.Dataset.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Dataset.Watch {
		if _, err := provider.Watch(ctx, cfg.Dataset.Dir); err != nil {
			logger.Warn("dataset watch disabled", zap.Error(err))
		}
	}
	data, err := provider.Load(ctx, cfg.Dataset.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("dataset %d not found under %s (generate one with cmd/gendata): %w",
				cfg.Dataset.ID, cfg.Dataset.Dir, err)
		}
		return nil, err
	}
	logger.Info("dataset loaded",
		zap.Int("dataset", data.ID),
		zap.Int("features", data.Features()))
	return data, nil
}

func listCheckpoints(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	// opening would create an empty database
	if _, err := os.Stat(cfg.Checkpoint.Path); err != nil {
		return fmt.Errorf("no checkpoint database at %s: %w", cfg.Checkpoint.Path, err)
	}
	store, err := checkpoint.OpenSQLite(checkpoint.SQLiteConfig{Path: cfg.Checkpoint.Path}, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return printCheckpoints(ctx, store, out)
}

func printCheckpoints(ctx context.Context, lister checkpoint.Lister, out io.Writer) error {
	records, err := lister.List(ctx)
	if err != nil {
		return err
	}
	p := message.NewPrinter(language.English)
	for _, r := range records {
		p.Fprintf(out, "%-6s dataset %d  weights=%d  iterations=%d  loss=%.2f  saved=%s\n",
			r.Key.Algorithm, r.Key.Dataset, r.Length, r.Iterations, r.Loss, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printReport(p *message.Printer, out io.Writer, report ml.Report) {
	p.Fprintf(out, "Percent labels misclassified: %.2f%%\n", ml.Round2(report.PercentError))
	p.Fprintf(out, "Training Loss Value: %.2f\n", ml.Round2(report.TrainingLoss))
}

func lossTitle(kind ml.LossKind) string {
	if kind == ml.Hinge {
		return "Hinge Loss"
	}
	return "Least Squares"
}
