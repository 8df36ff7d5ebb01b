package main

import (
	"flag"
	"fmt"
	"log"

	"linclass/dataset"
)

func main() {
	dir := flag.String("dir", "data", "output directory")
	id := flag.Int("id", 1, "dataset id (1-6)")
	samples := flag.Int("n", 200, "number of samples")
	features := flag.Int("features", 10, "number of features")
	trainRatio := flag.Float64("train_ratio", 0.5, "share of samples in the training split")
	separation := flag.Float64("separation", 1, "distance of each class mean from the origin per feature")
	seed := flag.Int64("seed", 2020, "random seed")
	flag.Parse()

	d, err := dataset.Gaussian(*id, dataset.GaussianConfig{
		Samples:    *samples,
		Features:   *features,
		TrainRatio: *trainRatio,
		Separation: *separation,
		Seed:       *seed,
	})
	if err != nil {
		log.Fatalf("failed to generate dataset: %v", err)
	}
	if err := dataset.WriteCSV(*dir, d); err != nil {
		log.Fatalf("failed to write dataset: %v", err)
	}

	rows, cols := d.X.Dims()
	trainRows, _ := d.XTrain.Dims()
	fmt.Printf("dataset %d written to %s (%d samples, %d training, %d features)\n",
		d.ID, dataset.NewCSVProvider(*dir).Path(d.ID), rows, trainRows, cols)
}
