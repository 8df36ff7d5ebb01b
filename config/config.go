package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"linclass/dataset"
	"linclass/logging"
	"linclass/ml"
)

type Config struct {
	Dataset struct {
		ID        int    `yaml:"id"`
		Dir       string `yaml:"dir"`
		CacheSize int    `yaml:"cache_size"`
		Watch     bool   `yaml:"watch"`
	} `yaml:"dataset"`
	Algorithm  string `yaml:"algorithm"`
	Checkpoint struct {
		Path         string `yaml:"path"`
		EnableWAL    bool   `yaml:"enable_wal"`
		SaveAttempts int    `yaml:"save_attempts"`
		Reset        bool   `yaml:"reset"`
	} `yaml:"checkpoint"`
	Optimizer struct {
		StepSize      float64 `yaml:"step_size"`
		Tolerance     float64 `yaml:"tolerance"`
		Band          float64 `yaml:"band"`
		MaxIterations int     `yaml:"max_iterations"`
		LogEvery      int     `yaml:"log_every"`
	} `yaml:"optimizer"`
	Log logging.Config `yaml:"log"`
}

// Default returns the configuration used for any field the file leaves out.
func Default() *Config {
	var c Config
	c.Dataset.ID = 1
	c.Dataset.Dir = "data"
	c.Dataset.CacheSize = dataset.MaxID
	c.Algorithm = ml.GradientHL.Tag
	c.Checkpoint.Path = "checkpoints/weights.db"
	c.Checkpoint.SaveAttempts = 1
	c.Optimizer.Tolerance = 1e-6
	c.Optimizer.Band = 1
	c.Optimizer.LogEvery = 1000
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 10
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	return &c
}

// Load reads path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := dataset.CheckID(c.Dataset.ID); err != nil {
		return err
	}
	if c.Dataset.Dir == "" {
		return errors.New("dataset.dir is required")
	}
	if _, err := ml.LookupAlgorithm(c.Algorithm); err != nil {
		return err
	}
	if c.Checkpoint.Path == "" {
		return errors.New("checkpoint.path is required")
	}
	if c.Optimizer.StepSize < 0 {
		return errors.New("optimizer.step_size must not be negative")
	}
	if c.Optimizer.MaxIterations < 0 {
		return errors.New("optimizer.max_iterations must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// AlgorithmSpec resolves the configured algorithm tag.
func (c *Config) AlgorithmSpec() ml.Algorithm {
	algo, _ := ml.LookupAlgorithm(c.Algorithm)
	return algo
}
