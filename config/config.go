// Package config holds the experiment settings of a training run and turns
// them into the configs of the datasets, train, optim and simple packages.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/floodSeg/amp"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/optim"
	"github.com/Noofbiz/floodSeg/simple"
	"github.com/Noofbiz/floodSeg/train"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is one experiment. The zero value is not usable, start from
// Default.
type Config struct {
	Seed     int64  `json:"seed" yaml:"seed"`
	DataPath string `json:"data_path" yaml:"data_path"`

	// FoldIndex < 0 selects the random ValidFraction split instead of K-fold.
	FoldIndex int `json:"fold_index" yaml:"fold_index"`
	Folds     int `json:"folds" yaml:"folds"`

	Encoder      string `json:"encoder" yaml:"encoder"`
	ModelNetwork string `json:"model_network" yaml:"model_network"`
	InChannels   int    `json:"in_channels" yaml:"in_channels"`
	NClass       int    `json:"n_class" yaml:"n_class"`
	HiddenSizes  []int  `json:"hidden_sizes" yaml:"hidden_sizes"`

	// SavePath is the checkpoint directory, see ResolvedSavePath.
	SavePath string `json:"save_path" yaml:"save_path"`

	MaxEpochs        int     `json:"max_epochs" yaml:"max_epochs"`
	TrainBatchSize   int     `json:"train_batch_size" yaml:"train_batch_size"`
	TestBatchSize    int     `json:"test_batch_size" yaml:"test_batch_size"`
	Optimizer        string  `json:"optimizer" yaml:"optimizer"`
	LearningRate     float64 `json:"lr" yaml:"lr"`
	WeightDecay      float64 `json:"weight_decay" yaml:"weight_decay"`
	SaveInterEpoch   int     `json:"save_inter_epoch" yaml:"save_inter_epoch"`
	PrintFreq        int     `json:"print_freq" yaml:"print_freq"`
	NumWorkers       int     `json:"num_workers" yaml:"num_workers"`
	GradientClipping float64 `json:"gradient_clipping" yaml:"gradient_clipping"`

	AMP    bool   `json:"amp" yaml:"amp"`
	Device string `json:"device" yaml:"device"`

	ImageSize     int     `json:"image_size" yaml:"image_size"`
	ValidFraction float64 `json:"valid_fraction" yaml:"valid_fraction"`
	SplitSeed     int64   `json:"split_seed" yaml:"split_seed"`

	// TrackerDB is a SQLite file for run records, disabled when empty.
	TrackerDB string `json:"tracker_db" yaml:"tracker_db"`
	// PlotDir receives loss and score curves, disabled when empty.
	PlotDir string `json:"plot_dir" yaml:"plot_dir"`
}

// Default returns the settings of the reference experiment.
func Default() Config {
	return Config{
		Seed:             10000,
		DataPath:         "./data",
		FoldIndex:        -1,
		Folds:            5,
		Encoder:          "timm-efficientnet-b2",
		ModelNetwork:     "pixelmlp",
		InChannels:       3,
		NClass:           1,
		HiddenSizes:      []int{16},
		MaxEpochs:        25,
		TrainBatchSize:   16,
		TestBatchSize:    16,
		Optimizer:        "adam",
		LearningRate:     3e-4,
		WeightDecay:      5e-4,
		SaveInterEpoch:   5,
		PrintFreq:        50,
		NumWorkers:       8,
		GradientClipping: 1.0,
		AMP:              true,
		Device:           "cpu",
		ImageSize:        512,
		ValidFraction:    0.2,
		SplitSeed:        42,
	}
}

// Load reads a JSON or YAML file (by extension) over Default. Unknown keys
// are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	default:
		return cfg, errors.Errorf("config: unsupported extension %q", filepath.Ext(path))
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting a run cannot start with.
func (c Config) Validate() error {
	switch {
	case c.DataPath == "":
		return errors.New("config: data_path is empty")
	case c.InChannels <= 0:
		return errors.Errorf("config: in_channels must be positive, got %d", c.InChannels)
	case c.NClass != 1:
		return errors.Errorf("config: only binary segmentation is supported, n_class=%d", c.NClass)
	case c.MaxEpochs <= 0:
		return errors.Errorf("config: max_epochs must be positive, got %d", c.MaxEpochs)
	case c.TrainBatchSize <= 0 || c.TestBatchSize <= 0:
		return errors.New("config: batch sizes must be positive")
	case c.LearningRate <= 0:
		return errors.Errorf("config: lr must be positive, got %g", c.LearningRate)
	case c.WeightDecay < 0 || c.GradientClipping < 0:
		return errors.New("config: weight_decay and gradient_clipping must not be negative")
	case c.ImageSize <= 0:
		return errors.Errorf("config: image_size must be positive, got %d", c.ImageSize)
	case c.FoldIndex < 0 && (c.ValidFraction <= 0 || c.ValidFraction >= 1):
		return errors.Errorf("config: valid_fraction must be in (0, 1), got %g", c.ValidFraction)
	case c.FoldIndex >= 0 && (c.Folds < 2 || c.FoldIndex >= c.Folds):
		return errors.Errorf("config: fold_index %d out of range for %d folds", c.FoldIndex, c.Folds)
	}
	for _, h := range c.HiddenSizes {
		if h <= 0 {
			return errors.Errorf("config: hidden sizes must be positive, got %v", c.HiddenSizes)
		}
	}
	if _, err := optim.New(c.Optimizer, nil, optim.Options{}); err != nil {
		return err
	}
	if _, err := amp.LookupDevice(c.Device); err != nil {
		return err
	}
	return nil
}

// ResolvedSavePath returns SavePath, or <encoder>_<network>_fold_<k> when it
// is empty (without the fold suffix for a random split).
func (c Config) ResolvedSavePath() string {
	if c.SavePath != "" {
		return c.SavePath
	}
	if c.FoldIndex < 0 {
		return fmt.Sprintf("%s_%s", c.Encoder, c.ModelNetwork)
	}
	return fmt.Sprintf("%s_%s_fold_%d", c.Encoder, c.ModelNetwork, c.FoldIndex)
}

// JSON renders the config indented, as printed by -print-effective-config.
func (c Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func (c Config) Source() datasets.SourceConfig {
	return datasets.SourceConfig{
		Root:          c.DataPath,
		ImageSize:     c.ImageSize,
		ValidFraction: c.ValidFraction,
		SplitSeed:     c.SplitSeed,
		Folds:         c.Folds,
		FoldIndex:     c.FoldIndex,
	}
}

// TrainLoader shuffles and keeps the last partial batch.
func (c Config) TrainLoader() datasets.LoaderConfig {
	return datasets.LoaderConfig{
		BatchSize: c.TrainBatchSize,
		Shuffle:   true,
		Workers:   c.NumWorkers,
		Seed:      c.Seed,
	}
}

func (c Config) EvalLoader() datasets.LoaderConfig {
	return datasets.LoaderConfig{
		BatchSize: c.TestBatchSize,
		Workers:   c.NumWorkers,
		Seed:      c.Seed,
	}
}

func (c Config) Train() train.Config {
	return train.Config{
		Epochs:    c.MaxEpochs,
		ClipNorm:  c.GradientClipping,
		PrintFreq: c.PrintFreq,
		SaveEvery: c.SaveInterEpoch,
	}
}

func (c Config) Optim() optim.Options {
	return optim.Options{LearningRate: c.LearningRate, WeightDecay: c.WeightDecay}
}

func (c Config) Model() simple.Config {
	return simple.Config{
		HiddenSizes: c.HiddenSizes,
		InChannels:  c.InChannels,
		Seed:        c.Seed,
		Encoder:     c.Encoder,
		Network:     c.ModelNetwork,
	}
}

// Policy resolves the precision policy of Device.
func (c Config) Policy() (amp.Policy, error) {
	d, err := amp.LookupDevice(c.Device)
	if err != nil {
		return amp.Float32, err
	}
	return amp.ResolvePolicy(d, c.AMP), nil
}
