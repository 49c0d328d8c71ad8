package main

import (
	"flag"

	"github.com/Noofbiz/floodSeg/config"
)

// overrideFlags are config settings that can be given on the command line.
// Only flags that were actually set replace the value from the config file.
type overrideFlags struct {
	dataPath     *string
	epochs       *int
	batchSize    *int
	learningRate *float64
	optimizer    *string
	foldIndex    *int
	workers      *int
	device       *string
	noAMP        *bool
	seed         *int64
	savePath     *string
	trackerDB    *string
	plotDir      *string
}

func registerOverrides(fs *flag.FlagSet) *overrideFlags {
	d := config.Default()
	return &overrideFlags{
		dataPath:     fs.String("data", d.DataPath, "dataset root with train_true_color/ and train_mask/"),
		epochs:       fs.Int("epochs", d.MaxEpochs, "number of training epochs"),
		batchSize:    fs.Int("batch-size", d.TrainBatchSize, "train and test batch size"),
		learningRate: fs.Float64("learning-rate", d.LearningRate, "optimizer learning rate"),
		optimizer:    fs.String("optimizer", d.Optimizer, "'adam' or 'sgd'"),
		foldIndex:    fs.Int("fold", d.FoldIndex, "K-fold index, -1 for a random split"),
		workers:      fs.Int("workers", d.NumWorkers, "loader workers"),
		device:       fs.String("device", d.Device, "cpu, cpu-fp16 or cpu-fp32"),
		noAMP:        fs.Bool("no-amp", !d.AMP, "disable mixed precision"),
		seed:         fs.Int64("seed", d.Seed, "random seed"),
		savePath:     fs.String("save-path", d.SavePath, "checkpoint directory"),
		trackerDB:    fs.String("tracker-db", d.TrackerDB, "SQLite file for run records"),
		plotDir:      fs.String("plot-dir", d.PlotDir, "directory for metric plots"),
	}
}

// apply copies the flags set on fs into cfg.
func (o *overrideFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataPath = *o.dataPath
		case "epochs":
			cfg.MaxEpochs = *o.epochs
		case "batch-size":
			cfg.TrainBatchSize = *o.batchSize
			cfg.TestBatchSize = *o.batchSize
		case "learning-rate":
			cfg.LearningRate = *o.learningRate
		case "optimizer":
			cfg.Optimizer = *o.optimizer
		case "fold":
			cfg.FoldIndex = *o.foldIndex
		case "workers":
			cfg.NumWorkers = *o.workers
		case "device":
			cfg.Device = *o.device
		case "no-amp":
			cfg.AMP = !*o.noAMP
		case "seed":
			cfg.Seed = *o.seed
		case "save-path":
			cfg.SavePath = *o.savePath
		case "tracker-db":
			cfg.TrackerDB = *o.trackerDB
		case "plot-dir":
			cfg.PlotDir = *o.plotDir
		}
	})
}
