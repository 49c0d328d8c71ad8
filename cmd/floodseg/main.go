package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Noofbiz/floodSeg/config"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/metrics"
	"github.com/Noofbiz/floodSeg/optim"
	"github.com/Noofbiz/floodSeg/simple"
	"github.com/Noofbiz/floodSeg/tracker"
	"github.com/Noofbiz/floodSeg/train"
	"github.com/Noofbiz/floodSeg/tta"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// defaultConfigYAML is written by -write-default-config as a starting point
// for experiment files.
const defaultConfigYAML = `seed: 10000
data_path: ./data
fold_index: -1          # 0..folds-1 selects a K-fold split
folds: 5
encoder: timm-efficientnet-b2
model_network: pixelmlp
in_channels: 3
n_class: 1
hidden_sizes: [16]
save_path: ""           # defaults to <encoder>_<network>[_fold_<k>]
max_epochs: 25
train_batch_size: 16
test_batch_size: 16
optimizer: adam
lr: 0.0003
weight_decay: 0.0005
save_inter_epoch: 5
print_freq: 50
num_workers: 8
gradient_clipping: 1.0
amp: true
device: cpu
image_size: 512
valid_fraction: 0.2
split_seed: 42
tracker_db: ""
plot_dir: ""
`

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	mode := flag.String("mode", "train", "'train' or 'predict'")
	configPath := flag.String("config", "", "experiment config (.yaml or .json); defaults are used when empty")
	writeDefault := flag.String("write-default-config", "", "write the default experiment config to this path and exit")
	printEffectiveConfig := flag.Bool("print-effective-config", false, "print the effective (file+CLI merged) configuration and exit")

	overrides := registerOverrides(flag.CommandLine)

	// predict mode
	modelPath := flag.String("model", "", "checkpoint to predict with")
	input := flag.String("input", "", "glob pattern of rasters to predict")
	outDir := flag.String("out", "predictions", "output directory for predicted masks")
	useTTA := flag.Bool("tta", false, "average predictions over flips and rotations")

	flag.Parse()

	if *writeDefault != "" {
		if err := os.WriteFile(*writeDefault, []byte(defaultConfigYAML), 0644); err != nil {
			klog.Exitf("write default config: %v", err)
		}
		klog.Infof("wrote default config to %s", *writeDefault)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			klog.Exitf("%v", err)
		}
		klog.Infof("loaded config from %s", *configPath)
	}
	overrides.apply(flag.CommandLine, &cfg)
	if err := cfg.Validate(); err != nil {
		klog.Exitf("%v", err)
	}

	if *printEffectiveConfig {
		out, err := cfg.JSON()
		if err != nil {
			klog.Exitf("marshal config: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch strings.ToLower(*mode) {
	case "train":
		err = runTrain(ctx, cfg)
	case "predict":
		err = runPredict(ctx, cfg, *modelPath, *input, *outDir, *useTTA)
	default:
		err = errors.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		klog.Flush()
		klog.Exitf("%s: %v", *mode, err)
	}
}

func runTrain(ctx context.Context, cfg config.Config) error {
	trainSet, validSet, err := datasets.PrepareDatasets(cfg.Source())
	if err != nil {
		return err
	}
	model, err := simple.NewModel(cfg.Model())
	if err != nil {
		return err
	}
	klog.Infof("model %s/%s with %s parameters", cfg.Encoder, cfg.ModelNetwork, humanize.Comma(int64(model.NumParams())))

	opt, err := optim.New(cfg.Optimizer, model.Parameters(), cfg.Optim())
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	klog.Infof("device %s, precision %s", cfg.Device, policy)

	saveDir := cfg.ResolvedSavePath()
	trackers := tracker.Multi{tracker.NewLogTracker(saveDir)}
	if cfg.TrackerDB != "" {
		db, err := tracker.NewSQLiteTracker(cfg.TrackerDB, saveDir, cfg)
		if err != nil {
			return err
		}
		klog.Infof("tracking run %s in %s", db.RunID(), cfg.TrackerDB)
		trackers = append(trackers, db)
	}
	if cfg.PlotDir != "" {
		trackers = append(trackers, tracker.NewPlotTracker(cfg.PlotDir))
	}
	defer func() {
		if err := trackers.Close(); err != nil {
			klog.Warningf("close trackers: %v", err)
		}
	}()

	tr := train.New(model, opt, policy, cfg.Train())
	tr.Tracker = trackers
	tr.Checkpointer = train.DirCheckpointer{Model: model, Dir: saveDir}

	start := time.Now()
	hist, err := tr.Fit(ctx,
		datasets.NewLoader(trainSet, cfg.TrainLoader()),
		datasets.NewLoader(validSet, cfg.EvalLoader()))
	if err != nil {
		return err
	}
	klog.Infof("training finished in %s: %s steps, best mean IoU %.4f at epoch %d, checkpoints in %s",
		time.Since(start).Round(time.Second), humanize.Comma(int64(tr.GlobalStep())), hist.BestIoU, hist.BestEpoch+1, saveDir)
	return nil
}

func runPredict(ctx context.Context, cfg config.Config, modelPath, input, outDir string, useTTA bool) error {
	if modelPath == "" || input == "" {
		return errors.New("-model and -input are required")
	}
	model, err := simple.Load(modelPath)
	if err != nil {
		return err
	}
	model.Eval()
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	ds, err := datasets.NewTestDataset(input, cfg.ImageSize, nil)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", outDir)
	}

	var predictor *tta.Predictor
	if useTTA {
		predictor = tta.NewPredictor(model, policy)
	}
	records := ds.Records()
	written := 0
	err = datasets.NewLoader(ds, cfg.EvalLoader()).Iterate(ctx, 0, func(b *datasets.Batch) error {
		var masks []float32
		if predictor != nil {
			m, err := predictor.PredictMask(b, 0.5)
			if err != nil {
				return err
			}
			masks = m
		} else {
			logits, err := model.Forward(b, policy)
			if err != nil {
				return err
			}
			masks = metrics.Threshold(metrics.Probabilities(logits), 0.5)
		}
		hw := b.Height * b.Width
		for n, idx := range b.Indices {
			out := filepath.Join(outDir, filepath.Base(records[idx].ImagePath))
			if err := datasets.WriteMask(out, masks[n*hw:(n+1)*hw], b.Height, b.Width); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.Infof("wrote %s masks to %s (policy %s, tta %v)", humanize.Comma(int64(written)), outDir, policy, useTTA)
	return nil
}
