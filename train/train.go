// Package train runs the training and evaluation loops of a segmentation
// model: forward under a precision policy, XE+Dice loss, gradient scaling,
// clipping and optimizer steps, then IoU/F1 evaluation.
package train

import (
	"context"
	"math"
	"time"

	"github.com/Noofbiz/floodSeg/amp"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/metrics"
	"github.com/Noofbiz/floodSeg/optim"
	"github.com/Noofbiz/floodSeg/tracker"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNonFiniteLoss aborts training when a batch loss is NaN or infinite.
var ErrNonFiniteLoss = errors.New("train: non-finite loss")

// Model is what the loops need from a network. Forward returns one logit per
// mask pixel. Backward takes dLoss/dLogits of the last Forward in training
// mode and accumulates into the parameter gradients.
type Model interface {
	Forward(b *datasets.Batch, p amp.Policy) ([]float32, error)
	Backward(grad []float32) error
	Train()
	Eval()
	Parameters() []*optim.Parameter
}

// Config holds the loop settings.
type Config struct {
	// Epochs run by Fit.
	Epochs int

	// ClipNorm is the max global gradient norm, disabled when <= 0.
	ClipNorm float64

	// PrintFreq reports progress every PrintFreq steps. Zero disables it.
	PrintFreq int

	// EvalEvery evaluates every EvalEvery epochs in Fit. Defaults to 1.
	EvalEvery int

	// SaveEvery checkpoints every SaveEvery epochs in Fit. Zero disables
	// periodic checkpoints; the best model is still saved.
	SaveEvery int

	// Threshold on the water probability. Defaults to 0.5.
	Threshold float32
}

// Trainer owns the optimizer and gradient-scaler state for a whole run.
type Trainer struct {
	Model     Model
	Optimizer optim.Optimizer
	Criterion *metrics.XEDiceLoss
	Scaler    *amp.GradScaler
	Policy    amp.Policy

	// Tracker and Checkpointer are optional.
	Tracker      tracker.Tracker
	Checkpointer Checkpointer

	Config Config

	globalStep int
}

// New builds a trainer with the XE+Dice loss and a gradient scaler matching
// policy.
func New(model Model, opt optim.Optimizer, policy amp.Policy, cfg Config) *Trainer {
	if cfg.EvalEvery <= 0 {
		cfg.EvalEvery = 1
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	return &Trainer{
		Model:     model,
		Optimizer: opt,
		Criterion: metrics.NewXEDiceLoss(),
		Scaler:    amp.ForPolicy(policy),
		Policy:    policy,
		Config:    cfg,
	}
}

// GlobalStep counts optimizer iterations over the whole run, skipped
// overflow steps included.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// EpochStats summarises one training epoch.
type EpochStats struct {
	Epoch       int
	AverageLoss float64
	Steps       int // batches that went through backward
	Stepped     int // of those, steps the optimizer applied
	Skipped     int // batches without a single valid pixel
	Duration    time.Duration
}

// EvalStats summarises one evaluation pass.
type EvalStats struct {
	Epoch   int
	Loss    float64
	Summary metrics.Summary
}

func (t *Trainer) track(step int, rec tracker.Record) {
	if t.Tracker == nil {
		return
	}
	if err := t.Tracker.Log(step, rec); err != nil {
		klog.Warningf("tracker: %v", err)
	}
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// TrainEpoch runs one pass over loader in training mode.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *datasets.Loader, epoch int) (EpochStats, error) {
	start := time.Now()
	t.Model.Train()
	stats := EpochStats{Epoch: epoch}
	var loss metrics.Mean
	prog := newProgress("train", epoch, loader.NumBatches(), t.Config.PrintFreq)

	err := loader.Iterate(ctx, epoch, func(b *datasets.Batch) error {
		if b.Masks == nil {
			return errors.Errorf("train: batch %d has no masks", b.Index)
		}
		logits, err := t.Model.Forward(b, t.Policy)
		if err != nil {
			return errors.Wrapf(err, "forward batch %d", b.Index)
		}
		res, grad, err := t.Criterion.ForwardBackward(logits, b.Masks)
		if err != nil {
			return errors.Wrapf(err, "loss batch %d", b.Index)
		}
		if !finite(res.Loss) {
			return errors.Wrapf(ErrNonFiniteLoss, "epoch %d batch %d: %v", epoch, b.Index, res.Loss)
		}
		if res.Valid == 0 {
			stats.Skipped++
			klog.Warningf("epoch %d batch %d has no valid pixels, skipped", epoch, b.Index)
			return nil
		}

		t.Optimizer.ZeroGrad()
		t.Scaler.ScaleGrad(grad)
		if err := t.Model.Backward(grad); err != nil {
			return errors.Wrapf(err, "backward batch %d", b.Index)
		}
		params := t.Optimizer.Parameters()
		if overflow := t.Scaler.Unscale(params); !overflow && t.Config.ClipNorm > 0 {
			optim.ClipGradNorm(params, t.Config.ClipNorm)
		}
		stepped, err := t.Scaler.Step(t.Optimizer)
		if err != nil {
			return errors.Wrapf(err, "step batch %d", b.Index)
		}
		if !stepped {
			klog.V(1).Infof("epoch %d batch %d: gradient overflow, step skipped (scale %g)", epoch, b.Index, t.Scaler.Factor())
		} else {
			stats.Stepped++
		}
		t.Scaler.Update()

		t.globalStep++
		stats.Steps++
		loss = loss.Add(res.Loss)
		t.track(t.globalStep, tracker.Record{"train/loss": res.Loss, "epoch": float64(epoch)})
		prog.update(b.Index+1, map[string]float64{"loss": res.Loss, "avg_loss": loss.Value()})
		return nil
	})
	stats.AverageLoss = loss.Value()
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	t.track(t.globalStep, tracker.Record{"train/average_epoch_loss": stats.AverageLoss, "epoch": float64(epoch)})
	prog.done(map[string]float64{"avg_loss": stats.AverageLoss})
	return stats, nil
}

// Evaluate scores the model on loader in evaluation mode. Training mode is
// restored on return.
func (t *Trainer) Evaluate(ctx context.Context, loader *datasets.Loader, epoch int) (EvalStats, error) {
	t.Model.Eval()
	defer t.Model.Train()

	var run metrics.Running
	var loss metrics.Mean
	prog := newProgress("valid", epoch, loader.NumBatches(), t.Config.PrintFreq)
	err := loader.Iterate(ctx, epoch, func(b *datasets.Batch) error {
		if b.Masks == nil {
			return errors.Errorf("train: evaluation batch %d has no masks", b.Index)
		}
		logits, err := t.Model.Forward(b, t.Policy)
		if err != nil {
			return errors.Wrapf(err, "forward batch %d", b.Index)
		}
		res, err := t.Criterion.Forward(logits, b.Masks)
		if err != nil {
			return errors.Wrapf(err, "loss batch %d", b.Index)
		}
		if res.Valid > 0 {
			loss = loss.Add(res.Loss)
		}
		pred := metrics.Threshold(metrics.Probabilities(logits), t.Config.Threshold)
		c, err := metrics.Count(pred, b.Masks)
		if err != nil {
			return errors.Wrapf(err, "score batch %d", b.Index)
		}
		run = run.Add(c)
		prog.update(b.Index+1, map[string]float64{"iou": run.MeanIoU(), "f1": run.MeanF1()})
		return nil
	})
	stats := EvalStats{Epoch: epoch, Loss: loss.Value(), Summary: run.Summary()}
	if err != nil {
		return stats, err
	}
	t.track(t.globalStep, tracker.Record{
		"valid/iou":        stats.Summary.MeanIoU,
		"valid/f1":         stats.Summary.MeanF1,
		"valid/pooled_iou": stats.Summary.PooledIoU,
		"valid/loss":       stats.Loss,
		"epoch":            float64(epoch),
	})
	prog.done(map[string]float64{"iou": stats.Summary.MeanIoU, "f1": stats.Summary.MeanF1})
	return stats, nil
}
