package train

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Checkpointer persists the model. best marks a new best validation score.
type Checkpointer interface {
	Checkpoint(epoch int, best bool) error
}

// Saver writes a model to a file.
type Saver interface {
	Save(path string) error
}

// DirCheckpointer saves into Dir as epoch_NNN.gob and best.gob.
type DirCheckpointer struct {
	Model Saver
	Dir   string
}

// Path returns the file a checkpoint is written to.
func (c DirCheckpointer) Path(epoch int, best bool) string {
	if best {
		return filepath.Join(c.Dir, "best.gob")
	}
	return filepath.Join(c.Dir, fmt.Sprintf("epoch_%03d.gob", epoch+1))
}

func (c DirCheckpointer) Checkpoint(epoch int, best bool) error {
	path := c.Path(epoch, best)
	if err := c.Model.Save(path); err != nil {
		return errors.Wrapf(err, "checkpoint %s", path)
	}
	klog.Infof("saved checkpoint %s", path)
	return nil
}

// History collects the statistics of a Fit run.
type History struct {
	Epochs    []EpochStats
	Evals     []EvalStats
	BestIoU   float64
	BestEpoch int // -1 until a validation pass ran
}

// Fit trains for Config.Epochs epochs, evaluating on valid (may be nil) every
// Config.EvalEvery epochs. It checkpoints on every new best mean IoU and
// every Config.SaveEvery epochs.
func (t *Trainer) Fit(ctx context.Context, trainLoader, validLoader *datasets.Loader) (History, error) {
	h := History{BestEpoch: -1}
	for epoch := 0; epoch < t.Config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return h, err
		}
		es, err := t.TrainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			return h, errors.Wrapf(err, "epoch %d", epoch)
		}
		h.Epochs = append(h.Epochs, es)
		klog.Infof("epoch %d/%d: average loss %.4f over %d steps (%d skipped) in %s",
			epoch+1, t.Config.Epochs, es.AverageLoss, es.Steps, es.Skipped, es.Duration.Round(time.Millisecond))

		if validLoader != nil && (epoch+1)%t.Config.EvalEvery == 0 {
			ev, err := t.Evaluate(ctx, validLoader, epoch)
			if err != nil {
				return h, errors.Wrapf(err, "evaluate epoch %d", epoch)
			}
			h.Evals = append(h.Evals, ev)
			klog.Infof("epoch %d/%d: mean IoU %.4f F1 %.4f pooled IoU %.4f",
				epoch+1, t.Config.Epochs, ev.Summary.MeanIoU, ev.Summary.MeanF1, ev.Summary.PooledIoU)
			if h.BestEpoch < 0 || ev.Summary.MeanIoU > h.BestIoU {
				h.BestIoU, h.BestEpoch = ev.Summary.MeanIoU, epoch
				if err := t.checkpoint(epoch, true); err != nil {
					return h, err
				}
			}
		}
		if t.Config.SaveEvery > 0 && (epoch+1)%t.Config.SaveEvery == 0 {
			if err := t.checkpoint(epoch, false); err != nil {
				return h, err
			}
		}
	}
	return h, nil
}

func (t *Trainer) checkpoint(epoch int, best bool) error {
	if t.Checkpointer == nil {
		return nil
	}
	return t.Checkpointer.Checkpoint(epoch, best)
}
