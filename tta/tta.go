// Package tta averages model predictions over flipped, transposed and
// rotated copies of the input (test-time augmentation).
package tta

import (
	"runtime"
	"sync"

	"github.com/Noofbiz/floodSeg/amp"
	"github.com/Noofbiz/floodSeg/augment"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/metrics"
	"github.com/pkg/errors"
)

// Model is the part of a segmentation model the predictor uses.
type Model interface {
	Forward(b *datasets.Batch, p amp.Policy) ([]float32, error)
	Eval()
}

// Transform is a dihedral transform and its inverse. SquareOnly transforms
// swap height and width and are skipped for non-square inputs.
type Transform struct {
	Name       string
	Apply      func(*augment.Grid) *augment.Grid
	Inverse    func(*augment.Grid) *augment.Grid
	SquareOnly bool
}

func rot(k int) func(*augment.Grid) *augment.Grid {
	return func(g *augment.Grid) *augment.Grid { return augment.Rot90(g, k) }
}

func identity(g *augment.Grid) *augment.Grid { return g.Clone() }

func antiTranspose(g *augment.Grid) *augment.Grid {
	return augment.Rot90(augment.Transpose(g), 2)
}

var (
	Identity      = Transform{Name: "identity", Apply: identity, Inverse: identity}
	HFlip         = Transform{Name: "hflip", Apply: augment.HFlip, Inverse: augment.HFlip}
	VFlip         = Transform{Name: "vflip", Apply: augment.VFlip, Inverse: augment.VFlip}
	Rot180        = Transform{Name: "rot180", Apply: rot(2), Inverse: rot(2)}
	Rot90         = Transform{Name: "rot90", Apply: rot(1), Inverse: rot(3), SquareOnly: true}
	Rot270        = Transform{Name: "rot270", Apply: rot(3), Inverse: rot(1), SquareOnly: true}
	Transpose     = Transform{Name: "transpose", Apply: augment.Transpose, Inverse: augment.Transpose, SquareOnly: true}
	AntiTranspose = Transform{Name: "antitranspose", Apply: antiTranspose, Inverse: antiTranspose, SquareOnly: true}
)

// D4 returns the eight symmetries of the square.
func D4() []Transform {
	return []Transform{Identity, HFlip, VFlip, Rot180, Rot90, Rot270, Transpose, AntiTranspose}
}

// Flips returns the transforms valid for any shape.
func Flips() []Transform {
	return []Transform{Identity, HFlip, VFlip, Rot180}
}

// Predictor averages sigmoid probabilities over Transforms.
type Predictor struct {
	Model      Model
	Policy     amp.Policy
	Transforms []Transform // defaults to D4
}

func NewPredictor(m Model, p amp.Policy) *Predictor {
	return &Predictor{Model: m, Policy: p, Transforms: D4()}
}

// Active returns the transforms applicable to an h x w input.
func (p *Predictor) Active(h, w int) []Transform {
	ts := p.Transforms
	if len(ts) == 0 {
		ts = D4()
	}
	out := make([]Transform, 0, len(ts))
	for _, t := range ts {
		if t.SquareOnly && h != w {
			continue
		}
		out = append(out, t)
	}
	return out
}

// forEach runs fn(n) for n in [0, count) on NumCPU workers.
func forEach(count int, fn func(n int)) {
	workerCount := runtime.NumCPU()
	if workerCount > count {
		workerCount = count
	}
	jobs := make(chan int, count)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for n := range jobs {
				fn(n)
			}
		}()
	}
	for n := 0; n < count; n++ {
		jobs <- n
	}
	close(jobs)
	wg.Wait()
}

// Predict returns per-pixel water probabilities laid out (N, H, W). The
// model is left in evaluation mode.
func (p *Predictor) Predict(b *datasets.Batch) ([]float32, error) {
	if b == nil || b.Size == 0 {
		return nil, errors.New("tta: empty batch")
	}
	p.Model.Eval()
	hw := b.Height * b.Width
	sum := make([]float32, b.Size*hw)
	active := p.Active(b.Height, b.Width)

	for _, t := range active {
		images := make([]*augment.Grid, b.Size)
		forEach(b.Size, func(n int) {
			images[n] = t.Apply(b.Image(n))
		})
		tb := &datasets.Batch{
			Size:     b.Size,
			Channels: b.Channels,
			Height:   images[0].Height,
			Width:    images[0].Width,
			Images:   make([]float32, b.Size*b.Channels*hw),
		}
		for n, img := range images {
			copy(tb.Images[n*img.Len():], img.Data)
		}

		logits, err := p.Model.Forward(tb, p.Policy)
		if err != nil {
			return nil, errors.Wrapf(err, "tta %s", t.Name)
		}
		if len(logits) != b.Size*hw {
			return nil, errors.Errorf("tta %s: %d logits for %d pixels", t.Name, len(logits), b.Size*hw)
		}
		probs := metrics.Probabilities(logits)
		forEach(b.Size, func(n int) {
			g := augment.NewGrid(1, tb.Height, tb.Width)
			copy(g.Data, probs[n*hw:(n+1)*hw])
			back := t.Inverse(g)
			dst := sum[n*hw : (n+1)*hw]
			for i, v := range back.Data {
				dst[i] += v
			}
		})
	}

	inv := 1 / float32(len(active))
	for i := range sum {
		sum[i] *= inv
	}
	return sum, nil
}

// PredictMask thresholds Predict at threshold (strictly greater).
func (p *Predictor) PredictMask(b *datasets.Batch, threshold float32) ([]float32, error) {
	probs, err := p.Predict(b)
	if err != nil {
		return nil, err
	}
	return metrics.Threshold(probs, threshold), nil
}
