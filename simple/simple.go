package simple

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/Noofbiz/floodSeg/amp"
	"github.com/Noofbiz/floodSeg/augment"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/optim"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config holds the hyperparameters of the pixel classifier.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{32, 16}
	// If empty, a single hidden layer of size 16 will be used.
	HiddenSizes []int

	// InChannels is the number of image channels. Defaults to 3.
	InChannels int

	// Seed controls weight initialisation. If zero, a time-based seed is used.
	Seed int64

	// Encoder and Network only label the model; they end up in checkpoints
	// and save paths.
	Encoder string
	Network string
}

// Model is a small MLP applied independently to every pixel: the channel
// values of a pixel go in, one water logit comes out. It is the in-package
// stand-in for a real encoder/decoder network and satisfies the training
// loop's model contract.
type Model struct {
	Config Config

	// layerSizes includes input size, hidden sizes, then the single output.
	layerSizes []int

	// weights[l] is a row-major [out][in] matrix for layer l -> l+1
	weights []*optim.Parameter
	biases  []*optim.Parameter

	training bool

	// inputs of the last training-mode Forward, consumed by Backward
	pending *pendingForward
}

type pendingForward struct {
	batch  *datasets.Batch
	policy amp.Policy
}

// NewModel creates a model in training mode with Xavier-initialised weights.
func NewModel(cfg Config) (*Model, error) {
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{16}
	}
	if cfg.InChannels == 0 {
		cfg.InChannels = 3
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, errors.Errorf("simple: invalid hidden size %d", h)
		}
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InChannels)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, 1)

	m := &Model{Config: cfg, layerSizes: sizes, training: true}
	rng := rand.New(rand.NewSource(cfg.Seed))
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		w := optim.NewParameter(fmt.Sprintf("layer%d.weight", l), out*in)
		// Xavier/Glorot uniform initialization heuristic
		limit := math.Sqrt(6.0 / float64(in+out))
		for i := range w.Value {
			w.Value[i] = (rng.Float64()*2 - 1) * limit
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, optim.NewParameter(fmt.Sprintf("layer%d.bias", l), out))
	}
	return m, nil
}

func (m *Model) Train()         { m.training = true }
func (m *Model) Eval()          { m.training = false; m.pending = nil }
func (m *Model) Training() bool { return m.training }

// Parameters lists weights and biases layer by layer.
func (m *Model) Parameters() []*optim.Parameter {
	ps := make([]*optim.Parameter, 0, 2*len(m.weights))
	for l := range m.weights {
		ps = append(ps, m.weights[l], m.biases[l])
	}
	return ps
}

// NumParams is the total number of scalar parameters.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.Parameters() {
		n += len(p.Value)
	}
	return n
}

// forwardPixel runs one pixel through the network. acts[0] is the input and
// acts[L] holds the logit; pre[l] are the pre-activations of layer l. Under
// a reduced policy every pre-activation is rounded to that format.
func (m *Model) forwardPixel(x []float64, p amp.Policy) (pre, acts [][]float64) {
	L := len(m.weights)
	pre = make([][]float64, L)
	acts = make([][]float64, L+1)
	acts[0] = x
	for l := 0; l < L; l++ {
		in, out := m.layerSizes[l], m.layerSizes[l+1]
		W, b := m.weights[l].Value, m.biases[l].Value
		z := make([]float64, out)
		for j := 0; j < out; j++ {
			sum := b[j]
			row := W[j*in : (j+1)*in]
			for i, v := range acts[l] {
				sum += row[i] * v
			}
			if p.Reduced() {
				sum = float64(p.Round(float32(sum)))
			}
			z[j] = sum
		}
		pre[l] = z
		a := make([]float64, out)
		copy(a, z)
		// ReLU for hidden, linear for last layer
		if l < L-1 {
			for j := range a {
				if a[j] < 0 {
					a[j] = 0
				}
			}
		}
		acts[l+1] = a
	}
	return pre, acts
}

func (m *Model) pixelInput(b *datasets.Batch, n, i int, p amp.Policy) []float64 {
	hw := b.Height * b.Width
	x := make([]float64, b.Channels)
	base := n * b.Channels * hw
	for c := range x {
		v := b.Images[base+c*hw+i]
		if p.Reduced() {
			v = p.Round(v)
		}
		x[c] = float64(v)
	}
	return x
}

func (m *Model) checkBatch(b *datasets.Batch) error {
	if b == nil {
		return errors.New("simple: nil batch")
	}
	if b.Channels != m.layerSizes[0] {
		return errors.Errorf("simple: batch has %d channels, model expects %d", b.Channels, m.layerSizes[0])
	}
	return nil
}

// Forward returns one logit per pixel, laid out like the batch masks
// (N, H, W). In training mode the batch is kept for Backward.
func (m *Model) Forward(b *datasets.Batch, p amp.Policy) ([]float32, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, err
	}
	hw := b.Height * b.Width
	logits := make([]float32, b.Size*hw)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < b.Size; n++ {
		g.Go(func() error {
			for i := 0; i < hw; i++ {
				_, acts := m.forwardPixel(m.pixelInput(b, n, i, p), p)
				logits[n*hw+i] = float32(acts[len(acts)-1][0])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if m.training {
		m.pending = &pendingForward{batch: b, policy: p}
	}
	return logits, nil
}

// Backward accumulates dLoss/dParam into the parameter gradients given
// dLoss/dLogits for the last training-mode Forward.
func (m *Model) Backward(grad []float32) error {
	if m.pending == nil {
		return errors.New("simple: Backward without a training-mode Forward")
	}
	b, p := m.pending.batch, m.pending.policy
	m.pending = nil
	hw := b.Height * b.Width
	if len(grad) != b.Size*hw {
		return errors.Errorf("simple: %d gradients for %d logits", len(grad), b.Size*hw)
	}

	// Per-example buffers keep the summation order fixed.
	local := make([][][]float64, b.Size)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < b.Size; n++ {
		g.Go(func() error {
			acc := m.gradBuffers()
			for i := 0; i < hw; i++ {
				d := float64(grad[n*hw+i])
				if d == 0 {
					continue
				}
				m.backwardPixel(m.pixelInput(b, n, i, p), p, d, acc)
			}
			local[n] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	params := m.Parameters()
	for _, acc := range local {
		for k, buf := range acc {
			pg := params[k].Grad
			for i, v := range buf {
				pg[i] += v
			}
		}
	}
	return nil
}

// gradBuffers mirrors Parameters().
func (m *Model) gradBuffers() [][]float64 {
	ps := m.Parameters()
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = make([]float64, len(p.Value))
	}
	return out
}

// backwardPixel accumulates the gradients of one pixel into acc. Under a
// reduced policy the backpropagated deltas are rounded to that format, so a
// float16 overflow shows up as an infinite gradient.
func (m *Model) backwardPixel(x []float64, p amp.Policy, dOut float64, acc [][]float64) {
	pre, acts := m.forwardPixel(x, p)
	round := func(v float64) float64 {
		if p.Reduced() {
			return float64(p.Round(float32(v)))
		}
		return v
	}
	delta := []float64{round(dOut)}
	for l := len(m.weights) - 1; l >= 0; l-- {
		in := m.layerSizes[l]
		gW, gB := acc[2*l], acc[2*l+1]
		inAct := acts[l]
		for j, dj := range delta {
			gB[j] += dj
			row := gW[j*in : (j+1)*in]
			for i, a := range inAct {
				row[i] += dj * a
			}
		}
		if l == 0 {
			break
		}
		W := m.weights[l].Value
		prev := make([]float64, in)
		for i := range prev {
			if pre[l-1][i] <= 0 {
				continue
			}
			sum := 0.0
			for j, dj := range delta {
				sum += W[j*in+i] * dj
			}
			prev[i] = round(sum)
		}
		delta = prev
	}
}

// PredictImage returns the logits of a single channel-first image.
func (m *Model) PredictImage(img *augment.Grid, p amp.Policy) ([]float32, error) {
	b := &datasets.Batch{
		Images:   img.Data,
		Size:     1,
		Channels: img.Channels,
		Height:   img.Height,
		Width:    img.Width,
	}
	training := m.training
	m.training = false
	defer func() { m.training = training }()
	return m.Forward(b, p)
}
