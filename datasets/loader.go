package datasets

import (
	"context"
	"io"
	"math/rand"

	"github.com/Noofbiz/floodSeg/augment"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Batch stores a batch in flat contiguous buffers. Images are laid out
// (Size, Channels, Height, Width) and masks (Size, Height, Width).
type Batch struct {
	// Index is the position of the batch within its epoch.
	Index int

	// Indices are the dataset indices of the examples.
	Indices []int

	Images []float32
	Masks  []float32 // nil in the test phase

	Size     int
	Channels int
	Height   int
	Width    int
}

// Pixels is the number of mask values in the batch.
func (b *Batch) Pixels() int { return b.Size * b.Height * b.Width }

// Image returns a copy of example n as a grid.
func (b *Batch) Image(n int) *augment.Grid {
	g := augment.NewGrid(b.Channels, b.Height, b.Width)
	copy(g.Data, b.Images[n*g.Len():(n+1)*g.Len()])
	return g
}

// Mask returns the mask values of example n. The slice aliases the batch.
func (b *Batch) Mask(n int) []float32 {
	if b.Masks == nil {
		return nil
	}
	hw := b.Height * b.Width
	return b.Masks[n*hw : (n+1)*hw]
}

// Tensors converts the batch to gomlx tensors. masks is nil for test
// batches.
func (b *Batch) Tensors() (images, masks *tensors.Tensor) {
	images = tensors.FromFlatDataAndDimensions(b.Images, b.Size, b.Channels, b.Height, b.Width)
	if b.Masks != nil {
		masks = tensors.FromFlatDataAndDimensions(b.Masks, b.Size, b.Height, b.Width)
	}
	return images, masks
}

// MakeBatch flattens samples into one batch. All samples must share a shape
// and either all or none must carry a mask.
func MakeBatch(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return &Batch{}, nil
	}
	first := samples[0].Image
	b := &Batch{
		Size:     len(samples),
		Channels: first.Channels,
		Height:   first.Height,
		Width:    first.Width,
		Images:   make([]float32, len(samples)*first.Len()),
	}
	hw := first.Height * first.Width
	withMasks := samples[0].Mask != nil
	if withMasks {
		b.Masks = make([]float32, len(samples)*hw)
	}
	for i, s := range samples {
		if !s.Image.SameSize(first) {
			return nil, errors.Errorf("datasets: example %d has shape %v, want %v", i, s.Image, first)
		}
		copy(b.Images[i*first.Len():], s.Image.Data)
		if (s.Mask != nil) != withMasks {
			return nil, errors.Errorf("datasets: example %d mask presence differs from the batch", i)
		}
		if withMasks {
			if s.Mask.Height != first.Height || s.Mask.Width != first.Width {
				return nil, errors.Errorf("datasets: example %d mask %v does not match image %v", i, s.Mask, first)
			}
			copy(b.Masks[i*hw:], s.Mask.Plane(0))
		}
	}
	return b, nil
}

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool

	// Workers load batches concurrently. Defaults to 1.
	Workers int

	// Prefetch bounds how many batches may be in flight ahead of the
	// consumer. Defaults to 2*Workers.
	Prefetch int

	// Seed drives shuffling and the per-batch augmentation streams, so an
	// epoch is reproducible whatever the number of workers.
	Seed int64
}

// Loader groups dataset examples into batches. Iterate delivers them in
// order with concurrent loading; Yield and Reset walk them one at a time.
type Loader struct {
	ds  Dataset
	cfg LoaderConfig

	// sequential state for Yield
	epoch  int
	cursor int
	plan   [][]int
}

func NewLoader(ds Dataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &Loader{ds: ds, cfg: cfg}
}

func (l *Loader) Dataset() Dataset { return l.ds }

// NumBatches is the number of batches per epoch.
func (l *Loader) NumBatches() int {
	n := l.ds.Len()
	if l.cfg.DropLast {
		return n / l.cfg.BatchSize
	}
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// splitmix64 finaliser, used to derive independent seeds.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (l *Loader) seed(epoch, batch int) int64 {
	return int64(mix(mix(mix(uint64(l.cfg.Seed))+uint64(epoch)) + uint64(batch+1)))
}

// Plan returns the dataset indices of every batch of an epoch.
func (l *Loader) Plan(epoch int) [][]int {
	n := l.ds.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		order = rand.New(rand.NewSource(l.seed(epoch, -1))).Perm(n)
	}
	plan := make([][]int, 0, l.NumBatches())
	for start := 0; start < n; start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, n)
		if end-start < l.cfg.BatchSize && l.cfg.DropLast {
			break
		}
		plan = append(plan, order[start:end])
	}
	return plan
}

func (l *Loader) load(epoch, index int, indices []int) (*Batch, error) {
	var rng *rand.Rand
	if l.ds.Phase().Random() {
		rng = rand.New(rand.NewSource(l.seed(epoch, index)))
	}
	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := l.ds.Example(idx, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d example %d", index, idx)
		}
		samples[i] = s
	}
	b, err := MakeBatch(samples)
	if err != nil {
		return nil, err
	}
	b.Index = index
	b.Indices = indices
	return b, nil
}

// Iterate loads the batches of epoch with the configured workers and calls
// fn on each, in plan order. It stops at the first error from fn or from a
// worker, or when ctx is cancelled.
func (l *Loader) Iterate(ctx context.Context, epoch int, fn func(*Batch) error) error {
	plan := l.Plan(epoch)
	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	workers, wctx := errgroup.WithContext(inner)
	workers.SetLimit(l.cfg.Workers)

	// Each future is filled by exactly one worker and closed without a value
	// if that worker fails.
	futures := make(chan chan *Batch, l.cfg.Prefetch)
	go func() {
		defer close(futures)
		for i, indices := range plan {
			out := make(chan *Batch, 1)
			select {
			case futures <- out:
			case <-wctx.Done():
				return
			}
			workers.Go(func() error {
				defer close(out)
				if err := wctx.Err(); err != nil {
					return err
				}
				b, err := l.load(epoch, i, indices)
				if err != nil {
					return err
				}
				out <- b
				return nil
			})
		}
	}()

	var fnErr error
	for out := range futures {
		b, ok := <-out
		if !ok || ctx.Err() != nil {
			break
		}
		if err := fn(b); err != nil {
			fnErr = err
			break
		}
	}
	cancel()
	for range futures {
	}
	werr := workers.Wait()
	if fnErr != nil {
		return fnErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return werr
}

// Name implements gomlx's train.Dataset.
func (l *Loader) Name() string {
	if n, ok := l.ds.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "Loader"
}

// Yield loads the next batch synchronously and returns it as gomlx tensors.
// spec is the *Batch itself. At the end of the epoch it returns io.EOF.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if l.plan == nil {
		l.plan = l.Plan(l.epoch)
	}
	if l.cursor >= len(l.plan) {
		return nil, nil, nil, io.EOF
	}
	b, err := l.load(l.epoch, l.cursor, l.plan[l.cursor])
	if err != nil {
		return nil, nil, nil, err
	}
	l.cursor++
	images, masks := b.Tensors()
	inputs = []*tensors.Tensor{images}
	if masks != nil {
		labels = []*tensors.Tensor{masks}
	}
	return b, inputs, labels, nil
}

// Reset starts the next epoch for Yield.
func (l *Loader) Reset() {
	l.epoch++
	l.cursor = 0
	l.plan = nil
}
