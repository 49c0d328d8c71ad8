package augment

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// ErrNoRandomSource is returned when a random stage is run without a
// random source.
var ErrNoRandomSource = errors.New("augment: random stage needs a random source")

// Stage is one step of a pipeline. Implementations sample their random
// parameters at most once per call and apply them to both grids. mask may be
// nil, in which case the returned mask is nil too.
type Stage interface {
	Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error)
}

func both(image, mask *Grid, fn func(*Grid) *Grid) (*Grid, *Grid) {
	image = fn(image)
	if mask != nil {
		mask = fn(mask)
	}
	return image, mask
}

func draw(rng *rand.Rand, p float64) (bool, error) {
	if rng == nil {
		return false, ErrNoRandomSource
	}
	return rng.Float64() < p, nil
}

// Rotate90 rotates by a uniformly drawn number of quarter turns with
// probability P.
type Rotate90 struct{ P float64 }

func (s Rotate90) Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	ok, err := draw(rng, s.P)
	if err != nil || !ok {
		return image, mask, err
	}
	k := rng.Intn(4)
	image, mask = both(image, mask, func(g *Grid) *Grid { return Rot90(g, k) })
	return image, mask, nil
}

// HorizontalFlip mirrors columns with probability P.
type HorizontalFlip struct{ P float64 }

func (s HorizontalFlip) Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	ok, err := draw(rng, s.P)
	if err != nil || !ok {
		return image, mask, err
	}
	image, mask = both(image, mask, HFlip)
	return image, mask, nil
}

// VerticalFlip mirrors rows with probability P.
type VerticalFlip struct{ P float64 }

func (s VerticalFlip) Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	ok, err := draw(rng, s.P)
	if err != nil || !ok {
		return image, mask, err
	}
	image, mask = both(image, mask, VFlip)
	return image, mask, nil
}

// TransposeStage swaps rows and columns with probability P.
type TransposeStage struct{ P float64 }

func (s TransposeStage) Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	ok, err := draw(rng, s.P)
	if err != nil || !ok {
		return image, mask, err
	}
	image, mask = both(image, mask, Transpose)
	return image, mask, nil
}

// Resize resamples to a fixed size: bilinear for the image, nearest for the
// mask.
type Resize struct{ Height, Width int }

func (s Resize) Apply(_ *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	image = ResizeBilinear(image, s.Height, s.Width)
	if mask != nil {
		mask = ResizeNearest(mask, s.Height, s.Width)
	}
	return image, mask, nil
}

// RandomResizedCrop cuts a window with random area and aspect ratio and
// resizes it to Height x Width. Zero Scale/Ratio fields take the usual
// defaults of [0.08, 1] and [3/4, 4/3].
type RandomResizedCrop struct {
	Height, Width int
	Scale         [2]float64
	Ratio         [2]float64
}

const cropAttempts = 10

func (s RandomResizedCrop) Apply(rng *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	if rng == nil {
		return nil, nil, ErrNoRandomSource
	}
	top, left, h, w := s.window(rng, image.Height, image.Width)
	image = ResizeBilinear(Crop(image, top, left, h, w), s.Height, s.Width)
	if mask != nil {
		mask = ResizeNearest(Crop(mask, top, left, h, w), s.Height, s.Width)
	}
	return image, mask, nil
}

func (s RandomResizedCrop) window(rng *rand.Rand, height, width int) (top, left, h, w int) {
	scale, ratio := s.Scale, s.Ratio
	if scale == [2]float64{} {
		scale = [2]float64{0.08, 1}
	}
	if ratio == [2]float64{} {
		ratio = [2]float64{3.0 / 4.0, 4.0 / 3.0}
	}
	area := float64(height * width)
	logLo, logHi := math.Log(ratio[0]), math.Log(ratio[1])
	for range cropAttempts {
		target := area * (scale[0] + rng.Float64()*(scale[1]-scale[0]))
		aspect := math.Exp(logLo + rng.Float64()*(logHi-logLo))
		w = int(math.RoundToEven(math.Sqrt(target * aspect)))
		h = int(math.RoundToEven(math.Sqrt(target / aspect)))
		if w > 0 && h > 0 && w <= width && h <= height {
			return rng.Intn(height-h+1), rng.Intn(width-w+1), h, w
		}
	}

	// Fall back to a centred crop with the aspect ratio clamped into range.
	in := float64(width) / float64(height)
	switch {
	case in < ratio[0]:
		w = width
		h = int(math.RoundToEven(float64(w) / ratio[0]))
	case in > ratio[1]:
		h = height
		w = int(math.RoundToEven(float64(h) * ratio[1]))
	default:
		w, h = width, height
	}
	return (height - h) / 2, (width - w) / 2, h, w
}

// ToTensor finalises the layout handed to batching: the image stays
// channel-first and the mask is reduced to its first channel.
type ToTensor struct{}

func (ToTensor) Apply(_ *rand.Rand, image, mask *Grid) (*Grid, *Grid, error) {
	if mask == nil {
		return image, nil, nil
	}
	if !image.SameSize(mask) {
		return nil, nil, errors.Errorf("augment: image %v and mask %v differ in size", image, mask)
	}
	if mask.Channels != 1 {
		single := NewGrid(1, mask.Height, mask.Width)
		copy(single.Data, mask.Plane(0))
		mask = single
	}
	return image, mask, nil
}
