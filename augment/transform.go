package augment

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSize is the square side produced by every phase pipeline.
const DefaultSize = 512

// Phase selects which pipeline a dataset uses.
type Phase int

const (
	Train Phase = iota
	Valid
	Test

	numPhases
)

// ErrUnknownPhase is returned for phase names or values outside Train, Valid
// and Test.
var ErrUnknownPhase = errors.New("augment: unknown phase")

// ErrShapeMismatch is returned when an image and its mask differ in height
// or width.
var ErrShapeMismatch = errors.New("augment: image and mask sizes differ")

// ParsePhase maps "train", "valid" and "test" to their Phase.
func ParsePhase(name string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "train":
		return Train, nil
	case "valid", "val", "validation":
		return Valid, nil
	case "test":
		return Test, nil
	}
	return 0, errors.Wrapf(ErrUnknownPhase, "%q", name)
}

func (p Phase) String() string {
	switch p {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	}
	return "unknown"
}

// Random reports whether the phase pipeline samples random parameters.
func (p Phase) Random() bool {
	return p == Train
}

// Result is the output of a pipeline run. Mask is nil when no mask was given.
type Result struct {
	Image *Grid
	Mask  *Grid
}

// Pipeline runs its stages in order.
type Pipeline []Stage

// Run applies every stage to the pair.
func (p Pipeline) Run(rng *rand.Rand, image, mask *Grid) (Result, error) {
	if image == nil {
		return Result{}, errors.New("augment: nil image")
	}
	if mask != nil && !image.SameSize(mask) {
		return Result{}, errors.Wrapf(ErrShapeMismatch, "image %v, mask %v", image, mask)
	}
	var err error
	for _, s := range p {
		image, mask, err = s.Apply(rng, image, mask)
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Image: image, Mask: mask}, nil
}

// Transform keeps the three phase pipelines built for one output size.
type Transform struct {
	size      int
	pipelines [numPhases]Pipeline
}

// NewTransform builds the train, valid and test pipelines. A non-positive
// size selects DefaultSize.
//
// train: rotate90, hflip, vflip, transpose (each p=0.5), random resized crop.
// valid, test: resize.
func NewTransform(size int) *Transform {
	if size <= 0 {
		size = DefaultSize
	}
	t := &Transform{size: size}
	t.pipelines[Train] = Pipeline{
		Rotate90{P: 0.5},
		HorizontalFlip{P: 0.5},
		VerticalFlip{P: 0.5},
		TransposeStage{P: 0.5},
		RandomResizedCrop{Height: size, Width: size},
		ToTensor{},
	}
	t.pipelines[Valid] = Pipeline{Resize{Height: size, Width: size}, ToTensor{}}
	t.pipelines[Test] = Pipeline{Resize{Height: size, Width: size}, ToTensor{}}
	return t
}

// Size is the output side length.
func (t *Transform) Size() int { return t.size }

// Pipeline returns the pipeline bound to phase.
func (t *Transform) Pipeline(phase Phase) (Pipeline, error) {
	if phase < 0 || phase >= numPhases {
		return nil, errors.Wrapf(ErrUnknownPhase, "%d", int(phase))
	}
	return t.pipelines[phase], nil
}

// Apply runs the phase pipeline. rng may be nil for Valid and Test.
func (t *Transform) Apply(phase Phase, rng *rand.Rand, image, mask *Grid) (Result, error) {
	p, err := t.Pipeline(phase)
	if err != nil {
		return Result{}, err
	}
	return p.Run(rng, image, mask)
}
