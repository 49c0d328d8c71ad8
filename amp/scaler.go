package amp

import (
	"github.com/Noofbiz/floodSeg/optim"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ScalerOptions tune a GradScaler. Zero values take the defaults.
type ScalerOptions struct {
	InitScale      float64 // 65536
	GrowthFactor   float64 // 2
	BackoffFactor  float64 // 0.5
	GrowthInterval int     // 2000
}

// GradScaler multiplies the loss gradient by a dynamic factor before the
// backward pass and divides it out of the parameter gradients before the
// optimizer step. Overflowing steps are skipped and shrink the factor; runs
// of clean steps grow it. A disabled scaler is a pass-through.
//
// The scaler is owned by one training loop and keeps its state across steps.
type GradScaler struct {
	enabled  bool
	opts     ScalerOptions
	scale    float64
	growth   int
	unscaled bool
	foundInf bool
}

// NewGradScaler returns a scaler. It is only useful with Float16; bfloat16
// shares float32's exponent range.
func NewGradScaler(enabled bool, opts ScalerOptions) *GradScaler {
	if opts.InitScale == 0 {
		opts.InitScale = 65536
	}
	if opts.GrowthFactor == 0 {
		opts.GrowthFactor = 2
	}
	if opts.BackoffFactor == 0 {
		opts.BackoffFactor = 0.5
	}
	if opts.GrowthInterval == 0 {
		opts.GrowthInterval = 2000
	}
	return &GradScaler{enabled: enabled, opts: opts, scale: opts.InitScale}
}

// ForPolicy enables scaling only for float16.
func ForPolicy(p Policy) *GradScaler {
	return NewGradScaler(p == Float16, ScalerOptions{})
}

func (s *GradScaler) Enabled() bool { return s.enabled }

// Factor is the multiplier applied to the loss gradient, 1 when disabled.
func (s *GradScaler) Factor() float64 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// ScaleGrad multiplies a loss gradient in place by Factor.
func (s *GradScaler) ScaleGrad(grad []float32) {
	if !s.enabled {
		return
	}
	f := float32(s.scale)
	for i := range grad {
		grad[i] *= f
	}
}

// Unscale divides the parameter gradients by the current factor and reports
// whether any of them overflowed. Calling it twice for one step is a no-op.
func (s *GradScaler) Unscale(params []*optim.Parameter) bool {
	if !s.enabled || s.unscaled {
		return s.foundInf
	}
	inv := 1 / s.scale
	for _, p := range params {
		floats.Scale(inv, p.Grad)
	}
	s.foundInf = !optim.AllFinite(params)
	s.unscaled = true
	return s.foundInf
}

// Step unscales if needed and runs the optimizer unless an overflow was
// found. It reports whether the optimizer stepped.
func (s *GradScaler) Step(opt optim.Optimizer) (bool, error) {
	if !s.enabled {
		return true, opt.Step()
	}
	if s.Unscale(opt.Parameters()) {
		return false, nil
	}
	if err := opt.Step(); err != nil {
		return false, errors.Wrap(err, "optimizer step")
	}
	return true, nil
}

// Update adjusts the factor after a step and resets the per-step state.
func (s *GradScaler) Update() {
	if !s.enabled {
		return
	}
	if s.foundInf {
		s.scale *= s.opts.BackoffFactor
		s.growth = 0
	} else {
		s.growth++
		if s.growth == s.opts.GrowthInterval {
			s.scale *= s.opts.GrowthFactor
			s.growth = 0
		}
	}
	s.unscaled = false
	s.foundInf = false
}
