// Package optim holds trainable parameters and the optimizers that update
// them.
package optim

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Parameter is one trainable tensor, flattened, with its gradient buffer.
type Parameter struct {
	Name  string
	Value []float64
	Grad  []float64
}

// NewParameter allocates a zeroed parameter of size n.
func NewParameter(name string, n int) *Parameter {
	return &Parameter{Name: name, Value: make([]float64, n), Grad: make([]float64, n)}
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Optimizer updates a fixed set of parameters from their gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
	Parameters() []*Parameter
}

// Options configures New. Zero values take the usual defaults.
type Options struct {
	LearningRate float64
	WeightDecay  float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Momentum     float64
}

// New builds an optimizer by name: "adam" (default) or "sgd".
func New(name string, params []*Parameter, opts Options) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "adam":
		return NewAdam(params, opts), nil
	case "sgd":
		return NewSGD(params, opts), nil
	}
	return nil, errors.Errorf("optim: unknown optimizer %q", name)
}

func zeroAll(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm is the global L2 norm of all gradients.
func GradNorm(params []*Parameter) float64 {
	var sq float64
	for _, p := range params {
		n := floats.Norm(p.Grad, 2)
		sq += n * n
	}
	return math.Sqrt(sq)
}

// ClipGradNorm rescales all gradients so that their global L2 norm is at most
// maxNorm and returns the norm before clipping. A non-positive maxNorm only
// measures.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	total := GradNorm(params)
	if maxNorm <= 0 {
		return total
	}
	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, p := range params {
			floats.Scale(coef, p.Grad)
		}
	}
	return total
}

// AllFinite reports whether every gradient entry is finite.
func AllFinite(params []*Parameter) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return false
			}
		}
	}
	return true
}
