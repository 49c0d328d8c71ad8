package optim

import (
	"math"
)

// Adam with L2 weight decay folded into the gradient.
type Adam struct {
	params []*Parameter
	opts   Options
	m, v   [][]float64
	t      int
}

func NewAdam(params []*Parameter, opts Options) *Adam {
	if opts.LearningRate == 0 {
		opts.LearningRate = 1e-3
	}
	if opts.Beta1 == 0 {
		opts.Beta1 = 0.9
	}
	if opts.Beta2 == 0 {
		opts.Beta2 = 0.999
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = 1e-8
	}
	a := &Adam{params: params, opts: opts}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Value))
		a.v[i] = make([]float64, len(p.Value))
	}
	return a
}

func (a *Adam) Parameters() []*Parameter { return a.params }
func (a *Adam) ZeroGrad()                { zeroAll(a.params) }

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

func (a *Adam) Step() error {
	a.t++
	o := a.opts
	c1 := 1 - math.Pow(o.Beta1, float64(a.t))
	c2 := 1 - math.Pow(o.Beta2, float64(a.t))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			if o.WeightDecay != 0 {
				g += o.WeightDecay * p.Value[j]
			}
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g*g
			p.Value[j] -= o.LearningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.Epsilon)
		}
	}
	return nil
}

// SGD with optional momentum and L2 weight decay.
type SGD struct {
	params   []*Parameter
	opts     Options
	velocity [][]float64
}

func NewSGD(params []*Parameter, opts Options) *SGD {
	if opts.LearningRate == 0 {
		opts.LearningRate = 1e-2
	}
	s := &SGD{params: params, opts: opts}
	if opts.Momentum != 0 {
		s.velocity = make([][]float64, len(params))
		for i, p := range params {
			s.velocity[i] = make([]float64, len(p.Value))
		}
	}
	return s
}

func (s *SGD) Parameters() []*Parameter { return s.params }
func (s *SGD) ZeroGrad()                { zeroAll(s.params) }

func (s *SGD) Step() error {
	o := s.opts
	for i, p := range s.params {
		for j, g := range p.Grad {
			if o.WeightDecay != 0 {
				g += o.WeightDecay * p.Value[j]
			}
			if s.velocity != nil {
				s.velocity[i][j] = o.Momentum*s.velocity[i][j] + g
				g = s.velocity[i][j]
			}
			p.Value[j] -= o.LearningRate * g
		}
	}
	return nil
}
