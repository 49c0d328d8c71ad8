package amp

import (
	"math"
	"testing"

	"github.com/Noofbiz/floodSeg/optim"
)

func TestPolicyRounding(t *testing.T) {
	x := float32(1.0009765625) // 1 + 2^-10, exact in float16
	if got := Float16.Round(x); got != x {
		t.Fatalf("float16 round of exact value: %v", got)
	}
	if got := Float16.Round(1 + 1.0/4096); got != 1 {
		t.Fatalf("float16 should drop 2^-12, got %v", got)
	}
	if got := Float16.Round(1e6); !math.IsInf(float64(got), 1) {
		t.Fatalf("float16 overflow should be +Inf, got %v", got)
	}
	if got := BFloat16.Round(1 + 1.0/256); got != 1 {
		t.Fatalf("bfloat16 should drop 2^-8, got %v", got)
	}
	if got := BFloat16.Round(1e30); math.IsInf(float64(got), 0) || math.Abs(float64(got)-1e30)/1e30 > 1e-2 {
		t.Fatalf("bfloat16 keeps float32 range, got %v", got)
	}
	if got := Float32.Round(1 + 1.0/4096); got != 1+1.0/4096 {
		t.Fatalf("float32 must not round")
	}
	xs := []float32{1 + 1.0/4096}
	Float16.RoundSlice(xs)
	if xs[0] != 1 {
		t.Fatalf("RoundSlice: %v", xs)
	}
}

func TestResolvePolicy(t *testing.T) {
	cpu, err := LookupDevice("CPU")
	if err != nil {
		t.Fatal(err)
	}
	if p := ResolvePolicy(cpu, true); p != BFloat16 {
		t.Fatalf("cpu autocast %v", p)
	}
	if p := ResolvePolicy(cpu, false); p != Float32 {
		t.Fatalf("disabled amp %v", p)
	}
	fp32, _ := LookupDevice("cpu-fp32")
	if p := ResolvePolicy(fp32, true); p != Float32 {
		t.Fatalf("device without reduced format must degrade, got %v", p)
	}
	if _, err := LookupDevice("tpu"); err == nil {
		t.Fatal("unknown device accepted")
	}
}

type countingOptimizer struct {
	params []*optim.Parameter
	steps  int
}

func (c *countingOptimizer) ZeroGrad()                      {}
func (c *countingOptimizer) Parameters() []*optim.Parameter { return c.params }
func (c *countingOptimizer) Step() error                    { c.steps++; return nil }

func TestGradScalerSkipsOverflowAndBacksOff(t *testing.T) {
	p := optim.NewParameter("w", 2)
	opt := &countingOptimizer{params: []*optim.Parameter{p}}
	s := NewGradScaler(true, ScalerOptions{InitScale: 8, GrowthInterval: 2})

	p.Grad[0], p.Grad[1] = 16, math.Inf(1)
	stepped, err := s.Step(opt)
	if err != nil || stepped {
		t.Fatalf("overflowing step must be skipped: stepped=%v err=%v", stepped, err)
	}
	s.Update()
	if s.Factor() != 4 || opt.steps != 0 {
		t.Fatalf("factor %v steps %d", s.Factor(), opt.steps)
	}

	for i := 0; i < 2; i++ {
		p.Grad[0], p.Grad[1] = 8, 4
		stepped, err = s.Step(opt)
		if err != nil || !stepped {
			t.Fatalf("clean step %d skipped", i)
		}
		if p.Grad[0] != 2 || p.Grad[1] != 1 {
			t.Fatalf("gradients not unscaled: %v", p.Grad)
		}
		s.Update()
	}
	if s.Factor() != 8 || opt.steps != 2 {
		t.Fatalf("factor should grow after the interval: %v, steps %d", s.Factor(), opt.steps)
	}
}

func TestGradScalerUnscaleOnce(t *testing.T) {
	p := optim.NewParameter("w", 1)
	s := NewGradScaler(true, ScalerOptions{InitScale: 4})
	p.Grad[0] = 8
	s.Unscale([]*optim.Parameter{p})
	s.Unscale([]*optim.Parameter{p})
	if p.Grad[0] != 2 {
		t.Fatalf("double unscale: %v", p.Grad[0])
	}
}

func TestDisabledScalerIsPassThrough(t *testing.T) {
	s := ForPolicy(BFloat16)
	if s.Enabled() || s.Factor() != 1 {
		t.Fatal("bfloat16 should not scale")
	}
	g := []float32{3}
	s.ScaleGrad(g)
	p := optim.NewParameter("w", 1)
	p.Grad[0] = math.NaN()
	opt := &countingOptimizer{params: []*optim.Parameter{p}}
	if stepped, _ := s.Step(opt); !stepped || g[0] != 3 {
		t.Fatal("disabled scaler must always step")
	}
	if !ForPolicy(Float16).Enabled() {
		t.Fatal("float16 should scale")
	}
}
