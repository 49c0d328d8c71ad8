package tta

import (
	"math"
	"testing"

	"github.com/Noofbiz/floodSeg/amp"
	"github.com/Noofbiz/floodSeg/augment"
	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/Noofbiz/floodSeg/metrics"
)

// pixelModel maps channel 0 of every pixel to a logit, so it commutes with
// every spatial transform.
type pixelModel struct{ evals int }

func (m *pixelModel) Eval() { m.evals++ }
func (m *pixelModel) Forward(b *datasets.Batch, _ amp.Policy) ([]float32, error) {
	hw := b.Height * b.Width
	out := make([]float32, b.Size*hw)
	for n := 0; n < b.Size; n++ {
		for i := 0; i < hw; i++ {
			out[n*hw+i] = 4*b.Images[n*b.Channels*hw+i] - 2
		}
	}
	return out, nil
}

// columnModel predicts the column index, so its output depends on the
// orientation of the input.
type columnModel struct{}

func (columnModel) Eval() {}
func (columnModel) Forward(b *datasets.Batch, _ amp.Policy) ([]float32, error) {
	out := make([]float32, 0, b.Size*b.Height*b.Width)
	for n := 0; n < b.Size; n++ {
		for y := 0; y < b.Height; y++ {
			for x := 0; x < b.Width; x++ {
				out = append(out, float32(x))
			}
		}
	}
	return out, nil
}

func batchOf(h, w int, values ...float32) *datasets.Batch {
	return &datasets.Batch{Size: len(values) / (2 * h * w), Channels: 2, Height: h, Width: w, Images: values}
}

func TestInverseUndoesTransform(t *testing.T) {
	for _, shape := range [][2]int{{3, 3}, {2, 3}} {
		g := augment.NewGrid(2, shape[0], shape[1])
		for i := range g.Data {
			g.Data[i] = float32(i)
		}
		for _, tr := range D4() {
			if tr.SquareOnly && shape[0] != shape[1] {
				continue
			}
			back := tr.Inverse(tr.Apply(g))
			if !back.SameSize(g) {
				t.Fatalf("%s on %v: shape %v", tr.Name, shape, back)
			}
			for i := range g.Data {
				if back.Data[i] != g.Data[i] {
					t.Fatalf("%s on %v: value %d changed", tr.Name, shape, i)
				}
			}
		}
	}
}

func TestEquivariantModelIsUnchanged(t *testing.T) {
	vals := make([]float32, 2*2*3*3)
	for i := range vals {
		vals[i] = float32(i%7) / 7
	}
	b := batchOf(3, 3, vals...)
	m := &pixelModel{}
	p := NewPredictor(m, amp.Float32)
	if len(p.Active(3, 3)) != 8 {
		t.Fatalf("square input should use all 8 transforms")
	}
	got, err := p.Predict(b)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	plain, _ := m.Forward(b, amp.Float32)
	want := metrics.Probabilities(plain)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("pixel %d: tta %v plain %v", i, got[i], want[i])
		}
	}
	if m.evals != 1 {
		t.Fatal("predictor must switch the model to eval mode")
	}
}

func TestPredictMapsBackThroughInverse(t *testing.T) {
	b := batchOf(2, 3, make([]float32, 2*2*3)...)
	p := &Predictor{Model: columnModel{}, Policy: amp.Float32, Transforms: []Transform{Identity, HFlip}}
	got, err := p.Predict(b)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			want := (metrics.Sigmoid(float64(x)) + metrics.Sigmoid(float64(2-x))) / 2
			if math.Abs(float64(got[y*3+x])-want) > 1e-6 {
				t.Fatalf("(%d,%d) = %v, want %v", y, x, got[y*3+x], want)
			}
		}
	}
	mask, _ := p.PredictMask(b, 0.8)
	if mask[0] != 0 || mask[1] != 0 {
		t.Fatalf("threshold: %v", mask)
	}
}

func TestNonSquareSkipsSwappingTransforms(t *testing.T) {
	p := NewPredictor(&pixelModel{}, amp.Float32)
	for _, tr := range p.Active(2, 3) {
		if tr.SquareOnly {
			t.Fatalf("%s used on a non-square input", tr.Name)
		}
	}
	if len(p.Active(2, 3)) != 4 {
		t.Fatalf("expected the 4 shape-preserving transforms")
	}
	if _, err := p.Predict(&datasets.Batch{}); err == nil {
		t.Fatal("empty batch accepted")
	}
}
