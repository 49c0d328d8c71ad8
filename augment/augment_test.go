package augment

import (
	"errors"
	"math/rand"
	"testing"
)

// seq returns a 1-channel grid filled with 0..h*w-1.
func seq(h, w int) *Grid {
	g := NewGrid(1, h, w)
	for i := range g.Data {
		g.Data[i] = float32(i)
	}
	return g
}

func equalData(t *testing.T, name string, got *Grid, want []float32) {
	t.Helper()
	if len(got.Data) != len(want) {
		t.Fatalf("%s: got %d values, want %d", name, len(got.Data), len(want))
	}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("%s: value %d got %v want %v (all %v)", name, i, got.Data[i], want[i], got.Data)
		}
	}
}

func TestGeometricOps(t *testing.T) {
	// 0 1 2
	// 3 4 5
	g := seq(2, 3)

	r1 := Rot90(g, 1)
	if r1.Height != 3 || r1.Width != 2 {
		t.Fatalf("rot90 shape: %v", r1)
	}
	equalData(t, "rot90", r1, []float32{2, 5, 1, 4, 0, 3})
	equalData(t, "rot180", Rot90(g, 2), []float32{5, 4, 3, 2, 1, 0})
	equalData(t, "rot270", Rot90(g, 3), []float32{3, 0, 4, 1, 5, 2})
	equalData(t, "rot360", Rot90(g, 4), g.Data)
	equalData(t, "hflip", HFlip(g), []float32{2, 1, 0, 5, 4, 3})
	equalData(t, "vflip", VFlip(g), []float32{3, 4, 5, 0, 1, 2})
	equalData(t, "transpose", Transpose(g), []float32{0, 3, 1, 4, 2, 5})
	equalData(t, "crop", Crop(g, 0, 1, 2, 2), []float32{1, 2, 4, 5})
}

func TestResizeNearestKeepsLabels(t *testing.T) {
	m := NewGrid(1, 4, 4)
	for i := range m.Data {
		switch {
		case i%4 == 0:
			m.Data[i] = 255
		case i%2 == 0:
			m.Data[i] = 1
		}
	}
	out := ResizeNearest(m, 7, 9)
	for _, v := range out.Data {
		if v != 0 && v != 1 && v != 255 {
			t.Fatalf("nearest resize produced blended value %v", v)
		}
	}
}

func TestResizeBilinear(t *testing.T) {
	g, err := FromPlanes(1, 2, []float32{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	out := ResizeBilinear(g, 1, 4)
	// half-pixel centres: x=0 and x=1 clamp onto the first pixel region
	equalData(t, "upsample", out, []float32{0, 0.25, 0.75, 1})

	same := ResizeBilinear(seq(3, 3), 3, 3)
	equalData(t, "identity", same, seq(3, 3).Data)
}

func TestParsePhase(t *testing.T) {
	for name, want := range map[string]Phase{"train": Train, "valid": Valid, "TEST": Test} {
		got, err := ParsePhase(name)
		if err != nil || got != want {
			t.Fatalf("ParsePhase(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParsePhase("holdout"); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
	tr := NewTransform(8)
	if _, err := tr.Pipeline(Phase(7)); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase for out of range phase, got %v", err)
	}
}

// pairedInput builds an image whose three channels equal a binary mask with a
// block of ones in the top-left corner.
func pairedInput(h, w int) (*Grid, *Grid) {
	mask := NewGrid(1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y < h/2 && x < w/3 {
				mask.Set(0, y, x, 1)
			}
		}
	}
	image := NewGrid(3, h, w)
	for c := 0; c < 3; c++ {
		copy(image.Plane(c), mask.Plane(0))
	}
	return image, mask
}

func TestTrainPipelineKeepsPairAligned(t *testing.T) {
	tr := NewTransform(32)
	checked := 0
	for seed := int64(0); seed < 20; seed++ {
		image, mask := pairedInput(40, 60)
		res, err := tr.Apply(Train, rand.New(rand.NewSource(seed)), image, mask)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if res.Image.Height != 32 || res.Image.Width != 32 || res.Mask.Channels != 1 {
			t.Fatalf("seed %d: unexpected shapes %v %v", seed, res.Image, res.Mask)
		}
		// Bilinear and nearest sampling may disagree by one pixel along the
		// block edge, so only pixels whose neighbourhood is uniform count.
		for y := 1; y < 31; y++ {
			for x := 1; x < 31; x++ {
				lo, hi := float32(1), float32(0)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						v := res.Image.At(0, y+dy, x+dx)
						lo, hi = min(lo, v), max(hi, v)
					}
				}
				m := res.Mask.At(0, y, x)
				if lo > 0.99 && m != 1 {
					t.Fatalf("seed %d: image=1 but mask=%v at (%d,%d)", seed, m, y, x)
				}
				if hi < 0.01 && m != 0 {
					t.Fatalf("seed %d: image=0 but mask=%v at (%d,%d)", seed, m, y, x)
				}
				if lo > 0.99 || hi < 0.01 {
					checked++
				}
			}
		}
	}
	if checked == 0 {
		t.Fatal("no uniform pixels were compared")
	}
}

func TestTrainPipelineReproducible(t *testing.T) {
	tr := NewTransform(16)
	image, mask := pairedInput(24, 24)
	a, err := tr.Apply(Train, rand.New(rand.NewSource(7)), image, mask)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Apply(Train, rand.New(rand.NewSource(7)), image, mask)
	if err != nil {
		t.Fatal(err)
	}
	equalData(t, "image", a.Image, b.Image.Data)
	equalData(t, "mask", a.Mask, b.Mask.Data)

	if _, err := tr.Apply(Train, nil, image, mask); !errors.Is(err, ErrNoRandomSource) {
		t.Fatalf("expected ErrNoRandomSource, got %v", err)
	}
}

func TestValidAndTestPipelinesDeterministic(t *testing.T) {
	tr := NewTransform(0)
	if tr.Size() != DefaultSize {
		t.Fatalf("default size %d", tr.Size())
	}
	image, mask := pairedInput(100, 80)
	for _, phase := range []Phase{Valid, Test} {
		a, err := tr.Apply(phase, nil, image, mask)
		if err != nil {
			t.Fatal(err)
		}
		b, err := tr.Apply(phase, rand.New(rand.NewSource(1)), image, mask)
		if err != nil {
			t.Fatal(err)
		}
		if a.Image.Height != 512 || a.Image.Width != 512 || a.Image.Channels != 3 {
			t.Fatalf("%v: image shape %v", phase, a.Image)
		}
		equalData(t, phase.String()+" image", a.Image, b.Image.Data)
		equalData(t, phase.String()+" mask", a.Mask, b.Mask.Data)
	}

	only, err := tr.Apply(Test, nil, image, nil)
	if err != nil {
		t.Fatal(err)
	}
	if only.Mask != nil || only.Image.Height != 512 {
		t.Fatalf("image-only run returned %v / %v", only.Image, only.Mask)
	}
}

func TestPipelineRejectsMismatchedMask(t *testing.T) {
	tr := NewTransform(8)
	cases := []struct {
		phase Phase
		image *Grid
		mask  *Grid
	}{
		{Valid, NewGrid(3, 16, 16), NewGrid(1, 4, 4)},
		{Train, NewGrid(3, 64, 64), NewGrid(1, 8, 8)},
		{Train, NewGrid(3, 8, 6), NewGrid(1, 6, 8)},
	}
	for _, c := range cases {
		_, err := tr.Apply(c.phase, rand.New(rand.NewSource(0)), c.image, c.mask)
		if !errors.Is(err, ErrShapeMismatch) {
			t.Fatalf("%v %v/%v: expected ErrShapeMismatch, got %v", c.phase, c.image, c.mask, err)
		}
	}
}
