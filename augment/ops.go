package augment

import (
	"math"
)

// remap builds an outH x outW grid where each output pixel copies the input
// pixel returned by src for every channel.
func remap(g *Grid, outH, outW int, src func(y, x int) (int, int)) *Grid {
	out := NewGrid(g.Channels, outH, outW)
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			sy, sx := src(y, x)
			for c := 0; c < g.Channels; c++ {
				out.Set(c, y, x, g.At(c, sy, sx))
			}
		}
	}
	return out
}

// Rot90 rotates the grid counter-clockwise k quarter turns.
func Rot90(g *Grid, k int) *Grid {
	k = ((k % 4) + 4) % 4
	h, w := g.Height, g.Width
	switch k {
	case 1:
		return remap(g, w, h, func(y, x int) (int, int) { return x, w - 1 - y })
	case 2:
		return remap(g, h, w, func(y, x int) (int, int) { return h - 1 - y, w - 1 - x })
	case 3:
		return remap(g, w, h, func(y, x int) (int, int) { return h - 1 - x, y })
	}
	return g.Clone()
}

// HFlip mirrors the columns.
func HFlip(g *Grid) *Grid {
	return remap(g, g.Height, g.Width, func(y, x int) (int, int) { return y, g.Width - 1 - x })
}

// VFlip mirrors the rows.
func VFlip(g *Grid) *Grid {
	return remap(g, g.Height, g.Width, func(y, x int) (int, int) { return g.Height - 1 - y, x })
}

// Transpose swaps rows and columns.
func Transpose(g *Grid) *Grid {
	return remap(g, g.Width, g.Height, func(y, x int) (int, int) { return x, y })
}

// Crop cuts the h x w window whose top-left corner is (top, left). The window
// must lie inside the grid.
func Crop(g *Grid, top, left, h, w int) *Grid {
	return remap(g, h, w, func(y, x int) (int, int) { return top + y, left + x })
}

// ResizeNearest resamples with nearest-neighbour lookup. Values are copied,
// never blended, which keeps label grids (and the 255 no-data value) intact.
func ResizeNearest(g *Grid, outH, outW int) *Grid {
	if outH == g.Height && outW == g.Width {
		return g.Clone()
	}
	sy := float64(g.Height) / float64(outH)
	sx := float64(g.Width) / float64(outW)
	return remap(g, outH, outW, func(y, x int) (int, int) {
		return min(int(math.Floor(float64(y)*sy)), g.Height-1),
			min(int(math.Floor(float64(x)*sx)), g.Width-1)
	})
}

// ResizeBilinear resamples with bilinear interpolation using half-pixel
// centres and edge clamping.
func ResizeBilinear(g *Grid, outH, outW int) *Grid {
	if outH == g.Height && outW == g.Width {
		return g.Clone()
	}
	ys := linearTaps(g.Height, outH)
	xs := linearTaps(g.Width, outW)
	out := NewGrid(g.Channels, outH, outW)
	for c := 0; c < g.Channels; c++ {
		plane := g.Plane(c)
		dst := out.Plane(c)
		for y, ty := range ys {
			row0 := plane[ty.i0*g.Width:]
			row1 := plane[ty.i1*g.Width:]
			for x, tx := range xs {
				top := float64(row0[tx.i0])*(1-tx.w) + float64(row0[tx.i1])*tx.w
				bot := float64(row1[tx.i0])*(1-tx.w) + float64(row1[tx.i1])*tx.w
				dst[y*outW+x] = float32(top*(1-ty.w) + bot*ty.w)
			}
		}
	}
	return out
}

type tap struct {
	i0, i1 int
	w      float64
}

func linearTaps(in, out int) []tap {
	scale := float64(in) / float64(out)
	taps := make([]tap, out)
	for i := range taps {
		f := (float64(i)+0.5)*scale - 0.5
		i0 := int(math.Floor(f))
		w := f - float64(i0)
		if i0 < 0 {
			i0, w = 0, 0
		}
		if i0 >= in-1 {
			i0, w = in-1, 0
		}
		taps[i] = tap{i0: i0, i1: min(i0+1, in-1), w: w}
	}
	return taps
}
