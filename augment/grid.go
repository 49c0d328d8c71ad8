// Package augment holds the raster type shared by the data pipeline and the
// geometric transforms applied to image/mask pairs before batching.
//
// Every transform in this package works on channel-first float32 grids and
// takes the random source explicitly, so a pair of grids sharing one call
// always receives the same sampled parameters.
package augment

import (
	"fmt"

	"github.com/pkg/errors"
)

// Grid is a channel-first raster. Element (c, y, x) lives at
// Data[c*Height*Width + y*Width + x].
type Grid struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewGrid allocates a zeroed grid.
func NewGrid(channels, height, width int) *Grid {
	return &Grid{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// FromPlanes builds a grid from per-channel row-major planes. All planes must
// have height*width elements.
func FromPlanes(height, width int, planes ...[]float32) (*Grid, error) {
	g := NewGrid(len(planes), height, width)
	for c, p := range planes {
		if len(p) != height*width {
			return nil, errors.Errorf("plane %d has %d values, want %d", c, len(p), height*width)
		}
		copy(g.Plane(c), p)
	}
	return g, nil
}

// At returns element (c, y, x).
func (g *Grid) At(c, y, x int) float32 {
	return g.Data[(c*g.Height+y)*g.Width+x]
}

// Set assigns element (c, y, x).
func (g *Grid) Set(c, y, x int, v float32) {
	g.Data[(c*g.Height+y)*g.Width+x] = v
}

// Plane returns the backing slice of channel c.
func (g *Grid) Plane(c int) []float32 {
	n := g.Height * g.Width
	return g.Data[c*n : (c+1)*n]
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Channels, g.Height, g.Width)
	copy(out.Data, g.Data)
	return out
}

// Len is the number of elements.
func (g *Grid) Len() int {
	return len(g.Data)
}

// SameSize reports whether both grids share height and width.
func (g *Grid) SameSize(o *Grid) bool {
	return g.Height == o.Height && g.Width == o.Width
}

// String describes the shape, mostly for error messages and logs.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%dx%d)", g.Channels, g.Height, g.Width)
}
