package datasets

import (
	"image"
	"image/color"
	"io"
	"os"

	"github.com/Noofbiz/floodSeg/augment"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

// Sensor range of the true-colour rasters. Images are clipped into
// [ClipLow, ClipHigh] and divided by ClipHigh.
const (
	ClipLow  = 400
	ClipHigh = 2400
)

// ErrDecode wraps every failure to read or decode a raster.
var ErrDecode = errors.New("datasets: cannot decode raster")

// RasterReader reads one raster file into a channel-first grid of raw sample
// values.
type RasterReader interface {
	ReadRaster(path string) (*augment.Grid, error)
}

// TIFFReader reads baseline TIFF files: 8/16-bit gray (one channel) and
// 8/16-bit RGB or RGBA (three channels, alpha dropped).
type TIFFReader struct{}

func (TIFFReader) ReadRaster(path string) (*augment.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "open %s: %v", path, err)
	}
	defer f.Close()
	g, err := DecodeRaster(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return g, nil
}

// DecodeRaster decodes a TIFF stream. Sample values are kept as stored, no
// colour-model rescaling is applied.
func DecodeRaster(r io.Reader) (*augment.Grid, error) {
	m, err := tiff.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}
	return gridFromImage(m)
}

func gridFromImage(m image.Image) (*augment.Grid, error) {
	b := m.Bounds()
	h, w := b.Dy(), b.Dx()
	var g *augment.Grid
	switch src := m.(type) {
	case *image.Gray:
		g = augment.NewGrid(1, h, w)
		fill1(g, b, func(x, y int) float32 { return float32(src.GrayAt(x, y).Y) })
	case *image.Gray16:
		g = augment.NewGrid(1, h, w)
		fill1(g, b, func(x, y int) float32 { return float32(src.Gray16At(x, y).Y) })
	case *image.RGBA:
		g = augment.NewGrid(3, h, w)
		fill3(g, b, func(x, y int) (float32, float32, float32) {
			c := src.RGBAAt(x, y)
			return float32(c.R), float32(c.G), float32(c.B)
		})
	case *image.NRGBA:
		g = augment.NewGrid(3, h, w)
		fill3(g, b, func(x, y int) (float32, float32, float32) {
			c := src.NRGBAAt(x, y)
			return float32(c.R), float32(c.G), float32(c.B)
		})
	case *image.RGBA64:
		g = augment.NewGrid(3, h, w)
		fill3(g, b, func(x, y int) (float32, float32, float32) {
			c := src.RGBA64At(x, y)
			return float32(c.R), float32(c.G), float32(c.B)
		})
	case *image.NRGBA64:
		g = augment.NewGrid(3, h, w)
		fill3(g, b, func(x, y int) (float32, float32, float32) {
			c := src.NRGBA64At(x, y)
			return float32(c.R), float32(c.G), float32(c.B)
		})
	default:
		return nil, errors.Wrapf(ErrDecode, "unsupported image type %T", m)
	}
	return g, nil
}

func fill1(g *augment.Grid, b image.Rectangle, at func(x, y int) float32) {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			g.Set(0, y, x, at(b.Min.X+x, b.Min.Y+y))
		}
	}
}

func fill3(g *augment.Grid, b image.Rectangle, at func(x, y int) (float32, float32, float32)) {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			r, gr, bl := at(b.Min.X+x, b.Min.Y+y)
			g.Set(0, y, x, r)
			g.Set(1, y, x, gr)
			g.Set(2, y, x, bl)
		}
	}
}

// NormalizeImage clips every value into [ClipLow, ClipHigh] and divides by
// ClipHigh, in place.
func NormalizeImage(g *augment.Grid) {
	for i, v := range g.Data {
		g.Data[i] = NormalizeValue(v)
	}
}

// NormalizeValue is NormalizeImage for a single value.
func NormalizeValue(v float32) float32 {
	if v < ClipLow {
		v = ClipLow
	}
	if v > ClipHigh {
		v = ClipHigh
	}
	return v / ClipHigh
}

// EncodeRaster writes g as an uncompressed TIFF: one channel as 16-bit gray,
// three channels as opaque 16-bit RGB. Values are rounded and clamped to
// [0, 65535].
func EncodeRaster(w io.Writer, g *augment.Grid) error {
	rect := image.Rect(0, 0, g.Width, g.Height)
	var m image.Image
	switch g.Channels {
	case 1:
		img := image.NewGray16(rect)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: sample16(g.At(0, y, x))})
			}
		}
		m = img
	case 3:
		img := image.NewRGBA64(rect)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				img.SetRGBA64(x, y, color.RGBA64{
					R: sample16(g.At(0, y, x)),
					G: sample16(g.At(1, y, x)),
					B: sample16(g.At(2, y, x)),
					A: 0xffff,
				})
			}
		}
		m = img
	default:
		return errors.Errorf("datasets: cannot encode %d channels", g.Channels)
	}
	return tiff.Encode(w, m, nil)
}

// WriteRaster is EncodeRaster into a new file.
func WriteRaster(path string, g *augment.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create raster")
	}
	if err := EncodeRaster(f, g); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}

// WriteMask writes a binary prediction (values > 0 become 1) as an 8-bit gray
// TIFF.
func WriteMask(path string, pred []float32, height, width int) error {
	if len(pred) != height*width {
		return errors.Errorf("datasets: mask has %d values for %dx%d", len(pred), height, width)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range pred {
		if v > 0 {
			img.Pix[(i/width)*img.Stride+i%width] = 1
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create mask")
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}

func sample16(v float32) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= 65535:
		return 65535
	}
	return uint16(v + 0.5)
}
