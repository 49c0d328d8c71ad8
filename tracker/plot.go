package tracker

import (
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotTracker keeps every series in memory and writes one PNG line chart per
// key into Dir when closed.
type PlotTracker struct {
	Dir string

	mu     sync.Mutex
	series map[string]plotter.XYs
	files  []string
}

func NewPlotTracker(dir string) *PlotTracker {
	return &PlotTracker{Dir: dir, series: make(map[string]plotter.XYs)}
}

func (p *PlotTracker) Log(step int, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range rec {
		p.series[k] = append(p.series[k], plotter.XY{X: float64(step), Y: v})
	}
	return nil
}

// Files lists the charts written by Close.
func (p *PlotTracker) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...)
}

func fileName(key string) string {
	r := strings.NewReplacer("/", "_", " ", "_", "\\", "_")
	return r.Replace(key) + ".png"
}

func (p *PlotTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.series) == 0 {
		return nil
	}
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", p.Dir)
	}
	keys := make([]string, 0, len(p.series))
	for k := range p.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out := filepath.Join(p.Dir, fileName(k))
		if err := plotSeries(k, p.series[k], out); err != nil {
			return errors.Wrapf(err, "plot %s", k)
		}
		p.files = append(p.files, out)
	}
	return nil
}

func plotSeries(key string, xys plotter.XYs, out string) error {
	pl := plot.New()
	pl.Title.Text = key
	pl.X.Label.Text = "step"
	pl.Y.Label.Text = key

	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	line.Width = vg.Points(1.2)
	pl.Add(line)
	pl.Add(plotter.NewGrid())

	if len(xys) == 1 {
		pts, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		pts.GlyphStyle.Color = line.Color
		pts.GlyphStyle.Radius = vg.Points(2.5)
		pl.Add(pts)
	}
	return pl.Save(8*vg.Inch, 4*vg.Inch, out)
}
