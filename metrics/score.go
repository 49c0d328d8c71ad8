package metrics

import (
	"github.com/pkg/errors"
)

// Counts are the pixel tallies of one binary prediction against its labels,
// restricted to valid pixels. A value is truthy when it is non-zero.
type Counts struct {
	Intersection int
	Union        int
	TP, FP, FN   int
	Valid        int
}

// Count tallies pred against labels. pred must already be thresholded.
func Count(pred, labels []float32) (Counts, error) {
	if len(pred) != len(labels) {
		return Counts{}, errors.Errorf("metrics: %d predictions for %d labels", len(pred), len(labels))
	}
	var c Counts
	for i, ok := range ValidMask(labels) {
		if !ok {
			continue
		}
		c.Valid++
		p, t := pred[i] != 0, labels[i] != 0
		switch {
		case p && t:
			c.TP++
		case p:
			c.FP++
		case t:
			c.FN++
		}
	}
	c.Intersection = c.TP
	c.Union = c.TP + c.FP + c.FN
	return c, nil
}

// IoU is Intersection/Union. With an empty union, prediction and truth agree
// that there is no water, which scores 1.
func (c Counts) IoU() float64 {
	if c.Union == 0 {
		return 1
	}
	return float64(c.Intersection) / float64(c.Union)
}

// F1 is 2TP/(2TP+FP+FN), 1 when the denominator is empty.
func (c Counts) F1() float64 {
	d := 2*c.TP + c.FP + c.FN
	if d == 0 {
		return 1
	}
	return float64(2*c.TP) / float64(d)
}

// Add sums two tallies.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Intersection: c.Intersection + o.Intersection,
		Union:        c.Union + o.Union,
		TP:           c.TP + o.TP,
		FP:           c.FP + o.FP,
		FN:           c.FN + o.FN,
		Valid:        c.Valid + o.Valid,
	}
}

// IoU of a thresholded prediction.
func IoU(pred, labels []float32) (float64, error) {
	c, err := Count(pred, labels)
	if err != nil {
		return 0, err
	}
	return c.IoU(), nil
}

// F1 of a thresholded prediction.
func F1(pred, labels []float32) (float64, error) {
	c, err := Count(pred, labels)
	if err != nil {
		return 0, err
	}
	return c.F1(), nil
}
