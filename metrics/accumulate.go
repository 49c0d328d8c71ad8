package metrics

// Mean is a running arithmetic mean. It is a value: Add returns the updated
// accumulator and leaves the receiver untouched.
type Mean struct {
	sum float64
	n   int
}

func (m Mean) Add(x float64) Mean {
	return Mean{sum: m.sum + x, n: m.n + 1}
}

// Value is the mean so far, 0 before the first Add.
func (m Mean) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func (m Mean) Sum() float64 { return m.sum }
func (m Mean) Count() int   { return m.n }

// Running aggregates evaluation batches: per-batch IoU and F1 averaged over
// batches, plus the pooled tallies of all pixels seen.
type Running struct {
	iou   Mean
	f1    Mean
	total Counts
}

func (r Running) Add(c Counts) Running {
	return Running{
		iou:   r.iou.Add(c.IoU()),
		f1:    r.f1.Add(c.F1()),
		total: r.total.Add(c),
	}
}

func (r Running) MeanIoU() float64 { return r.iou.Value() }
func (r Running) MeanF1() float64  { return r.f1.Value() }
func (r Running) Batches() int     { return r.iou.Count() }

// PooledIoU is the IoU of all pixels seen so far taken together.
func (r Running) PooledIoU() float64 { return r.total.IoU() }

// Totals returns the pooled tallies.
func (r Running) Totals() Counts { return r.total }

// Summary is the finalised view of a Running accumulator.
type Summary struct {
	MeanIoU   float64
	MeanF1    float64
	PooledIoU float64
	Batches   int
}

func (r Running) Summary() Summary {
	return Summary{
		MeanIoU:   r.MeanIoU(),
		MeanF1:    r.MeanF1(),
		PooledIoU: r.PooledIoU(),
		Batches:   r.Batches(),
	}
}
