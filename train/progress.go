package train

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// progress prints a one-line status every `every` batches, PyTorch style:
//
//	train epoch 3:  25% 50/200 [00:12<00:36, 4.17 batch/s] avg_loss=0.412 loss=0.398
type progress struct {
	phase string
	epoch int
	total int
	every int
	start time.Time
}

func newProgress(phase string, epoch, total, every int) *progress {
	return &progress{phase: phase, epoch: epoch, total: total, every: every, start: time.Now()}
}

func (p *progress) update(step int, m map[string]float64) {
	if p.every <= 0 || (step%p.every != 0 && step != p.total) {
		return
	}
	klog.V(1).Info(p.line(step, m))
}

func (p *progress) done(m map[string]float64) {
	klog.Infof("%s epoch %d finished: %s batches in %s%s",
		p.phase, p.epoch, humanize.Comma(int64(p.total)), formatDuration(time.Since(p.start)), formatMetrics(m))
}

func (p *progress) line(step int, m map[string]float64) string {
	pct := 1.0
	if p.total > 0 {
		pct = min(float64(step)/float64(p.total), 1)
	}
	elapsed := time.Since(p.start)
	var rate float64
	var eta time.Duration
	if step > 0 {
		rate = float64(step) / elapsed.Seconds()
		if pct > 0 {
			eta = time.Duration(float64(elapsed)/pct) - elapsed
		}
	}
	return fmt.Sprintf("%s epoch %d: %3.0f%% %s/%s [%s<%s, %s batch/s]%s",
		p.phase, p.epoch, pct*100,
		humanize.Comma(int64(step)), humanize.Comma(int64(p.total)),
		formatDuration(elapsed), formatDuration(eta),
		humanize.FtoaWithDigits(rate, 2),
		formatMetrics(m))
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%.3f", k, m[k])
	}
	return sb.String()
}

// formatDuration formats a duration as MM:SS, or HH:MM:SS past an hour.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	h, m := s/3600, (s%3600)/60
	s %= 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
