// Package tracker records scalar training metrics keyed by step.
package tracker

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// Record is a set of named scalars logged at one step, e.g.
// {"train/loss": 0.41, "valid/iou": 0.62}.
type Record map[string]float64

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Record) String() string {
	var sb strings.Builder
	for i, k := range r.Keys() {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(humanize.Ftoa(r[k]))
	}
	return sb.String()
}

// Tracker receives metric records. Failures are reported to the caller,
// which decides whether they matter.
type Tracker interface {
	Log(step int, rec Record) error
	Close() error
}

// LogTracker writes every record to klog at verbosity 1.
type LogTracker struct {
	Name string
}

func NewLogTracker(name string) *LogTracker { return &LogTracker{Name: name} }

func (l *LogTracker) Log(step int, rec Record) error {
	klog.V(1).Infof("[%s] step %s: %s", l.Name, humanize.Comma(int64(step)), rec)
	return nil
}

func (l *LogTracker) Close() error { return nil }

// Multi fans records out to several trackers. Every tracker is called; the
// first error is returned.
type Multi []Tracker

func (m Multi) Log(step int, rec Record) error {
	var first error
	for _, t := range m {
		if err := t.Log(step, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, t := range m {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
