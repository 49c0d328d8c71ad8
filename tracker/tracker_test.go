package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordString(t *testing.T) {
	r := Record{"valid/iou": 0.5, "train/loss": 1.25}
	if got := r.String(); got != "train/loss=1.25 valid/iou=0.5" {
		t.Fatalf("String() = %q", got)
	}
}

func TestSQLiteTrackerHistory(t *testing.T) {
	s, err := NewSQLiteTracker(":memory:", "fold0", map[string]any{"lr": 3e-4})
	if err != nil {
		t.Fatalf("NewSQLiteTracker: %v", err)
	}
	defer s.Close()
	if s.RunID() == "" {
		t.Fatal("empty run id")
	}
	for step, loss := range []float64{0.9, 0.7, 0.4} {
		if err := s.Log(step*10, Record{"train/loss": loss, "train/lr": 3e-4}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	hist, err := s.History("train/loss")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[2].Step != 20 || hist[2].Value != 0.4 {
		t.Fatalf("history %+v", hist)
	}
	runs, err := s.Runs()
	if err != nil || len(runs) != 1 || runs[0] != "fold0" {
		t.Fatalf("runs %v err %v", runs, err)
	}
}

func TestSQLiteTrackerOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	for _, name := range []string{"a", "b"} {
		s, err := NewSQLiteTracker(path, name, nil)
		if err != nil {
			t.Fatalf("NewSQLiteTracker: %v", err)
		}
		if err := s.Log(1, Record{"x": 1}); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if name == "b" {
			runs, _ := s.Runs()
			if len(runs) != 2 {
				t.Fatalf("runs %v", runs)
			}
			hist, _ := s.History("x")
			if len(hist) != 1 {
				t.Fatalf("history leaks across runs: %+v", hist)
			}
		}
		s.Close()
	}
}

func TestPlotTrackerWritesCharts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	p := NewPlotTracker(dir)
	for step := 0; step < 5; step++ {
		p.Log(step, Record{"train/loss": 1 / float64(step+1), "valid/iou": float64(step) / 5})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files := p.Files()
	if len(files) != 2 {
		t.Fatalf("files %v", files)
	}
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil || st.Size() == 0 {
			t.Fatalf("chart %s missing: %v", f, err)
		}
		if !strings.HasSuffix(f, ".png") || strings.Contains(filepath.Base(f), "/") {
			t.Fatalf("bad chart name %s", f)
		}
	}
}

type failing struct{ closed bool }

func (f *failing) Log(int, Record) error { return errors.New("disk full") }
func (f *failing) Close() error          { f.closed = true; return nil }

func TestMultiCallsEveryTracker(t *testing.T) {
	f := &failing{}
	p := NewPlotTracker(t.TempDir())
	m := Multi{f, p, NewLogTracker("test")}
	if err := m.Log(1, Record{"a": 1}); err == nil {
		t.Fatal("error swallowed")
	}
	if len(p.series["a"]) != 1 {
		t.Fatal("later trackers skipped after a failure")
	}
	if err := m.Close(); err != nil || !f.closed {
		t.Fatalf("Close: %v closed=%v", err, f.closed)
	}
}
