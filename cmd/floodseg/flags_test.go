package main

import (
	"flag"
	"testing"

	"github.com/Noofbiz/floodSeg/config"
)

func parseOverrides(t *testing.T, base config.Config, args ...string) config.Config {
	t.Helper()
	fs := flag.NewFlagSet("floodseg", flag.ContinueOnError)
	o := registerOverrides(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	o.apply(fs, &base)
	return base
}

func TestOverridesOnlyApplySetFlags(t *testing.T) {
	base := config.Default()
	base.MaxEpochs = 3
	base.FoldIndex = 2
	base.AMP = false

	got := parseOverrides(t, base)
	if got.MaxEpochs != 3 || got.FoldIndex != 2 || got.AMP || got.Seed != base.Seed {
		t.Fatalf("unset flags changed the config: %+v", got)
	}

	got = parseOverrides(t, base, "-seed", "0", "-fold", "-1", "-workers", "0", "-batch-size", "4")
	if got.Seed != 0 {
		t.Fatalf("seed %d, want 0", got.Seed)
	}
	if got.FoldIndex != -1 || got.NumWorkers != 0 || got.TrainBatchSize != 4 || got.TestBatchSize != 4 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.MaxEpochs != 3 {
		t.Fatalf("epochs %d, want the file value 3", got.MaxEpochs)
	}

	if got := parseOverrides(t, config.Default(), "-no-amp"); got.AMP {
		t.Fatal("-no-amp left mixed precision on")
	}
}
