package datasets

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/Noofbiz/floodSeg/augment"
)

var errBoom = errors.New("boom")

// fakeDataset returns 1x1 samples whose image value is the index, plus a
// random fraction when an rng is given. Later indices finish sooner so
// workers complete out of order.
type fakeDataset struct {
	n      int
	phase  augment.Phase
	failAt int
}

func newFake(n int, phase augment.Phase) *fakeDataset {
	return &fakeDataset{n: n, phase: phase, failAt: -1}
}

func (f *fakeDataset) Len() int             { return f.n }
func (f *fakeDataset) Phase() augment.Phase { return f.phase }

func (f *fakeDataset) Example(i int, rng *rand.Rand) (Sample, error) {
	if i == f.failAt {
		return Sample{}, errBoom
	}
	time.Sleep(time.Duration((f.n-i)%3) * time.Millisecond)
	img := augment.NewGrid(1, 1, 1)
	img.Data[0] = float32(i)
	if rng != nil {
		img.Data[0] += rng.Float32()
	}
	mask := augment.NewGrid(1, 1, 1)
	mask.Data[0] = float32(i % 2)
	return Sample{Image: img, Mask: mask}, nil
}

func collect(t *testing.T, l *Loader, epoch int) []*Batch {
	t.Helper()
	var out []*Batch
	if err := l.Iterate(context.Background(), epoch, func(b *Batch) error {
		out = append(out, b)
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	return out
}

func TestLoaderDeliversInOrder(t *testing.T) {
	l := NewLoader(newFake(10, augment.Valid), LoaderConfig{BatchSize: 3, Workers: 4, Prefetch: 2})
	if l.NumBatches() != 4 {
		t.Fatalf("NumBatches = %d", l.NumBatches())
	}
	batches := collect(t, l, 0)
	if len(batches) != 4 {
		t.Fatalf("got %d batches", len(batches))
	}
	next := 0
	for i, b := range batches {
		if b.Index != i {
			t.Fatalf("batch %d has index %d", i, b.Index)
		}
		for _, v := range b.Images {
			if v != float32(next) {
				t.Fatalf("batch %d: got example %v, want %d", i, v, next)
			}
			next++
		}
	}
	if batches[3].Size != 1 {
		t.Fatalf("last batch size %d", batches[3].Size)
	}
}

func TestLoaderDropLast(t *testing.T) {
	l := NewLoader(newFake(10, augment.Valid), LoaderConfig{BatchSize: 3, DropLast: true})
	if l.NumBatches() != 3 || len(collect(t, l, 0)) != 3 {
		t.Fatal("last partial batch should be dropped")
	}
}

func TestLoaderShuffleIsReproducible(t *testing.T) {
	ds := newFake(12, augment.Train)
	a := NewLoader(ds, LoaderConfig{BatchSize: 4, Workers: 1, Shuffle: true, Seed: 7})
	b := NewLoader(ds, LoaderConfig{BatchSize: 4, Workers: 4, Shuffle: true, Seed: 7})
	ba, bb := collect(t, a, 3), collect(t, b, 3)
	for i := range ba {
		for j := range ba[i].Images {
			if ba[i].Images[j] != bb[i].Images[j] {
				t.Fatalf("batch %d differs between worker counts: %v vs %v", i, ba[i].Images, bb[i].Images)
			}
		}
	}

	seen := map[int]bool{}
	for _, batch := range ba {
		for _, idx := range batch.Indices {
			seen[idx] = true
		}
	}
	if len(seen) != 12 {
		t.Fatalf("epoch covered %d examples", len(seen))
	}

	other := collect(t, a, 4)
	same := true
	for i := range ba {
		for j := range ba[i].Indices {
			if ba[i].Indices[j] != other[i].Indices[j] {
				same = false
			}
		}
	}
	if same {
		t.Fatal("different epochs produced the same order")
	}
}

func TestLoaderWorkerError(t *testing.T) {
	ds := newFake(20, augment.Valid)
	ds.failAt = 13
	l := NewLoader(ds, LoaderConfig{BatchSize: 2, Workers: 3})
	delivered := 0
	err := l.Iterate(context.Background(), 0, func(*Batch) error {
		delivered++
		return nil
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if delivered > 6 {
		t.Fatalf("delivered %d batches past the failure", delivered)
	}
}

func TestLoaderStopsOnCallbackError(t *testing.T) {
	l := NewLoader(newFake(20, augment.Valid), LoaderConfig{BatchSize: 2, Workers: 3})
	calls := 0
	err := l.Iterate(context.Background(), 0, func(*Batch) error {
		calls++
		if calls == 2 {
			return errBoom
		}
		return nil
	})
	if !errors.Is(err, errBoom) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestLoaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoader(newFake(20, augment.Valid), LoaderConfig{BatchSize: 2, Workers: 2})
	err := l.Iterate(ctx, 0, func(*Batch) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoaderYieldAndReset(t *testing.T) {
	l := NewLoader(newFake(5, augment.Valid), LoaderConfig{BatchSize: 2})
	count := 0
	for {
		spec, inputs, labels, err := l.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Yield: %v", err)
		}
		if _, ok := spec.(*Batch); !ok || len(inputs) != 1 || len(labels) != 1 {
			t.Fatalf("unexpected yield %T %d %d", spec, len(inputs), len(labels))
		}
		count++
	}
	if count != 3 {
		t.Fatalf("yielded %d batches, want 3", count)
	}
	l.Reset()
	if _, _, _, err := l.Yield(); err != nil {
		t.Fatalf("Yield after Reset: %v", err)
	}
}

func TestMakeBatchRejectsMixedShapes(t *testing.T) {
	a := Sample{Image: augment.NewGrid(1, 2, 2), Mask: augment.NewGrid(1, 2, 2)}
	b := Sample{Image: augment.NewGrid(1, 3, 3), Mask: augment.NewGrid(1, 3, 3)}
	if _, err := MakeBatch([]Sample{a, b}); err == nil {
		t.Fatal("mixed shapes accepted")
	}
	c := Sample{Image: augment.NewGrid(1, 2, 2)}
	if _, err := MakeBatch([]Sample{a, c}); err == nil {
		t.Fatal("mixed mask presence accepted")
	}
}
