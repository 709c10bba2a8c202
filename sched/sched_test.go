package sched

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/net"
	"github.com/grailbio/pgas/ori"
)

const testBlockSize = 64

func newTestScheduler(t *testing.T, numWorkers int) *Scheduler {
	t.Helper()
	ctx := context.Background()
	groups, err := net.NewLocalGroup(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	policy, err := gvm.NewBlockPolicy(1, testBlockSize, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := ori.NewEngine(ctx, groups[0], policy, testBlockSize, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(eng, numWorkers, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

// parallelSum is the divide-and-conquer shape of spec.md §4.8's
// parallel_reduce: fork the left half, recurse into the right half in
// place, and join once at the outer scope rather than per level, since
// every recursive level shares the same TaskGroup.
func parallelSum(ctx context.Context, w *Worker, g *TaskGroup, results []int64, lo, hi int) error {
	const cutoff = 8
	if hi-lo <= cutoff {
		for i := lo; i < hi; i++ {
			results[i] = int64(i) * int64(i)
		}
		return nil
	}
	mid := lo + (hi-lo)/2
	hintL, hintR := NoHint, NoHint
	if err := g.Fork(ctx, w, hintL, func(ctx context.Context, w *Worker) error {
		return parallelSum(ctx, w, g, results, lo, mid)
	}); err != nil {
		return err
	}
	_ = hintR
	return parallelSum(ctx, w, g, results, mid, hi)
}

func TestForkJoinParallelSum(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t, 4)

	const n = 200
	results := make([]int64, n)
	err := s.RootExec(ctx, func(ctx context.Context, w *Worker, g *TaskGroup) error {
		return parallelSum(ctx, w, g, results, 0, n)
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if results[i] != int64(i)*int64(i) {
			t.Fatalf("results[%d] = %d, want %d", i, results[i], int64(i)*int64(i))
		}
	}
}

func TestForkJoinSingleWorkerRunsInline(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t, 1)

	const n = 64
	results := make([]int64, n)
	err := s.RootExec(ctx, func(ctx context.Context, w *Worker, g *TaskGroup) error {
		return parallelSum(ctx, w, g, results, 0, n)
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if results[i] != int64(i)*int64(i) {
			t.Fatalf("results[%d] = %d, want %d", i, results[i], int64(i)*int64(i))
		}
	}
}

func TestForkJoinPropagatesChildError(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t, 4)

	wantErr := fmt.Errorf("boom")
	err := s.RootExec(ctx, func(ctx context.Context, w *Worker, g *TaskGroup) error {
		if err := g.Fork(ctx, w, NoHint, func(ctx context.Context, w *Worker) error {
			return wantErr
		}); err != nil {
			return err
		}
		return nil
	})
	if err != wantErr {
		t.Fatalf("got error %v, want %v", err, wantErr)
	}
}

func TestForkJoinManyLeavesAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(t, 8)

	const n = 2000
	results := make([]int64, n)
	err := s.RootExec(ctx, func(ctx context.Context, w *Worker, g *TaskGroup) error {
		return parallelSum(ctx, w, g, results, 0, n)
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if results[i] != int64(i)*int64(i) {
			t.Fatalf("results[%d] = %d, want %d", i, results[i], int64(i)*int64(i))
		}
	}
}

func TestWorkHintSplit(t *testing.T) {
	h := NewWorkHint(0, 8)
	l, r := h.Split()
	if l.Lo != 0 || l.Hi != 4 || r.Lo != 4 || r.Hi != 8 {
		t.Fatalf("unexpected split: %+v %+v", l, r)
	}
	if NoHint.HasHint() {
		t.Fatal("NoHint must report HasHint() == false")
	}
}
