package net

import (
	"context"
	"sync"
	"testing"
)

func TestWindowPutGet(t *testing.T) {
	ctx := context.Background()
	groups, err := NewLocalGroup(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wins := make([]*Window, 3)
	for r, g := range groups {
		wg.Add(1)
		go func(r int, g Group) {
			defer wg.Done()
			w, err := g.NewWindow(ctx, 64)
			if err != nil {
				t.Error(err)
				return
			}
			wins[r] = w
		}(r, g)
	}
	wg.Wait()

	if err := wins[0].Put(ctx, 1, 8, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if err := wins[0].Get(ctx, 1, 8, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	// Verify the target's local buffer was actually mutated (one-sided).
	if string(wins[1].Local()[8:13]) != "hello" {
		t.Fatalf("target local buffer not updated: %q", wins[1].Local()[8:13])
	}
}

func TestWindowAtomics(t *testing.T) {
	ctx := context.Background()
	groups, err := NewLocalGroup(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	// NewWindow is collective: every rank must call it concurrently so
	// the shared rendezvous it uses to agree on a window id completes.
	wins := make([]*Window, 2)
	var wg sync.WaitGroup
	for r, g := range groups {
		wg.Add(1)
		go func(r int, g Group) {
			defer wg.Done()
			w, err := g.NewWindow(ctx, 16)
			if err != nil {
				t.Error(err)
				return
			}
			wins[r] = w
		}(r, g)
	}
	wg.Wait()
	w0 := wins[0]

	const nIncr = 100
	for i := 0; i < nIncr; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w0.AtomicFetchAdd(ctx, 1, 0, 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	got := make([]byte, 8)
	if err := w0.Get(ctx, 1, 0, got); err != nil {
		t.Fatal(err)
	}
	if v := beUint64(got); v != nIncr {
		t.Fatalf("got %d, want %d", v, nIncr)
	}

	old, err := w0.AtomicCAS(ctx, 1, 0, nIncr, 42)
	if err != nil {
		t.Fatal(err)
	}
	if old != nIncr {
		t.Fatalf("cas observed %d, want %d", old, nIncr)
	}
	if err := w0.Get(ctx, 1, 0, got); err != nil {
		t.Fatal(err)
	}
	if v := beUint64(got); v != 42 {
		t.Fatalf("after cas: got %d, want 42", v)
	}
}

func TestBarrierBroadcastGatherReduce(t *testing.T) {
	ctx := context.Background()
	const n = 4
	groups, err := NewLocalGroup(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	bcasts := make([][]byte, n)
	gathers := make([][][]byte, n)
	reduces := make([]uint64, n)
	for r, g := range groups {
		wg.Add(1)
		go func(r int, g Group) {
			defer wg.Done()
			if err := g.Barrier(ctx); err != nil {
				t.Error(err)
				return
			}
			out, err := g.Broadcast(ctx, 2, []byte("leader"))
			if err != nil {
				t.Error(err)
				return
			}
			bcasts[r] = out

			mine := []byte{byte('a' + r)}
			all, err := g.AllGather(ctx, mine)
			if err != nil {
				t.Error(err)
				return
			}
			gathers[r] = all

			sum, err := g.AllReduceUint64(ctx, uint64(r+1), ReduceSum)
			if err != nil {
				t.Error(err)
				return
			}
			reduces[r] = sum
		}(r, g)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		if string(bcasts[r]) != "leader" {
			t.Fatalf("rank %d: broadcast = %q", r, bcasts[r])
		}
		if len(gathers[r]) != n {
			t.Fatalf("rank %d: gather len = %d", r, len(gathers[r]))
		}
		for i := 0; i < n; i++ {
			if gathers[r][i][0] != byte('a'+i) {
				t.Fatalf("rank %d: gather[%d] = %q, want %q", r, i, gathers[r][i], string(rune('a'+i)))
			}
		}
		if reduces[r] != 1+2+3+4 {
			t.Fatalf("rank %d: reduce = %d, want 10", r, reduces[r])
		}
	}
}
