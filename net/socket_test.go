package net

import (
	"context"
	stdnet "net"
	"sync"
	"testing"
	"time"
)

// socketTestAddrs reserves n free loopback ports up front so every
// rank's NewSocketGroup call can be handed the full address list
// before any of them starts listening.
func socketTestAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		ln, err := stdnet.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addrs[i] = ln.Addr().String()
		ln.Close()
	}
	return addrs
}

func newSocketGroups(t *testing.T, n int) ([]Group, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)

	addrs := socketTestAddrs(t, n)
	groups := make([]Group, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			g, err := NewSocketGroup(ctx, Rank(r), addrs)
			groups[r], errs[r] = g, err
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		for _, g := range groups {
			g.Close()
		}
	})
	return groups, ctx
}

func TestSocketWindowPutGet(t *testing.T) {
	groups, ctx := newSocketGroups(t, 3)

	wins := make([]*Window, 3)
	var wg sync.WaitGroup
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
	// A rank reading its own window never goes over the wire.
	if err := wins[1].Get(ctx, 1, 8, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("self-get: got %q", got)
	}
}

func TestSocketAtomics(t *testing.T) {
	groups, ctx := newSocketGroups(t, 2)

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

	const nIncr = 50
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
}

func TestSocketCollectives(t *testing.T) {
	const n = 4
	groups, ctx := newSocketGroups(t, n)

	var wg sync.WaitGroup
	bcasts := make([][]byte, n)
	reduces := make([]uint64, n)
	gathers := make([][][]byte, n)
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
				t.Fatalf("rank %d: gather[%d] = %q", r, i, gathers[r][i])
			}
		}
		if reduces[r] != 1+2+3+4 {
			t.Fatalf("rank %d: reduce = %d, want 10", r, reduces[r])
		}
	}
}
