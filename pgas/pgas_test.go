package pgas

import (
	"context"
	"strconv"
	"testing"

	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/net"
	"github.com/grailbio/pgas/ori"
	"github.com/grailbio/pgas/sched"
)

func newTestRuntime(t *testing.T, blockSize, size, numWorkers int) *Runtime {
	t.Helper()
	t.Setenv("BLOCK_SIZE", "4096")
	t.Setenv("CACHE_SIZE", strconv.Itoa(size))
	t.Setenv("WORKERS_PER_PROCESS", strconv.Itoa(numWorkers))

	groups, err := net.NewLocalGroup(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	policy, err := gvm.NewBlockPolicy(1, blockSize, size)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Init(context.Background(), groups[0], policy)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestInitRootExecClose(t *testing.T) {
	rt := newTestRuntime(t, 4096, 4096*4, 4)
	ctx := context.Background()

	var ran bool
	err := rt.RootExec(ctx, func(ctx context.Context, w *sched.Worker, g *sched.TaskGroup) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("root_exec body did not run")
	}
}

func TestMallocCollRoundTrip(t *testing.T) {
	rt := newTestRuntime(t, 4096, 4096*4, 2)
	ctx := context.Background()

	p, err := MallocColl[int64](ctx, rt, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer FreeColl(p)

	span, err := Checkout(ctx, p, 0, p.Len(), ori.Write)
	if err != nil {
		t.Fatal(err)
	}
	sl := span.Slice()
	for i := range sl {
		sl[i] = int64(i) * 2
	}
	if err := span.Checkin(ctx); err != nil {
		t.Fatal(err)
	}

	rspan, err := Checkout(ctx, p, 0, p.Len(), ori.Read)
	if err != nil {
		t.Fatal(err)
	}
	rsl := rspan.Slice()
	for i, v := range rsl {
		if v != int64(i)*2 {
			t.Fatalf("elem %d = %d, want %d", i, v, i*2)
		}
	}
	if err := rspan.Checkin(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutNBCompletes(t *testing.T) {
	rt := newTestRuntime(t, 4096, 4096*4, 2)
	ctx := context.Background()

	p, err := MallocColl[int64](ctx, rt, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer FreeColl(p)

	pc := CheckoutNB(ctx, p, 0, 10, ori.Write)
	span, err := pc.Complete(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if span.Len() != 10 {
		t.Fatalf("len = %d, want 10", span.Len())
	}
	if err := span.Checkin(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestMakeCheckoutsBatch(t *testing.T) {
	rt := newTestRuntime(t, 4096, 4096*8, 2)
	ctx := context.Background()

	a, err := MallocColl[int64](ctx, rt, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer FreeColl(a)
	b, err := MallocColl[int64](ctx, rt, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer FreeColl(b)

	var aSeen, bSeen int
	checkin, err := MakeCheckouts(ctx,
		NewCheckoutRequest(a, 0, 10, ori.Write, func(s Span[int64]) { aSeen = s.Len() }),
		NewCheckoutRequest(b, 0, 10, ori.Write, func(s Span[int64]) { bSeen = s.Len() }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if aSeen != 10 || bSeen != 10 {
		t.Fatalf("aSeen=%d bSeen=%d, want 10,10", aSeen, bSeen)
	}
	if err := checkin(ctx); err != nil {
		t.Fatal(err)
	}
}
