package net

import (
	"context"
	"fmt"
	"sync"
)

// NewLocalGroup returns n Groups, one per simulated rank, all living
// in this process. It is the non-networked backend used by unit
// tests and the worked examples of spec.md §8.4 — the transport-layer
// analogue of the teacher's own in-process localExecutor
// (exec/local.go), which exists alongside a real distributed executor
// for exactly the same reason: fast, deterministic tests without a
// cluster.
//
// hosts, if non-nil, must have length n and assigns a host key per
// rank (ranks sharing a key are "local" per spec.md §3.1). If nil,
// every rank is given a distinct host key, i.e. no two ranks are
// local to each other.
func NewLocalGroup(n int, hosts []string) ([]Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("net: NewLocalGroup: n must be positive, got %d", n)
	}
	if hosts == nil {
		hosts = make([]string, n)
		for i := range hosts {
			hosts[i] = fmt.Sprintf("host%d", i)
		}
	} else if len(hosts) != n {
		return nil, fmt.Errorf("net: NewLocalGroup: len(hosts)=%d != n=%d", len(hosts), n)
	}

	fab := &localFabric{
		n:       n,
		hosts:   hosts,
		windows: make(map[windowID]map[Rank]*localWindowState),
		rv:      newLocalBarrier(n),
	}
	groups := make([]Group, n)
	for r := 0; r < n; r++ {
		groups[r] = &localGroup{self: Rank(r), fab: fab}
	}
	return groups, nil
}

// localWindowState is one rank's copy of a window's backing buffer.
type localWindowState struct {
	mu  sync.Mutex
	buf []byte
}

// localFabric is shared process-wide state for one simulated group:
// window registrations and collective-operation rendezvous state.
// Collectives are implemented directly with mutexes and condition
// variables rather than a message protocol, since every "rank" is
// just a goroutine-safe struct in the same address space.
type localFabric struct {
	n     int
	hosts []string

	mu      sync.Mutex
	windows map[windowID]map[Rank]*localWindowState

	// rv is a single shared rendezvous point reused for every
	// collective call (Barrier/Broadcast/AllGather/AllReduce). This
	// is correct because SPMD programs call collectives in matching
	// order across ranks, so the k'th collective call on every rank
	// is always the same logical operation; see its doc comment.
	rv *localBarrier
}

type localGroup struct {
	self Rank
	fab  *localFabric
}

func (g *localGroup) Self() Rank   { return g.self }
func (g *localGroup) Size() int    { return g.fab.n }
func (g *localGroup) Host(r Rank) string {
	return g.fab.hosts[r]
}

func (g *localGroup) transport() transport { return g }

func (g *localGroup) Close() error { return nil }

// --- transport: window registration and one-sided ops ---

func (g *localGroup) registerWindow(id windowID, buf []byte) {
	g.fab.mu.Lock()
	defer g.fab.mu.Unlock()
	if g.fab.windows[id] == nil {
		g.fab.windows[id] = make(map[Rank]*localWindowState)
	}
	g.fab.windows[id][g.self] = &localWindowState{buf: buf}
}

func (g *localGroup) unregisterWindow(id windowID) {
	g.fab.mu.Lock()
	defer g.fab.mu.Unlock()
	if peers := g.fab.windows[id]; peers != nil {
		delete(peers, g.self)
		if len(peers) == 0 {
			delete(g.fab.windows, id)
		}
	}
}

func (g *localGroup) state(id windowID, target Rank) (*localWindowState, error) {
	g.fab.mu.Lock()
	peers := g.fab.windows[id]
	g.fab.mu.Unlock()
	if peers == nil {
		return nil, fatal("net: unknown window")
	}
	st := peers[target]
	if st == nil {
		return nil, fatal("net: rank %d has no local state for this window", target)
	}
	return st, nil
}

func (g *localGroup) put(_ context.Context, target Rank, win windowID, disp int64, data []byte) error {
	st, err := g.state(win, target)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if disp+int64(len(data)) > int64(len(st.buf)) {
		return fatal("net: put out of range")
	}
	copy(st.buf[disp:], data)
	return nil
}

func (g *localGroup) get(_ context.Context, target Rank, win windowID, disp int64, data []byte) error {
	st, err := g.state(win, target)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if disp+int64(len(data)) > int64(len(st.buf)) {
		return fatal("net: get out of range")
	}
	copy(data, st.buf[disp:disp+int64(len(data))])
	return nil
}

func (g *localGroup) atomicFetchAdd(_ context.Context, target Rank, win windowID, disp int64, delta uint64) (uint64, error) {
	st, err := g.state(win, target)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	old := beUint64(st.buf[disp : disp+8])
	putBEUint64(st.buf[disp:disp+8], old+delta)
	return old, nil
}

func (g *localGroup) atomicCAS(_ context.Context, target Rank, win windowID, disp int64, old, new uint64) (uint64, error) {
	st, err := g.state(win, target)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cur := beUint64(st.buf[disp : disp+8])
	if cur == old {
		putBEUint64(st.buf[disp:disp+8], new)
	}
	return cur, nil
}

func (g *localGroup) flush(context.Context, Rank) error { return nil }
func (g *localGroup) flushAll(context.Context) error     { return nil }

// --- Group: window creation ---

func (g *localGroup) NewWindow(ctx context.Context, size int) (*Window, error) {
	if size < 0 {
		return nil, fatal("net: negative window size %d", size)
	}
	id, err := g.agreeWindowID(ctx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	g.registerWindow(id, buf)
	return &Window{group: g, id: id, local: buf, owned: true}, nil
}

func (g *localGroup) NewWindowFromBuffer(ctx context.Context, buf []byte) (*Window, error) {
	id, err := g.agreeWindowID(ctx)
	if err != nil {
		return nil, err
	}
	g.registerWindow(id, buf)
	return &Window{group: g, id: id, local: buf, owned: false}, nil
}

// agreeWindowID runs a broadcast from rank 0 so that every rank
// registers the same window id for the Nth NewWindow call, the way a
// real RMA library's collective window creation assigns a shared
// handle.
func (g *localGroup) agreeWindowID(ctx context.Context) (windowID, error) {
	var id windowID
	if g.self == 0 {
		id = allocWindowID()
	}
	buf := make([]byte, 8)
	putBEUint64(buf, uint64(id))
	out, err := g.Broadcast(ctx, 0, buf)
	if err != nil {
		return 0, err
	}
	return windowID(beUint64(out)), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBEUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
