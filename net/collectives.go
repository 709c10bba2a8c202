package net

import (
	"context"
	"sync"
)

// localBarrier is a reusable, generation-counted rendezvous point: n
// participants each call enter with their own contribution; the last
// arrival computes a combined result from all n contributions, and
// every participant observes the matching per-rank slice of that
// result before any of them can start the next generation. This one
// structure implements Barrier, Broadcast, AllGather, and
// AllReduceUint64 — they differ only in what `compute` does with the
// gathered per-rank byte slices.
type localBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	gen     int
	data    [][]byte
	result  [][]byte
}

func newLocalBarrier(n int) *localBarrier {
	b := &localBarrier{n: n, data: make([][]byte, n)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// enter performs one rendezvous generation. self identifies the
// caller's rank; in is its contribution; compute combines all n
// contributions (indexed by rank) into a per-rank result slice, which
// is only invoked once, by whichever rank happens to arrive last.
func (b *localBarrier) enter(self Rank, in []byte, compute func(data [][]byte) [][]byte) []byte {
	b.mu.Lock()
	gen := b.gen
	b.data[self] = in
	b.arrived++
	if b.arrived == b.n {
		b.result = compute(b.data)
		b.data = make([][]byte, b.n)
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
	} else {
		for b.gen == gen {
			b.cond.Wait()
		}
	}
	res := b.result[self]
	b.mu.Unlock()
	return res
}

func (g *localGroup) Barrier(ctx context.Context) error {
	g.fab.rv.enter(g.self, nil, func(data [][]byte) [][]byte {
		return make([][]byte, len(data))
	})
	return ctx.Err()
}

func (g *localGroup) Broadcast(ctx context.Context, root Rank, data []byte) ([]byte, error) {
	var in []byte
	if g.self == root {
		in = data
	}
	out := g.fab.rv.enter(g.self, in, func(all [][]byte) [][]byte {
		val := all[root]
		res := make([][]byte, len(all))
		for i := range res {
			res[i] = val
		}
		return res
	})
	return out, ctx.Err()
}

func (g *localGroup) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	out := g.fab.rv.enter(g.self, data, func(all [][]byte) [][]byte {
		gathered := encodeGather(all)
		res := make([][]byte, len(all))
		for i := range res {
			res[i] = gathered
		}
		return res
	})
	return decodeGather(out)
}

func (g *localGroup) AllReduceUint64(ctx context.Context, v uint64, op ReduceOp) (uint64, error) {
	buf := make([]byte, 8)
	putBEUint64(buf, v)
	out := g.fab.rv.enter(g.self, buf, func(all [][]byte) [][]byte {
		acc := beUint64(all[0])
		for _, b := range all[1:] {
			acc = op.apply(acc, beUint64(b))
		}
		res := make([][]byte, len(all))
		combined := make([]byte, 8)
		putBEUint64(combined, acc)
		for i := range res {
			res[i] = combined
		}
		return res
	})
	return beUint64(out), ctx.Err()
}

// encodeGather/decodeGather pack a [][]byte into a single []byte with
// a big-endian length prefix per element, so AllGather's rendezvous
// result (a single []byte per rank, per localBarrier's contract) can
// carry a variable number of variable-length contributions.
func encodeGather(all [][]byte) []byte {
	out := make([]byte, 0)
	for _, b := range all {
		hdr := make([]byte, 8)
		putBEUint64(hdr, uint64(len(b)))
		out = append(out, hdr...)
		out = append(out, b...)
	}
	return out
}

func decodeGather(buf []byte) ([][]byte, error) {
	var out [][]byte
	for len(buf) > 0 {
		if len(buf) < 8 {
			return nil, fatal("net: malformed gather payload")
		}
		n := beUint64(buf[:8])
		buf = buf[8:]
		if uint64(len(buf)) < n {
			return nil, fatal("net: malformed gather payload")
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out, nil
}
