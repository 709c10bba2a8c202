package ori

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/metrics"
	"github.com/grailbio/pgas/net"
)

// ReleaseToken is an opaque stamp identifying "all writes issued on
// this rank up to and including the call that produced it" (spec.md
// §3.5, §4.6). A task's creating rank hands one to every forked child;
// a thief acquires against it before running a stolen continuation.
type ReleaseToken uint64

// Engine is one rank's coherence engine over a single gvm.Region: the
// cache directory, physical pool, and epoch bookkeeping that together
// implement checkout/checkin and release/acquire. Per spec.md §5's
// "Shared resources" note that the directory is mutated only by its
// owning worker, Engine serializes access internally with a mutex so
// that multiple scheduler-worker goroutines in one process can share
// it safely; this is the Go-idiomatic equivalent of the single-owning-
// thread discipline the source assumes.
type Engine struct {
	region    *gvm.Region
	group     net.Group
	blockSize int
	epochs    *epochTable
	scope     *metrics.Scope

	mu              sync.Mutex
	dir             *directory
	releaseSeq      uint64
	lastAcquiredSeq uint64
}

// NewEngine collectively allocates a gvm.Region for policy and builds
// a coherence engine over it with a physical cache pool sized
// cacheBytes (rounded down to a whole number of blocks, minimum one).
// scope, if nil, records to metrics.Global.
func NewEngine(ctx context.Context, group net.Group, policy gvm.HomePolicy, cacheBytes int, scope *metrics.Scope) (*Engine, error) {
	region, err := gvm.NewRegion(ctx, group, policy)
	if err != nil {
		return nil, err
	}
	epochs, err := newEpochTable(ctx, group, policy)
	if err != nil {
		return nil, err
	}
	blockSize := policy.BlockSize()
	capacity := cacheBytes / blockSize
	if capacity < 1 {
		capacity = 1
	}
	if scope == nil {
		scope = metrics.Global
	}
	return &Engine{
		region:    region,
		group:     group,
		blockSize: blockSize,
		epochs:    epochs,
		scope:     scope,
		dir:       newDirectory(blockSize, capacity),
	}, nil
}

// Region returns the backing gvm.Region.
func (e *Engine) Region() *gvm.Region { return e.region }

// blockMapping is the resolved, directly accessible backing storage
// for one block of a checkout — either a live sub-slice of the home
// region (owner == self) or of a cache pool slot.
type blockMapping struct {
	blockOffset int
	data        []byte
}

// Checkout resolves [offset, offset+n) to its backing blocks and
// returns a Handle over them, per spec.md §4.4. A single-block
// checkout (or any checkout entirely within the local home region) is
// zero-copy: Handle.Bytes aliases the live backing storage directly.
// A checkout spanning more than one non-home block is assembled into
// a staging copy, since our cache pool's physical slots for two
// different blocks are not guaranteed to be adjacent in memory the
// way the source's per-page virtual remapping would make them; see
// DESIGN.md for why this is an acceptable Go-native substitute.
func (e *Engine) Checkout(ctx context.Context, offset, n int, mode Mode) (*Handle, error) {
	if n == 0 {
		return &Handle{eng: e, offset: offset, mode: mode}, nil
	}
	if mode == NoAccess {
		return nil, fmt.Errorf("ori: checkout: NoAccess performs no automatic checkout")
	}
	effSize := e.region.Policy.EffectiveSize()
	if offset < 0 || n < 0 || offset+n > effSize {
		return nil, fmt.Errorf("ori: checkout [%d,%d) out of range [0,%d)", offset, offset+n, effSize)
	}

	firstBlock := blockID(offset / e.blockSize)
	lastBlock := blockID((offset + n - 1) / e.blockSize)
	blocks := make([]blockID, 0, int(lastBlock-firstBlock)+1)
	for b := firstBlock; b <= lastBlock; b++ {
		blocks = append(blocks, b)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resolved := make([]blockMapping, len(blocks))
	for i, b := range blocks {
		m, err := e.resolveBlock(ctx, b, mode)
		if err != nil {
			return nil, err
		}
		resolved[i] = m
	}

	if len(resolved) == 1 {
		m := resolved[0]
		lo, hi := offset-m.blockOffset, offset-m.blockOffset+n
		return &Handle{eng: e, offset: offset, n: n, mode: mode, blocks: blocks, buf: m.data[lo:hi], direct: true}, nil
	}

	buf := make([]byte, n)
	pos := 0
	for i, m := range resolved {
		lo, hi := 0, e.blockSize
		if i == 0 {
			lo = offset - m.blockOffset
		}
		if i == len(resolved)-1 {
			hi = offset + n - m.blockOffset
		}
		copy(buf[pos:], m.data[lo:hi])
		pos += hi - lo
	}
	return &Handle{eng: e, offset: offset, n: n, mode: mode, blocks: blocks, buf: buf, direct: false}, nil
}

func (e *Engine) resolveBlock(ctx context.Context, b blockID, mode Mode) (blockMapping, error) {
	blockOffset := int(b) * e.blockSize
	owner, _, _, homeOffset := e.region.Policy.HomeOf(blockOffset)

	if owner == int(e.group.Self()) {
		data := e.region.Local()[homeOffset : homeOffset+e.blockSize]
		return blockMapping{blockOffset: blockOffset, data: data}, nil
	}

	entry, ok := e.dir.blocks[b]
	if !ok {
		slot, err := e.allocateSlot(ctx)
		if err != nil {
			return blockMapping{}, err
		}
		entry = &blockEntry{slot: slot}
		e.dir.blocks[b] = entry
		e.dir.pool.bind(slot, b)
		if mode == Read || mode == ReadWrite {
			if err := e.fetch(ctx, owner, homeOffset, entry); err != nil {
				return blockMapping{}, err
			}
		} else {
			entry.state = Clean
		}
	} else {
		e.dir.pool.touchMRU(entry.slot)
	}
	entry.refcount++
	return blockMapping{blockOffset: blockOffset, data: e.dir.pool.bytes(entry.slot)}, nil
}

func (e *Engine) fetch(ctx context.Context, owner, homeOffset int, entry *blockEntry) error {
	w := e.region.Windows[owner]
	if err := w.Get(ctx, net.Rank(owner), int64(homeOffset), e.dir.pool.bytes(entry.slot)); err != nil {
		return err
	}
	metrics.PagesFaulted.Incr(e.scope, 1)
	metrics.BytesGot.Incr(e.scope, e.blockSize)
	ep, err := e.epochs.read(ctx, owner, homeOffset/e.blockSize)
	if err != nil {
		return err
	}
	entry.lastEpoch = ep
	entry.state = Clean
	return nil
}

// allocateSlot returns a free pool slot, evicting the least-recently-
// used unpinned block if the pool is full. Dirty victims are flushed
// to home before their slot is reused, matching spec.md §4.4's
// "blocking until enough Dirty blocks finish their flushes". A pool
// with every slot pinned (refcount > 0) is a programmer
// over-subscription error and is fatal per spec.md §7.
func (e *Engine) allocateSlot(ctx context.Context) (int, error) {
	p := e.dir.pool
	if len(p.free) > 0 {
		slot := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		return slot, nil
	}
	for slot := p.tail; slot != -1; slot = p.prev[slot] {
		b := p.occupant[slot]
		entry := e.dir.blocks[b]
		if entry.refcount > 0 {
			continue
		}
		if entry.state == Dirty {
			if err := e.flushBlock(ctx, b, entry); err != nil {
				return 0, err
			}
		}
		delete(e.dir.blocks, b)
		p.release(slot)
		metrics.BlocksEvicted.Incr(e.scope, 1)
		return slot, nil
	}
	return 0, fmt.Errorf("ori: cache pool exhausted: all %d slots pinned by live checkouts", p.capacity)
}

// flushBlock drains one Dirty block's coalesced byte ranges to its
// home rank and bumps its home epoch. Shared by Release/ReleaseLazy
// and by allocateSlot's evict-a-dirty-victim path.
func (e *Engine) flushBlock(ctx context.Context, b blockID, entry *blockEntry) error {
	blockOffset := int(b) * e.blockSize
	owner, _, _, homeOffset := e.region.Policy.HomeOf(blockOffset)
	data := e.dir.pool.bytes(entry.slot)
	w := e.region.Windows[owner]
	for _, rg := range entry.dirty.ranges(e.blockSize) {
		if err := w.Put(ctx, net.Rank(owner), int64(homeOffset+rg[0]), data[rg[0]:rg[1]]); err != nil {
			return err
		}
		metrics.BytesPut.Incr(e.scope, rg[1]-rg[0])
	}
	if _, err := e.epochs.bump(ctx, owner, homeOffset/e.blockSize); err != nil {
		return err
	}
	entry.dirty = 0
	entry.state = Clean
	metrics.BlocksFlushed.Incr(e.scope, 1)
	return nil
}

// ReleaseLazy drains every resident Dirty block with non-blocking
// Puts and returns a token for the writes issued, without waiting for
// their completion — the cheap path the scheduler uses at every task
// finish (spec.md §4.7's on_finish hook).
func (e *Engine) ReleaseLazy(ctx context.Context) (ReleaseToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for b, entry := range e.dir.blocks {
		if entry.state != Dirty {
			continue
		}
		if err := e.flushBlock(ctx, b, entry); err != nil {
			return 0, err
		}
	}
	return ReleaseToken(atomic.AddUint64(&e.releaseSeq, 1)), nil
}

// Release performs ReleaseLazy and additionally waits for every
// outstanding transfer to complete, per spec.md §4.6: "this is the
// only point at which writes become visible to other ranks" with a
// completion guarantee.
func (e *Engine) Release(ctx context.Context) (ReleaseToken, error) {
	tok, err := e.ReleaseLazy(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range e.region.Windows {
		if w == nil {
			continue
		}
		if err := w.FlushAll(ctx); err != nil {
			return 0, err
		}
	}
	return tok, nil
}

// Acquire invalidates cached blocks whose home epoch has advanced
// past what this rank last observed, per spec.md §4.6. Blocks this
// rank itself holds Dirty are never invalidated by its own acquire:
// they are this rank's own unflushed writes, not stale data.
func (e *Engine) Acquire(ctx context.Context, token ReleaseToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if uint64(token) <= e.lastAcquiredSeq {
		return nil
	}
	for b, entry := range e.dir.blocks {
		if entry.state == Dirty {
			continue
		}
		blockOffset := int(b) * e.blockSize
		owner, _, _, homeOffset := e.region.Policy.HomeOf(blockOffset)
		cur, err := e.epochs.read(ctx, owner, homeOffset/e.blockSize)
		if err != nil {
			return err
		}
		if cur != entry.lastEpoch {
			delete(e.dir.blocks, b)
			e.dir.pool.release(entry.slot)
		}
	}
	if uint64(token) > e.lastAcquiredSeq {
		e.lastAcquiredSeq = uint64(token)
	}
	return nil
}
