package ori

import (
	"context"

	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/metrics"
	"github.com/grailbio/pgas/net"
)

// epochTable maintains one small RMA window per rank holding an
// 8-byte atomic epoch counter per block that rank owns, per spec.md
// §4.6 ("a per-rank epoch vector is maintained in a well-known atomic
// location per block's home window"). Acquire reads a block's current
// home epoch and compares it against the value observed at the last
// fetch to decide whether the cached replica needs invalidating,
// without having to invalidate the entire cache on every acquire.
type epochTable struct {
	windows   []*net.Window
	blockSize int
}

func newEpochTable(ctx context.Context, group net.Group, policy gvm.HomePolicy) (*epochTable, error) {
	blockSize := policy.BlockSize()
	numLocalBlocks := policy.LocalSize(int(group.Self())) / blockSize
	local := make([]byte, numLocalBlocks*8)

	et := &epochTable{windows: make([]*net.Window, policy.NumRanks()), blockSize: blockSize}
	for owner := 0; owner < policy.NumRanks(); owner++ {
		var (
			w   *net.Window
			err error
		)
		if owner == int(group.Self()) {
			w, err = group.NewWindowFromBuffer(ctx, local)
		} else {
			// See gvm.NewRegion's matching non-owner branch: the placeholder
			// must be sized to the real remote window (here, owner's own
			// epoch-counter table) so Window.checkRange validates
			// Get/AtomicCAS offsets correctly; it is never itself read or
			// written.
			ownerBlocks := policy.LocalSize(owner) / blockSize
			w, err = group.NewWindowFromBuffer(ctx, make([]byte, ownerBlocks*8))
		}
		if err != nil {
			return nil, err
		}
		et.windows[owner] = w
	}
	return et, nil
}

// bump atomically increments owner's epoch counter for the block at
// blockLocalIdx, via a compare-and-swap retry loop (spec.md §7: "Lost
// race on atomic CAS for epoch bump... retried internally") rather
// than a single fetch-add, so concurrent releases racing on the same
// block's epoch are made visible as retries for diagnostics.
func (et *epochTable) bump(ctx context.Context, owner, blockLocalIdx int) (uint64, error) {
	w := et.windows[owner]
	disp := int64(blockLocalIdx) * 8
	buf := make([]byte, 8)
	if err := w.Get(ctx, net.Rank(owner), disp, buf); err != nil {
		return 0, err
	}
	old := beUint64(buf)
	for {
		cur, err := w.AtomicCAS(ctx, net.Rank(owner), disp, old, old+1)
		if err != nil {
			return 0, err
		}
		if cur == old {
			return old + 1, nil
		}
		metrics.EpochCASRetries.Incr(metrics.Global, 1)
		old = cur
	}
}

// read returns owner's current epoch counter for blockLocalIdx.
func (et *epochTable) read(ctx context.Context, owner, blockLocalIdx int) (uint64, error) {
	w := et.windows[owner]
	disp := int64(blockLocalIdx) * 8
	buf := make([]byte, 8)
	if err := w.Get(ctx, net.Rank(owner), disp, buf); err != nil {
		return 0, err
	}
	return beUint64(buf), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
