package gvm

import (
	"context"
	"fmt"

	"github.com/grailbio/pgas/net"
)

// Region is a partitioned global virtual memory range: one HomePolicy
// wired to a collectively created transport window per home rank, per
// spec.md §3.2 and §4.3. Every rank in group holds its own *Region
// value with the same Policy and the same set of per-rank windows, so
// that home_of's owner field can be used directly as a rank index into
// Windows.
type Region struct {
	Policy  HomePolicy
	group   net.Group
	Windows []*net.Window // one per inter-rank, indexed by owner
	local   []byte        // this rank's own home backing store
}

// NewRegion collectively allocates the physical backing store for a
// region sized and partitioned according to policy, and exposes every
// rank's home segment as a transport window so that any other rank
// can checkout it, per spec.md §4.3 step 1 ("each rank allocates
// physical memory sized local_size(self) ... and registers it").
//
// group must have exactly policy.NumRanks() members; NewRegion must be
// called collectively, in the same order, by every rank.
func NewRegion(ctx context.Context, group net.Group, policy HomePolicy) (*Region, error) {
	if group.Size() != policy.NumRanks() {
		return nil, fmt.Errorf("gvm: NewRegion: group size %d != policy rank count %d", group.Size(), policy.NumRanks())
	}
	localSize := policy.LocalSize(int(group.Self()))
	local := make([]byte, localSize)

	r := &Region{Policy: policy, group: group, local: local, Windows: make([]*net.Window, policy.NumRanks())}
	for owner := 0; owner < policy.NumRanks(); owner++ {
		var (
			w   *net.Window
			err error
		)
		if owner == int(group.Self()) {
			w, err = group.NewWindowFromBuffer(ctx, local)
		} else {
			// Every rank must call NewWindowFromBuffer/NewWindow the same
			// number of times in the same order for window ids to agree
			// (see net.agreeWindowID), so every non-owner mirrors the owner's
			// call for its turn. Home policies are deterministic functions of
			// owner, known to every rank without communication, so a
			// non-owner sizes its placeholder buffer to policy.LocalSize(owner)
			// -- the real size of the remote window -- rather than an empty
			// one; Window.checkRange validates Put/Get/atomic offsets against
			// this size, and the placeholder bytes are never read or written
			// locally (all traffic to a non-owned window crosses the
			// transport to the real owner).
			w, err = group.NewWindowFromBuffer(ctx, make([]byte, policy.LocalSize(owner)))
		}
		if err != nil {
			return nil, err
		}
		r.Windows[owner] = w
	}
	return r, nil
}

// Local returns this rank's own home backing store, for the
// intra-node shared-memory fast path of spec.md §4.3/§4.6.
func (r *Region) Local() []byte { return r.local }

// Close releases every window this rank opened for the region.
func (r *Region) Close() error {
	var firstErr error
	for _, w := range r.Windows {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
