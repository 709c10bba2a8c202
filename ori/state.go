// Package ori implements layer L2: the page-based software cache
// coherence engine (spec.md §3.3-§3.5, §4.4-§4.6) — checkout/checkin,
// the cache directory and its LRU-managed physical pool, and the
// lazy release / acquire protocol built on per-block epoch counters.
package ori

// BlockState is a cache block's local coherence state (spec.md §3.3).
// Home is not represented here: a rank's own home blocks bypass the
// cache directory entirely (they are always resolved directly against
// the backing gvm.Region, never occupy a pool slot, and are never
// Invalid/Clean/Dirty from this rank's perspective).
type BlockState int

const (
	// Invalid blocks have no directory entry — the zero value,
	// documented for parity with spec.md's four-state enum, but never
	// stored: an absent map entry already means Invalid.
	Invalid BlockState = iota
	// Clean means the local replica matches home as of the last fetch
	// or release.
	Clean
	// Dirty means the local replica has been written and not yet
	// released.
	Dirty
)

func (s BlockState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	default:
		return "invalid"
	}
}

// Mode is a checkout's requested access mode (spec.md §3.4).
type Mode int

const (
	Read Mode = iota
	Write
	ReadWrite
	NoAccess
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	case NoAccess:
		return "noaccess"
	default:
		return "unknown"
	}
}

// blockID is a region-global block index: offset/blockSize.
type blockID int
