// Package gvm implements layer L1 of the core: collective virtual
// address reservation and the home-page mapping that backs a
// partitioned global virtual memory region with physical pages owned
// by different ranks (spec.md §3.2, §4.1, §4.3).
package gvm

import (
	"fmt"

	"github.com/grailbio/pgas/internal/topo"
)

// PolicyKind names one of the three home-assignment policies required
// by spec.md §3.2. It is a tagged variant dispatched by a switch on
// the kind at the few call sites below, not a per-access interface vtable —
// per spec.md §9's Polymorphism note, home_of is on the hot path of
// every checkout.
type PolicyKind int

const (
	// Block splits pages into N contiguous segments, segment i homed
	// on inter-rank i.
	Block PolicyKind = iota
	// Cyclic groups pages into seg-sized chunks, round-robin across
	// inter-ranks.
	Cyclic
	// BlockReversed is Block, but segment i is homed on inter-rank
	// N-1-i, for scheduler affinity with ADWS (spec.md §4.7).
	BlockReversed
)

func (k PolicyKind) String() string {
	switch k {
	case Block:
		return "block"
	case Cyclic:
		return "cyclic"
	case BlockReversed:
		return "block-reversed"
	default:
		return "unknown"
	}
}

// HomePolicy assigns each block of a region to a home rank, per
// spec.md §3.2. A HomePolicy value is immutable once constructed and
// safe for concurrent use by every worker's checkout hot path.
type HomePolicy struct {
	kind       PolicyKind
	numRanks   int
	blockSize  int
	size       int // effective_size, a multiple of blockSize
	cyclicSeg  int // Cyclic: blocks per round-robin chunk
	numaNodes  int // NUMA nodes per home rank; 1 means "always interleave"
}

// NewBlockPolicy returns a Block policy over size bytes across
// numRanks inter-ranks, with the given coherence block size. size
// must be a multiple of blockSize*numRanks so that every segment is
// an integral number of whole blocks of equal size.
func NewBlockPolicy(numRanks, blockSize, size int) (HomePolicy, error) {
	return newPolicy(Block, numRanks, blockSize, size, 1, 1)
}

// NewBlockReversedPolicy is NewBlockPolicy with segment ownership
// reversed, used together with ADWS (spec.md §4.7).
func NewBlockReversedPolicy(numRanks, blockSize, size int) (HomePolicy, error) {
	return newPolicy(BlockReversed, numRanks, blockSize, size, 1, 1)
}

// NewCyclicPolicy returns a Cyclic(segBlocks) policy: pages are
// grouped into segBlocks-block chunks, assigned round-robin across
// numRanks inter-ranks.
func NewCyclicPolicy(numRanks, blockSize, size, segBlocks int) (HomePolicy, error) {
	return newPolicy(Cyclic, numRanks, blockSize, size, segBlocks, 1)
}

func newPolicy(kind PolicyKind, numRanks, blockSize, size, cyclicSeg, numaNodes int) (HomePolicy, error) {
	if numRanks <= 0 || blockSize <= 0 || size <= 0 || cyclicSeg <= 0 {
		return HomePolicy{}, fmt.Errorf("gvm: invalid policy parameters")
	}
	if size%blockSize != 0 {
		return HomePolicy{}, fmt.Errorf("gvm: size %d is not a multiple of block size %d", size, blockSize)
	}
	numBlocks := size / blockSize
	if kind != Cyclic && numBlocks%numRanks != 0 {
		return HomePolicy{}, fmt.Errorf("gvm: %d blocks not evenly divisible across %d ranks", numBlocks, numRanks)
	}
	return HomePolicy{
		kind: kind, numRanks: numRanks, blockSize: blockSize, size: size,
		cyclicSeg: cyclicSeg, numaNodes: numaNodes,
	}, nil
}

// WithNUMANodes returns a copy of p that round-robins numa_home_of
// across n NUMA nodes per home rank, instead of always interleaving.
func (p HomePolicy) WithNUMANodes(n int) HomePolicy {
	if n < 1 {
		n = 1
	}
	p.numaNodes = n
	return p
}

// Kind returns the policy's variant tag.
func (p HomePolicy) Kind() PolicyKind { return p.kind }

// BlockSize returns the coherence block size this policy was
// constructed with.
func (p HomePolicy) BlockSize() int { return p.blockSize }

// EffectiveSize returns the total region size in bytes.
func (p HomePolicy) EffectiveSize() int { return p.size }

// NumRanks returns the number of inter-ranks the region is
// partitioned across.
func (p HomePolicy) NumRanks() int { return p.numRanks }

// LocalSize returns the number of bytes owner must physically back,
// i.e. P.local_size(owner) from spec.md §4.3 step 1.
func (p HomePolicy) LocalSize(owner int) int {
	numBlocks := p.size / p.blockSize
	switch p.kind {
	case Block, BlockReversed:
		return (numBlocks / p.numRanks) * p.blockSize
	case Cyclic:
		return cyclicLocalBlocks(numBlocks, p.numRanks, p.cyclicSeg, owner) * p.blockSize
	default:
		panic("gvm: unhandled policy kind")
	}
}

// HomeOf resolves a byte offset within the region to its owning rank
// and position, per spec.md §3.2: home_of(offset) -> (owner,
// segment_begin, segment_end, home_offset). segment_begin/end bound
// the contiguous run of the region's address space that shares this
// owner in the ranges a caller is iterating (used to batch
// checkouts); home_offset is the offset within owner's window.
func (p HomePolicy) HomeOf(offset int) (owner, segBegin, segEnd, homeOffset int) {
	if offset < 0 || offset >= p.size {
		panic(fmt.Sprintf("gvm: offset %d out of range [0,%d)", offset, p.size))
	}
	blockIdx := offset / p.blockSize
	numBlocks := p.size / p.blockSize
	switch p.kind {
	case Block:
		segBlocks := numBlocks / p.numRanks
		owner = blockIdx / segBlocks
		segBegin = owner * segBlocks * p.blockSize
		segEnd = segBegin + segBlocks*p.blockSize
		homeOffset = offset - segBegin
	case BlockReversed:
		segBlocks := numBlocks / p.numRanks
		fwdOwner := blockIdx / segBlocks
		owner = p.numRanks - 1 - fwdOwner
		segBegin = fwdOwner * segBlocks * p.blockSize
		segEnd = segBegin + segBlocks*p.blockSize
		homeOffset = offset - segBegin
	case Cyclic:
		group := blockIdx / p.cyclicSeg
		owner = group % p.numRanks
		round := group / p.numRanks
		blockInGroup := blockIdx % p.cyclicSeg
		segBegin = group * p.cyclicSeg * p.blockSize
		segEnd = segBegin + p.cyclicSeg*p.blockSize
		if segEnd > p.size {
			segEnd = p.size
		}
		homeOffset = (round*p.cyclicSeg+blockInGroup)*p.blockSize + (offset % p.blockSize)
	default:
		panic("gvm: unhandled policy kind")
	}
	return
}

// NUMAHomeOf returns the NUMA binding preference for the physical
// page backing home_offset within owner's window, per spec.md §3.2.
// It returns topo.Interleave when the policy was not configured with
// WithNUMANodes.
func (p HomePolicy) NUMAHomeOf(owner, homeOffset int) topo.NUMAMask {
	if p.numaNodes <= 1 {
		return topo.InterleaveMask
	}
	blockIdx := homeOffset / p.blockSize
	return topo.Node(blockIdx % p.numaNodes)
}

// ShouldMapAllHome reports whether every rank should map the entirety
// of owner's home window (true for Block/BlockReversed, where a
// contiguous segment is a single mapping), or whether mappings should
// be established lazily per access pattern (Cyclic, whose segments
// interleave across ranks at fine grain).
func (p HomePolicy) ShouldMapAllHome() bool {
	return p.kind != Cyclic
}

func cyclicLocalBlocks(numBlocks, numRanks, seg, owner int) int {
	numGroups := (numBlocks + seg - 1) / seg
	total := 0
	for g := 0; g < numGroups; g++ {
		if g%numRanks != owner {
			continue
		}
		start := g * seg
		end := start + seg
		if end > numBlocks {
			end = numBlocks
		}
		total += end - start
	}
	return total
}
