package pgas

import (
	"context"
	"unsafe"

	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/ori"
)

// GlobalPtr is spec.md §6.1's gptr<T>: a handle to n collectively
// allocated elements of T somewhere in the global address space. It
// carries its own coherence engine rather than indexing into the
// Runtime's default region, since malloc_coll/alloc_shared are each a
// fresh collective allocation with their own HomePolicy (spec.md's
// "gptr<T>" is opaque about how many distinct regions exist
// underneath — nothing requires one process-wide region).
type GlobalPtr[T any] struct {
	eng *ori.Engine
	n   int
}

// elemSize returns sizeof(T) for a fixed-width T (numeric types and
// fixed-size structs of them) via a zero value, matching the way
// Codec[T] in algo fixes an element's wire width; GlobalPtr does not
// support variable-width or pointer-containing T.
func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// MallocColl is spec.md §6.1's malloc_coll<T>(n): a collective
// allocation of n elements of T, spread evenly across numRanks ranks
// of group using a Block home policy. Every rank in group must call
// MallocColl with the same n, collectively, in the same order as
// every other collective call on group.
func MallocColl[T any](ctx context.Context, rt *Runtime, n int) (GlobalPtr[T], error) {
	return AllocShared[T](ctx, rt, n, gvm.Block)
}

// AllocShared is spec.md §6.1's alloc_shared<T>(n, policy): like
// MallocColl but with an explicit home-policy kind. Cyclic allocation
// uses a one-block round-robin chunk, matching gvm's simplest Cyclic
// constructor.
func AllocShared[T any](ctx context.Context, rt *Runtime, n int, kind gvm.PolicyKind) (GlobalPtr[T], error) {
	size := n * elemSize[T]()
	blockSize := rt.cfg.BlockSize
	// Round the allocation up to whole blocks per rank, as spec.md
	// §4.1's reservation step requires — every rank's segment must be
	// an integral number of blocks of equal size.
	numRanks := rt.group.Size()
	unit := blockSize * numRanks
	if size%unit != 0 {
		size = (size/unit + 1) * unit
	}
	if size == 0 {
		size = unit
	}

	var (
		policy gvm.HomePolicy
		err    error
	)
	switch kind {
	case gvm.Cyclic:
		policy, err = gvm.NewCyclicPolicy(numRanks, blockSize, size, 1)
	case gvm.BlockReversed:
		policy, err = gvm.NewBlockReversedPolicy(numRanks, blockSize, size)
	default:
		policy, err = gvm.NewBlockPolicy(numRanks, blockSize, size)
	}
	if err != nil {
		return GlobalPtr[T]{}, err
	}

	eng, err := ori.NewEngine(ctx, rt.group, policy, rt.cfg.CacheSize, nil)
	if err != nil {
		return GlobalPtr[T]{}, err
	}
	return GlobalPtr[T]{eng: eng, n: n}, nil
}

// FreeColl is spec.md §6.1's free_coll(gptr): it releases the windows
// backing p's region. Per spec.md §5, this is not synchronized across
// ranks — callers must ensure no rank is still checking out p when any
// rank frees it, the same collective discipline every other call on
// p's engine already requires.
func FreeColl[T any](p GlobalPtr[T]) error {
	return p.eng.Region().Close()
}

// Len returns the number of elements p was allocated with.
func (p GlobalPtr[T]) Len() int { return p.n }

// Engine returns the coherence engine backing p, for callers (algo,
// Span) that need to Checkout against it directly.
func (p GlobalPtr[T]) Engine() *ori.Engine { return p.eng }

// Offset returns the byte offset of element i within p's region.
func (p GlobalPtr[T]) Offset(i int) int { return i * elemSize[T]() }

// ElemSize returns sizeof(T) in bytes.
func (p GlobalPtr[T]) ElemSize() int { return elemSize[T]() }
