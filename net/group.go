// Package net implements the transport layer (spec.md §4.2, layer L0):
// one-sided put/get/atomics against registered windows, plus the
// barrier/broadcast/all-gather/all-reduce collectives used to
// bootstrap and synchronize the layers above it.
//
// The concurrency shape — a group of peers coordinated through
// asynchronous round trips with explicit completion tracking — is
// grounded on the teacher's exec/bigmachine.go and
// exec/slicemachine.go, which coordinate a pool of remote bigmachine
// workers the same way. The one-sided wire protocol itself (a small
// tagged request/response set, exchanged over a plain connection) is
// grounded on other_examples' TreadMarks and gordma reference files
// (see DESIGN.md).
package net

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
)

// Rank identifies a process within a Group, in [0, Size()).
type Rank int

// ReduceOp names a binary operator usable with AllReduce.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceMin
	ReduceMax
)

func (op ReduceOp) apply(a, b uint64) uint64 {
	switch op {
	case ReduceMin:
		if a < b {
			return a
		}
		return b
	case ReduceMax:
		if a > b {
			return a
		}
		return b
	default:
		return a + b
	}
}

// Group is a process group of N peers, each identified by a Rank.
// It is the transport-layer analogue of the MPI-style communicator
// that the rest of the core is bootstrapped over.
type Group interface {
	// Self returns this process's rank.
	Self() Rank
	// Size returns the number of ranks in the group.
	Size() int
	// Host returns an opaque host key for rank r; two ranks with
	// equal host keys are considered to share a node (spec.md §3.1).
	Host(r Rank) string

	// Barrier blocks until every rank in the group has called Barrier.
	Barrier(ctx context.Context) error
	// Broadcast sends data from root to every rank, returning the
	// value that root sent (on root, data is echoed back unchanged).
	Broadcast(ctx context.Context, root Rank, data []byte) ([]byte, error)
	// AllGather returns a slice of length Size(), with element r
	// equal to the data rank r contributed.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)
	// AllReduceUint64 combines one uint64 per rank with op and
	// returns the combined result to every rank.
	AllReduceUint64(ctx context.Context, v uint64, op ReduceOp) (uint64, error)

	// NewWindow collectively creates a window of the given size,
	// backed by a freshly allocated local buffer.
	NewWindow(ctx context.Context, size int) (*Window, error)
	// NewWindowFromBuffer collectively creates a window over an
	// externally supplied local buffer. Per spec.md §9's resolved
	// open question, such a window performs no per-element
	// construction or destruction of buf's contents.
	NewWindowFromBuffer(ctx context.Context, buf []byte) (*Window, error)

	// transport returns the underlying one-sided byte transport;
	// only Window uses this.
	transport() transport

	// Close releases all resources held by the group, including any
	// open windows.
	Close() error
}

// windowID uniquely identifies a window within a group.
type windowID uint64

// transport is the one-sided byte-movement primitive a Group backend
// must provide. Window is built entirely on top of this interface so
// that local (in-process) and socket-based backends share identical
// Window semantics.
type transport interface {
	registerWindow(id windowID, buf []byte)
	unregisterWindow(id windowID)

	put(ctx context.Context, target Rank, win windowID, disp int64, data []byte) error
	get(ctx context.Context, target Rank, win windowID, disp int64, data []byte) error
	atomicFetchAdd(ctx context.Context, target Rank, win windowID, disp int64, delta uint64) (uint64, error)
	atomicCAS(ctx context.Context, target Rank, win windowID, disp int64, old, new uint64) (uint64, error)
	flush(ctx context.Context, target Rank) error
	flushAll(ctx context.Context) error
}

// windowIDNext is shared process-wide: window ids need only be
// unique within a run, and all peers agree on them because only rank
// 0 allocates one and broadcasts it to the others (agreeWindowID).
var (
	windowIDMu   sync.Mutex
	windowIDNext windowID = 1
)

func allocWindowID() windowID {
	windowIDMu.Lock()
	defer windowIDMu.Unlock()
	id := windowIDNext
	windowIDNext++
	return id
}

func fatal(format string, args ...interface{}) error {
	return errors.E(errors.Fatal, fmt.Sprintf(format, args...))
}
