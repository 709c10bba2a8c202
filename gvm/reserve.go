package gvm

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/grailbio/base/log"
	"github.com/grailbio/pgas/metrics"
	"github.com/grailbio/pgas/net"
)

// pageSize is the assumed OS page granularity every reservation and
// mapping rounds up to. It mirrors internal/config's osPageSize but is
// kept local here since gvm must not import internal/config (config
// reads process environment once at startup; gvm is pure address-space
// bookkeeping and is also exercised standalone by tests).
const pageSize = 4096

// MaxReserveRetries bounds the rotating-leader negotiation of
// ReserveSameVM before it gives up and fails the collective, per
// spec.md §4.1's resolved open question (a bounded retry count rather
// than an unbounded one).
var MaxReserveRetries = 100

// MaxReserveSize caps the address range a single negotiation round
// will attempt, regardless of how many times the requested size has
// been doubled after a failed round.
var MaxReserveSize = 1 << 40 // 1 TiB

// mapper abstracts "try to reserve this many bytes starting at this
// address, failing if occupied" so that ReserveSameVM's rotating-
// leader retry algorithm can be exercised by tests without a real
// multi-process address space to race against (see reserve_test.go's
// fakeMapper). unixMapper is the production implementation.
type mapper interface {
	// tryMap attempts to reserve size bytes. If hint is 0 the
	// implementation is free to let the kernel pick any address;
	// otherwise it must reserve exactly at hint or fail. It returns the
	// address actually reserved and true on success.
	tryMap(hint uintptr, size int) (addr uintptr, ok bool)
	unmap(addr uintptr, size int) error
}

// Reservation is a collectively-agreed virtual address range: every
// rank in the group has size bytes reserved starting at Base, per
// spec.md §4.1.
type Reservation struct {
	Base   uintptr
	Size   int
	group  net.Group
	mapper mapper
}

// ReserveSameVM collectively reserves size bytes of address space at
// the same base address on every rank of group, using the rotating-
// leader algorithm of spec.md §4.1: a leader proposes a candidate
// address (letting the kernel choose one, so it is guaranteed free in
// the leader's own address space); every rank then attempts to reserve
// that same address. If any rank fails, the highest-ranked failing
// rank becomes the next leader and the attempted size is doubled
// (capped at MaxReserveSize); ranks that succeeded keep their tentative
// mapping open instead of unmapping it right away. Once consensus is
// reached, every rank unmaps the tentative mappings of its failed
// rounds and the unneeded tail of the agreed range.
func ReserveSameVM(ctx context.Context, group net.Group, size int) (*Reservation, error) {
	return reserveSameVM(ctx, group, size, unixMapper{})
}

func reserveSameVM(ctx context.Context, group net.Group, size int, m mapper) (*Reservation, error) {
	if size <= 0 {
		return nil, fmt.Errorf("gvm: ReserveSameVM: size must be positive, got %d", size)
	}
	leader := net.Rank(0)
	attemptSize := osPageRound(size)
	var tentatives []*Reservation // mappings from failed rounds, released at consensus

	for round := 0; ; round++ {
		if round >= MaxReserveRetries {
			for _, t := range tentatives {
				t.Close()
			}
			return nil, fmt.Errorf("gvm: ReserveSameVM: exhausted %d rounds negotiating a shared address", MaxReserveRetries)
		}

		var hint uintptr
		if group.Self() == leader {
			addr, ok := m.tryMap(0, attemptSize)
			if !ok {
				return nil, fmt.Errorf("gvm: leader rank %d failed to reserve any address", leader)
			}
			hint = addr
		}
		buf := make([]byte, 8)
		putBEUintptr(buf, hint)
		out, err := group.Broadcast(ctx, leader, buf)
		if err != nil {
			return nil, err
		}
		proposed := beUintptr(out)

		ok := true
		var gotAddr uintptr
		if group.Self() != leader {
			gotAddr, ok = m.tryMap(proposed, attemptSize)
		} else {
			gotAddr = proposed
		}

		// Encode "no failure" as 0 and a failing rank r as r+1, so that
		// ReduceMax (an unsigned max) picks the highest-ranked failure
		// when any rank failed, and 0 when none did — an ordinary -1
		// sentinel would instead look like the largest possible unsigned
		// value and spuriously "win" the max over any real rank number.
		var encoded uint64
		if !ok {
			encoded = uint64(group.Self()) + 1
		}
		agreedFail, err := group.AllReduceUint64(ctx, encoded, net.ReduceMax)
		if err != nil {
			return nil, err
		}

		if agreedFail == 0 {
			// Every rank reserved the same address; shrink back to the
			// originally requested size and report success.
			if attemptSize > size {
				m.unmap(proposed+uintptr(size), attemptSize-size)
			}
			for _, t := range tentatives {
				t.Close()
			}
			return &Reservation{Base: proposed, Size: size, group: group, mapper: m}, nil
		}

		if ok {
			tentatives = append(tentatives, &Reservation{Base: gotAddr, Size: attemptSize, mapper: m})
		}
		metrics.ReserveVMRetries.Incr(metrics.Global, 1)
		leader = net.Rank(agreedFail - 1)
		if attemptSize < MaxReserveSize {
			attemptSize *= 2
			if attemptSize > MaxReserveSize {
				attemptSize = MaxReserveSize
			}
		}
		log.Debug.Printf("gvm: ReserveSameVM round %d failed, new leader=%d, next size=%d", round, leader, attemptSize)
	}
}

// Close releases this rank's reservation.
func (r *Reservation) Close() error {
	return r.mapper.unmap(r.Base, r.Size)
}

func putBEUintptr(b []byte, v uintptr) {
	x := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(x)
		x >>= 8
	}
}

func beUintptr(b []byte) uintptr {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return uintptr(v)
}

// unixMapper reserves address space with mmap(MAP_FIXED_NOREPLACE),
// which atomically fails with EEXIST rather than clobbering an
// existing mapping — the kernel-level primitive the rotating-leader
// algorithm above depends on. Grounded on the anonymous-mmap pattern
// in other_examples/fbenz-osmrouting__mman.go and
// other_examples/ifls-go__mem_linux.go.
type unixMapper struct{}

func (unixMapper) tryMap(hint uintptr, size int) (uintptr, bool) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if hint != 0 {
		flags |= unix.MAP_FIXED_NOREPLACE
	}
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, hint, uintptr(size),
		uintptr(unix.PROT_NONE), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, false
	}
	return addr, true
}

func (unixMapper) unmap(addr uintptr, size int) error {
	if size <= 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0)
	if errno != 0 {
		return fmt.Errorf("gvm: munmap(%x, %d): %v", addr, size, errno)
	}
	return nil
}

// osPageRound rounds size up to the page granularity, used before
// every mmap call so reservations always land on a page boundary
// regardless of the requested coherence block size.
func osPageRound(size int) int {
	return (size + pageSize - 1) / pageSize * pageSize
}
