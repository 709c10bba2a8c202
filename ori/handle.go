package ori

import (
	"context"
	"unsafe"
)

// Handle is a scoped checkout descriptor (spec.md §3.4). Checkin must
// be called on every exit path; callers should defer it immediately
// after a successful Checkout, the Go equivalent of the scoped-
// destructor pattern spec.md §9 requires.
type Handle struct {
	eng    *Engine
	offset int
	n      int
	mode   Mode
	blocks []blockID
	buf    []byte
	direct bool // true if buf aliases live backing storage directly
}

// Bytes returns the checkout's backing bytes. For Write/ReadWrite
// checkouts, mutations made through the returned slice are scattered
// back to each block's storage (and marked dirty) at Checkin.
func (h *Handle) Bytes() []byte { return h.buf }

// Ptr returns a pointer to the first byte of the checkout, or nil for
// a zero-length checkout, matching spec.md §8.3's "zero-length
// checkout returns a null pointer" boundary case.
func (h *Handle) Ptr() unsafe.Pointer {
	if len(h.buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&h.buf[0])
}

// Len returns the checkout's length in bytes.
func (h *Handle) Len() int { return h.n }

// Checkin releases the checkout per spec.md §4.5: for Write/ReadWrite
// modes it scatters any staged mutations back to each block's storage
// and ORs the covered byte range into that block's dirty bitmap, then
// decrements every covered block's refcount. It never eagerly flushes.
func (h *Handle) Checkin(ctx context.Context) error {
	if h.n == 0 || h.eng == nil {
		return nil
	}
	e := h.eng
	e.mu.Lock()
	defer e.mu.Unlock()

	writing := h.mode == Write || h.mode == ReadWrite
	pos := 0
	for i, b := range h.blocks {
		blockOffset := int(b) * e.blockSize
		owner, _, _, homeOffset := e.region.Policy.HomeOf(blockOffset)
		lo, hi := 0, e.blockSize
		if i == 0 {
			lo = h.offset - blockOffset
		}
		if i == len(h.blocks)-1 {
			hi = h.offset + h.n - blockOffset
		}
		n := hi - lo

		if owner == int(e.group.Self()) {
			if writing && !h.direct {
				copy(e.region.Local()[homeOffset+lo:homeOffset+hi], h.buf[pos:pos+n])
			}
			pos += n
			continue
		}

		entry := e.dir.blocks[b]
		if writing {
			if !h.direct {
				copy(e.dir.pool.bytes(entry.slot)[lo:hi], h.buf[pos:pos+n])
			}
			entry.dirty.markRange(lo, hi, e.blockSize)
			if !entry.dirty.empty() {
				entry.state = Dirty
			}
		}
		entry.refcount--
		pos += n
	}
	return nil
}
