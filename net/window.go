package net

import "context"

// Window wraps a contiguous local buffer exposed for one-sided access
// by every rank in a Group, per spec.md §4.2. Windows are created
// collectively; for their entire lifetime every rank holds an
// implicit passive-target lock on every other rank's window, so all
// further operations may proceed without further locking rounds.
type Window struct {
	group Group
	id    windowID
	local []byte
	owned bool // false if backed by an externally supplied buffer
}

// Local returns the window's local backing buffer. Callers on the
// window's home rank may read and write it directly; gvm uses this
// for the "map the shared-memory region directly" fast path of
// spec.md §4.3.
func (w *Window) Local() []byte { return w.local }

// Size returns the window's local buffer size in bytes.
func (w *Window) Size() int { return len(w.local) }

// Put writes data into the window at byte offset disp on target.
// Put is non-blocking; completion is only guaranteed after Flush or
// FlushAll.
func (w *Window) Put(ctx context.Context, target Rank, disp int64, data []byte) error {
	if err := w.checkRange(disp, len(data)); err != nil {
		return err
	}
	return w.group.transport().put(ctx, target, w.id, disp, data)
}

// Get reads len(data) bytes from target at offset disp into data.
// Get is non-blocking with respect to subsequent Puts/Gets issued by
// the caller on other windows, but the transfer into data is only
// guaranteed complete after Get itself returns (unlike Put, a Get's
// result is needed immediately by the caller, so implementations may
// not defer the actual transfer past the call).
func (w *Window) Get(ctx context.Context, target Rank, disp int64, data []byte) error {
	if err := w.checkRange(disp, len(data)); err != nil {
		return err
	}
	return w.group.transport().get(ctx, target, w.id, disp, data)
}

// AtomicFetchAdd atomically adds delta to the uint64 at offset disp
// on target and returns the prior value.
func (w *Window) AtomicFetchAdd(ctx context.Context, target Rank, disp int64, delta uint64) (uint64, error) {
	if err := w.checkRange(disp, 8); err != nil {
		return 0, err
	}
	return w.group.transport().atomicFetchAdd(ctx, target, w.id, disp, delta)
}

// AtomicCAS atomically compares the uint64 at offset disp on target
// to old and, if equal, replaces it with new. It returns the value
// observed before the attempted replacement; the CAS succeeded iff
// the returned value equals old.
func (w *Window) AtomicCAS(ctx context.Context, target Rank, disp int64, old, new uint64) (uint64, error) {
	if err := w.checkRange(disp, 8); err != nil {
		return 0, err
	}
	return w.group.transport().atomicCAS(ctx, target, w.id, disp, old, new)
}

// Flush blocks until all outstanding Puts issued by this rank to
// target have completed.
func (w *Window) Flush(ctx context.Context, target Rank) error {
	return w.group.transport().flush(ctx, target)
}

// FlushAll blocks until all outstanding Puts issued by this rank to
// any target have completed.
func (w *Window) FlushAll(ctx context.Context) error {
	return w.group.transport().flushAll(ctx)
}

// Close unregisters the window. Per spec.md §9's resolved open
// question, an externally-backed window's contents are never
// constructed or destroyed by Close — only the registration is freed.
func (w *Window) Close() error {
	w.group.transport().unregisterWindow(w.id)
	return nil
}

func (w *Window) checkRange(disp int64, n int) error {
	if disp < 0 || n < 0 || disp+int64(n) > int64(len(w.local)) {
		return fatal("net: window access [%d,%d) out of range [0,%d)", disp, disp+int64(n), len(w.local))
	}
	return nil
}
