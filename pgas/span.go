package pgas

import (
	"context"
	"unsafe"

	"github.com/grailbio/pgas/ori"
)

// Span is spec.md §6.1's global_span: a thin container over one
// checkout, reinterpreting its backing bytes as a []T view via
// unsafe.Slice rather than decoding through a Codec — the raw,
// zero-copy surface algo's Codec-based templates are built on top of,
// kept deliberately free of any container logic of its own (no
// iterators, no combinators) per spec.md §1's non-goal on thin
// container types.
type Span[T any] struct {
	h *ori.Handle
}

// Checkout opens a Span over p[first:first+n] in mode, the gptr-level
// equivalent of spec.md §6.1's checkout(gptr, n, mode) -> *T. The
// returned Span must be released with Checkin.
func Checkout[T any](ctx context.Context, p GlobalPtr[T], first, n int, mode ori.Mode) (Span[T], error) {
	h, err := p.eng.Checkout(ctx, p.Offset(first), n*p.ElemSize(), mode)
	if err != nil {
		return Span[T]{}, err
	}
	return Span[T]{h: h}, nil
}

// Slice returns the checkout's backing storage reinterpreted as []T.
// Mutations through the returned slice are scattered back to the
// owning blocks at Checkin, exactly like a raw ori.Handle used via
// Checkout's Write/ReadWrite path.
func (s Span[T]) Slice() []T {
	n := s.h.Len() / int(sizeofBlank[T]())
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(s.h.Ptr()), n)
}

// Len returns the number of T elements in the span.
func (s Span[T]) Len() int { return s.h.Len() / int(sizeofBlank[T]()) }

// Checkin releases the span, per spec.md §4.5.
func (s Span[T]) Checkin(ctx context.Context) error { return s.h.Checkin(ctx) }

func sizeofBlank[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}
