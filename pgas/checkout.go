package pgas

import (
	"context"

	"github.com/grailbio/pgas/ori"
)

// PendingCheckout is the handle spec.md §6.1's checkout_nb(gptr, n,
// mode) returns: a checkout already scheduled on a background
// goroutine, paired with a later checkout_complete call (Complete
// here) that blocks until it is ready.
type PendingCheckout[T any] struct {
	done chan struct{}
	span Span[T]
	err  error
}

// CheckoutNB schedules a checkout of p[first:first+n] in mode without
// blocking the caller, per spec.md §6.1's checkout_nb. The scheduling
// goroutine is not part of the sched work-stealing pool — it is a
// plain background goroutine, since a non-blocking checkout is a
// caller-side convenience over Checkout, not a scheduler primitive.
func CheckoutNB[T any](ctx context.Context, p GlobalPtr[T], first, n int, mode ori.Mode) *PendingCheckout[T] {
	pc := &PendingCheckout[T]{done: make(chan struct{})}
	go func() {
		defer close(pc.done)
		pc.span, pc.err = Checkout(ctx, p, first, n, mode)
	}()
	return pc
}

// Complete is spec.md §6.1's checkout_complete: it blocks until the
// non-blocking checkout pc was scheduled with finishes, or ctx is
// done, whichever comes first.
func (pc *PendingCheckout[T]) Complete(ctx context.Context) (Span[T], error) {
	select {
	case <-pc.done:
		return pc.span, pc.err
	case <-ctx.Done():
		return Span[T]{}, ctx.Err()
	}
}

// CheckoutRequest is one element of a make_checkouts batch: the gptr,
// range, and mode of a single checkout. The generic element type is
// erased behind a closure so a batch can mix gptr<T> of different T, exactly
// as spec.md's make_checkouts((args, mode)...) allows.
type CheckoutRequest struct {
	do func(ctx context.Context) (func(context.Context) error, error)
}

// NewCheckoutRequest builds a CheckoutRequest for p[first:first+n] in
// mode. The resulting Span is delivered to use as soon as this
// request's own checkout is open, before MakeCheckouts opens the next
// request's; use is responsible for reading or
// writing through it before MakeCheckouts's returned checkins are
// invoked.
func NewCheckoutRequest[T any](p GlobalPtr[T], first, n int, mode ori.Mode, use func(Span[T])) CheckoutRequest {
	return CheckoutRequest{do: func(ctx context.Context) (func(context.Context) error, error) {
		s, err := Checkout(ctx, p, first, n, mode)
		if err != nil {
			return nil, err
		}
		use(s)
		return s.Checkin, nil
	}}
}

// MakeCheckouts is spec.md §6.1's make_checkouts: it opens every
// request's checkout in turn, invoking each request's use callback as
// soon as its own checkout is ready, and returns a single Checkin
// closing every one of them in reverse order — the batch convenience
// over repeated Checkout/Checkin spec.md §6.1 asks for.
func MakeCheckouts(ctx context.Context, reqs ...CheckoutRequest) (checkinAll func(context.Context) error, err error) {
	checkins := make([]func(context.Context) error, 0, len(reqs))
	for _, r := range reqs {
		checkin, err := r.do(ctx)
		if err != nil {
			for i := len(checkins) - 1; i >= 0; i-- {
				checkins[i](ctx)
			}
			return nil, err
		}
		checkins = append(checkins, checkin)
	}
	return func(ctx context.Context) error {
		var firstErr error
		for i := len(checkins) - 1; i >= 0; i-- {
			if err := checkins[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}
