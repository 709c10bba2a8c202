package algo

import (
	"context"

	"github.com/grailbio/pgas/ori"
	"github.com/grailbio/pgas/sched"
)

// Scan is spec.md §4.8's second worked recursive pattern (§8.3 scenario
// 2): an inclusive prefix scan of src[first:last] written to dst,
// using r's Foldl/Combine (the same Reducer that would also drive a
// plain Reduce over the same elements) as the running-sum operator.
//
// It is a two-pass divide-and-conquer rather than a single-pass
// work-efficient Blelloch scan: each level computes its left half's
// total with a plain (unforked) reduceCore call, combines that with
// the carry flowing in from the left, and uses the result as the
// carry for the right half — simpler to ground in the same Reducer
// abstraction Reduce uses, at the cost of one extra reduce pass per
// level. See DESIGN.md.
func Scan[T any](ctx context.Context, s *sched.Scheduler, eng *ori.Engine, codec Codec[T], srcBase, dstBase, first, last, cutoff, checkoutCount int, r Reducer[T, T]) (T, error) {
	var total T
	err := s.RootExec(ctx, func(ctx context.Context, w *sched.Worker, _ *sched.TaskGroup) error {
		hint := sched.NewWorkHint(0, s.NumWorkers())
		t, err := scanRange(ctx, w, eng, codec, srcBase, dstBase, first, last, cutoff, checkoutCount, r, r.Identity(), hint)
		total = t
		return err
	})
	return total, err
}

// scanRange writes the inclusive scan of src[lo:hi] to dst[lo:hi]
// given carry, the running total of every element before lo, and
// returns the running total through hi-1 (the new carry for whatever
// range follows). It recurses exactly like reduceCore but never calls
// the public Reduce — the nested "total of the left half" step calls
// reduceCore directly, passing down the current worker, since a
// nested root_exec from inside an already-running task would be
// unsafe.
func scanRange[T any](ctx context.Context, w *sched.Worker, eng *ori.Engine, codec Codec[T], srcBase, dstBase, lo, hi, cutoff, checkoutCount int, r Reducer[T, T], carry T, hint sched.WorkHint) (T, error) {
	if hi-lo <= cutoff {
		return scanSequential(ctx, eng, codec, srcBase, dstBase, lo, hi, checkoutCount, r, carry)
	}
	mid := lo + (hi-lo)/2
	leftHint, rightHint := hint, hint
	if hint.HasHint() {
		leftHint, rightHint = hint.Split()
	}

	leftTotal, err := reduceCore(ctx, w, eng, codec, srcBase, lo, mid, cutoff, checkoutCount, r, r.Identity(), leftHint)
	if err != nil {
		var zero T
		return zero, err
	}
	rightCarry := r.Combine(carry, leftTotal)

	sub := sched.NewTaskGroup()
	var leftErr error
	err = sub.Fork(ctx, w, leftHint, func(ctx context.Context, w *sched.Worker) error {
		_, leftErr = scanRange(ctx, w, eng, codec, srcBase, dstBase, lo, mid, cutoff, checkoutCount, r, carry, leftHint)
		return leftErr
	})
	if err != nil {
		var zero T
		return zero, err
	}

	rightTotal, rightErr := scanRange(ctx, w, eng, codec, srcBase, dstBase, mid, hi, cutoff, checkoutCount, r, rightCarry, rightHint)

	if joinErr := sub.End(ctx, w); rightErr == nil {
		rightErr = joinErr
	}
	if rightErr != nil {
		var zero T
		return zero, rightErr
	}
	return rightTotal, nil
}

// scanSequential is a scanRange leaf: it reads src[lo:hi], writes the
// running inclusive sum (seeded by carry) to dst[lo:hi], and returns
// the total through hi-1.
func scanSequential[T any](ctx context.Context, eng *ori.Engine, codec Codec[T], srcBase, dstBase, lo, hi, checkoutCount int, r Reducer[T, T], carry T) (T, error) {
	if checkoutCount < 1 {
		checkoutCount = 1
	}
	acc := carry
	for start := lo; start < hi; start += checkoutCount {
		end := start + checkoutCount
		if end > hi {
			end = hi
		}
		n := end - start

		srcH, err := eng.Checkout(ctx, srcBase+start*codec.Size, n*codec.Size, ori.Read)
		if err != nil {
			var zero T
			return zero, err
		}
		dstH, err := eng.Checkout(ctx, dstBase+start*codec.Size, n*codec.Size, ori.Write)
		if err != nil {
			srcH.Checkin(ctx)
			var zero T
			return zero, err
		}

		srcBuf, dstBuf := srcH.Bytes(), dstH.Bytes()
		for i := 0; i < n; i++ {
			v := codec.Decode(srcBuf[i*codec.Size : (i+1)*codec.Size])
			acc = r.Foldl(acc, start+i, v)
			codec.Encode(acc, dstBuf[i*codec.Size:(i+1)*codec.Size])
		}

		if err := dstH.Checkin(ctx); err != nil {
			srcH.Checkin(ctx)
			var zero T
			return zero, err
		}
		if err := srcH.Checkin(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return acc, nil
}
