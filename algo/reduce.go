package algo

import (
	"cmp"
	"context"

	"github.com/grailbio/pgas/ori"
	"github.com/grailbio/pgas/sched"
)

// Reduce is spec.md §4.8's parallel_reduce: it divides [first, last)
// at the midpoint until a subrange's length is at most cutoff, folds
// each leaf sequentially at checkoutCount-element granularity, and
// combines partial accumulators back up the recursion. base is the
// byte offset of element zero of the array within eng's region.
//
// Reduce is a thin root_exec wrapper: the actual recursion lives in
// reduceCore so that Scan (below) can drive the same divide-and-
// conquer shape without reentering the scheduler's root entry point.
func Reduce[V, A any](ctx context.Context, s *sched.Scheduler, eng *ori.Engine, codec Codec[V], base, first, last, cutoff, checkoutCount int, r Reducer[V, A]) (A, error) {
	var result A
	err := s.RootExec(ctx, func(ctx context.Context, w *sched.Worker, _ *sched.TaskGroup) error {
		hint := sched.NewWorkHint(0, s.NumWorkers())
		res, err := reduceCore(ctx, w, eng, codec, base, first, last, cutoff, checkoutCount, r, r.Identity(), hint)
		result = res
		return err
	})
	return result, err
}

// reduceCore runs one divide-and-conquer level of Reduce on the worker
// currently executing, opening a fresh TaskGroup for its fork — callers
// inside an existing task (Scan's internal left-total computation)
// call this directly instead of the public Reduce, since a nested
// root_exec would be unsafe (see DESIGN.md: a stolen continuation's
// further forks must land on the thief's own deque).
func reduceCore[V, A any](ctx context.Context, w *sched.Worker, eng *ori.Engine, codec Codec[V], base, lo, hi, cutoff, checkoutCount int, r Reducer[V, A], acc A, hint sched.WorkHint) (A, error) {
	if hi-lo <= cutoff {
		return accumulateSequential(ctx, eng, codec, base, lo, hi, checkoutCount, r, acc)
	}
	mid := lo + (hi-lo)/2
	leftHint, rightHint := hint, hint
	if hint.HasHint() {
		leftHint, rightHint = hint.Split()
	}

	leftAcc, rightAcc := acc, acc
	if !r.Direct {
		leftAcc, rightAcc = r.Identity(), r.Identity()
	}

	sub := sched.NewTaskGroup()
	var leftResult A
	var leftErr error
	err := sub.Fork(ctx, w, leftHint, func(ctx context.Context, w *sched.Worker) error {
		leftResult, leftErr = reduceCore(ctx, w, eng, codec, base, lo, mid, cutoff, checkoutCount, r, leftAcc, leftHint)
		return leftErr
	})
	if err != nil {
		var zero A
		return zero, err
	}

	rightResult, rightErr := reduceCore(ctx, w, eng, codec, base, mid, hi, cutoff, checkoutCount, r, rightAcc, rightHint)

	if joinErr := sub.End(ctx, w); rightErr == nil {
		rightErr = joinErr
	}
	if rightErr != nil {
		var zero A
		return zero, rightErr
	}
	return r.Combine(leftResult, rightResult), nil
}

// accumulateSequential is a parallel_reduce leaf: it folds
// [lo, hi) sequentially, checking out checkoutCount elements at a
// time (spec.md §4.8's "accum_op runs sequentially at checkout_count
// granularity").
func accumulateSequential[V, A any](ctx context.Context, eng *ori.Engine, codec Codec[V], base, lo, hi, checkoutCount int, r Reducer[V, A], acc A) (A, error) {
	if checkoutCount < 1 {
		checkoutCount = 1
	}
	for start := lo; start < hi; start += checkoutCount {
		end := start + checkoutCount
		if end > hi {
			end = hi
		}
		n := end - start
		h, err := eng.Checkout(ctx, base+start*codec.Size, n*codec.Size, ori.Read)
		if err != nil {
			var zero A
			return zero, err
		}
		buf := h.Bytes()
		for i := 0; i < n; i++ {
			v := codec.Decode(buf[i*codec.Size : (i+1)*codec.Size])
			acc = r.Foldl(acc, start+i, v)
		}
		if err := h.Checkin(ctx); err != nil {
			var zero A
			return zero, err
		}
	}
	return acc, nil
}

// Search is spec.md §4.8's search pattern specialized to the lowest
// index satisfying pred in [first, last), or SearchResult{Found:
// false} if none does.
func Search[V any](ctx context.Context, s *sched.Scheduler, eng *ori.Engine, codec Codec[V], base, first, last, cutoff, checkoutCount int, pred func(V) bool) (SearchResult, error) {
	return Reduce(ctx, s, eng, codec, base, first, last, cutoff, checkoutCount, searchReducer(pred))
}

// MinMax is spec.md §8.3 scenario 3's reduction: the first-occurrence
// minimum and maximum elements of [first, last).
func MinMax[T cmp.Ordered](ctx context.Context, s *sched.Scheduler, eng *ori.Engine, codec Codec[T], base, first, last, cutoff, checkoutCount int) (MinMaxResult[T], error) {
	return Reduce(ctx, s, eng, codec, base, first, last, cutoff, checkoutCount, minMaxReducer[T]())
}
