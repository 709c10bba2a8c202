package algo

import (
	"cmp"
	"sync/atomic"
)

// Reducer captures the four operations spec.md §4.8 asks a reducer to
// provide — identity, foldl (accumulate one element), combine
// (foldl/foldr of two partial accumulators), and a marker for whether
// accumulation mutates a shared view rather than a value copied down
// the recursion.
//
// V is the decoded element type read from a block through a Codec; A
// is the accumulator type, which need not equal V — Sum uses A == V,
// MinMax pairs a value with its index, and Histogram accumulates into
// a shared bin-count view rather than a per-branch value.
type Reducer[V, A any] struct {
	Identity func() A
	Foldl    func(acc A, index int, v V) A
	Combine  func(left, right A) A
	// Direct marks an accumulator-view reducer (spec.md §4.8's
	// "direct_accumulation"): Foldl mutates a shared reference in
	// place and Combine need not merge anything but must still
	// satisfy the happens-before ordering a join provides. Histogram
	// is the only Direct reducer in this package.
	Direct bool
}

// Sum builds a value-typed reducer (spec.md §8.3 scenario 1) summing
// a numeric element type.
func Sum[T int64 | float64]() Reducer[T, T] {
	return Reducer[T, T]{
		Identity: func() T { return 0 },
		Foldl:    func(acc T, _ int, v T) T { return acc + v },
		Combine:  func(l, r T) T { return l + r },
	}
}

// MinMaxResult is the accumulator MinMax reduces to — the value and
// first-occurrence index of both the minimum and maximum elements
// seen, per spec.md §8.3 scenario 3's "first-occurrence" tie-breaking
// rule.
type MinMaxResult[T cmp.Ordered] struct {
	set            bool
	MinIdx, MaxIdx int
	Min, Max       T
}

// minMaxReducer builds the reducer for spec.md §4.8's min/max search
// pattern. Ties keep the lower index: Foldl and Combine only replace
// an existing extreme on a strict inequality, and Combine always
// prefers the left partial result's index on an exact tie between
// halves.
func minMaxReducer[T cmp.Ordered]() Reducer[T, MinMaxResult[T]] {
	return Reducer[T, MinMaxResult[T]]{
		Identity: func() MinMaxResult[T] { return MinMaxResult[T]{} },
		Foldl: func(acc MinMaxResult[T], index int, v T) MinMaxResult[T] {
			if !acc.set {
				return MinMaxResult[T]{set: true, MinIdx: index, MaxIdx: index, Min: v, Max: v}
			}
			if v < acc.Min {
				acc.Min, acc.MinIdx = v, index
			}
			if v > acc.Max {
				acc.Max, acc.MaxIdx = v, index
			}
			return acc
		},
		Combine: func(l, r MinMaxResult[T]) MinMaxResult[T] {
			if !l.set {
				return r
			}
			if !r.set {
				return l
			}
			out := l
			if r.Min < out.Min {
				out.Min, out.MinIdx = r.Min, r.MinIdx
			}
			if r.Max > out.Max {
				out.Max, out.MaxIdx = r.Max, r.MaxIdx
			}
			return out
		},
	}
}

// SearchResult is the outcome of a predicate Search (spec.md §4.8's
// search pattern): the lowest index satisfying pred, or Found == false
// if no element in range did.
type SearchResult struct {
	Found bool
	Index int
}

func searchReducer[V any](pred func(V) bool) Reducer[V, SearchResult] {
	return Reducer[V, SearchResult]{
		Identity: func() SearchResult { return SearchResult{} },
		Foldl: func(acc SearchResult, index int, v V) SearchResult {
			if acc.Found || !pred(v) {
				return acc
			}
			return SearchResult{Found: true, Index: index}
		},
		Combine: func(l, r SearchResult) SearchResult {
			if l.Found {
				return l
			}
			return r
		},
	}
}

// Histogram is an accumulator-view reducer's shared state: fixed-width
// bin counts over [0, 1), matching spec.md §8.3 scenario 4's sample
// distribution. Unlike Sum and MinMax it is always a pointer-shaped
// accumulator: every recursive branch folds into the same *Histogram,
// concurrently, so bin counts use atomic increments rather than the
// plain arithmetic a per-branch accumulator could get away with.
type Histogram struct {
	bins []atomic.Int64
}

// Counts returns the final per-bin counts after a reduction completes.
func (h *Histogram) Counts() []int {
	out := make([]int, len(h.bins))
	for i := range h.bins {
		out[i] = int(h.bins[i].Load())
	}
	return out
}

// NewHistogram builds a reducer accumulating float64 samples in [0, 1)
// into k equal-width bins directly into a shared *Histogram — the
// "accumulator-view reducer with a global output buffer" spec.md §4.8
// contrasts with value-typed reducers like Sum. Its Combine is a no-op:
// every branch already wrote into the one shared Histogram Identity
// produced.
func NewHistogram(k int) Reducer[float64, *Histogram] {
	return Reducer[float64, *Histogram]{
		Identity: func() *Histogram { return &Histogram{bins: make([]atomic.Int64, k)} },
		Foldl: func(acc *Histogram, _ int, v float64) *Histogram {
			bin := int(v * float64(k))
			if bin >= k {
				bin = k - 1
			}
			if bin < 0 {
				bin = 0
			}
			acc.bins[bin].Add(1)
			return acc
		},
		Combine: func(l, _ *Histogram) *Histogram { return l },
		Direct:  true,
	}
}
