package sched

// WorkHint maps a subtask to a contiguous, half-open range of worker
// indices (spec.md §4.7 ADWS: "a work-hint range attached to a
// parallel policy maps each subtask to a contiguous fraction of
// workers"). Stealing is biased toward victims inside the range so
// subtasks land near the workers holding their home data. NoHint (the
// zero value) means no preference: ordinary round-robin stealing.
type WorkHint struct {
	Lo, Hi int
	set    bool
}

// NoHint is the hint carried by forks with no ADWS policy attached.
var NoHint = WorkHint{}

// NewWorkHint returns a hint covering worker indices [lo, hi).
func NewWorkHint(lo, hi int) WorkHint { return WorkHint{Lo: lo, Hi: hi, set: true} }

// HasHint reports whether h carries an active ADWS range.
func (h WorkHint) HasHint() bool { return h.set }

// Split divides h into left and right halves at its midpoint, the way
// a recursive parallel split divides its worker range between the
// forked left child and the continuing right side (spec.md §4.7: the
// block-reversed home policy is paired with ADWS "so that the last
// worker of a range holds the last block, yielding depth-first
// locality on both sides of a recursive split").
func (h WorkHint) Split() (left, right WorkHint) {
	if !h.set || h.Hi-h.Lo < 2 {
		return h, h
	}
	mid := h.Lo + (h.Hi-h.Lo)/2
	return NewWorkHint(h.Lo, mid), NewWorkHint(mid, h.Hi)
}
