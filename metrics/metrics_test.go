package metrics

import "testing"

func TestCounterIncrAndMerge(t *testing.T) {
	c := NewCounter("test_counter")
	a, b := NewScope(), NewScope()
	c.Incr(a, 3)
	c.Incr(b, 4)
	if got, want := c.Value(a), uint64(3); got != want {
		t.Fatalf("a: got %d, want %d", got, want)
	}
	a.Merge(b)
	if got, want := c.Value(a), uint64(7); got != want {
		t.Fatalf("merged: got %d, want %d", got, want)
	}
	if got, want := c.Value(b), uint64(4); got != want {
		t.Fatalf("b unaffected: got %d, want %d", got, want)
	}
}

func TestScopeIndependentMetrics(t *testing.T) {
	c1 := NewCounter("c1")
	c2 := NewCounter("c2")
	s := NewScope()
	c1.Incr(s, 1)
	c2.Incr(s, 2)
	if got, want := c1.Value(s), uint64(1); got != want {
		t.Fatalf("c1: got %d, want %d", got, want)
	}
	if got, want := c2.Value(s), uint64(2); got != want {
		t.Fatalf("c2: got %d, want %d", got, want)
	}
}
