package topo

import "testing"

func TestTopologyIntraInterRanks(t *testing.T) {
	hosts := []string{"h0", "h0", "h1", "h1", "h1"}
	tp, err := New(3, hosts)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tp.NumHosts(), 2; got != want {
		t.Fatalf("NumHosts = %d, want %d", got, want)
	}
	if got, want := tp.InterRank(3), tp.InterRank(2); got != want {
		t.Fatalf("ranks 2 and 3 should share inter-rank: %d != %d", got, want)
	}
	if !tp.IsLocal(2) || !tp.IsLocal(4) {
		t.Fatal("ranks 2 and 4 share host h1 and should be local to rank 3")
	}
	if tp.IsLocal(0) {
		t.Fatal("rank 0 is on host h0, not local to rank 3")
	}
	if got, want := tp.IntraRank(4), 2; got != want {
		t.Fatalf("IntraRank(4) = %d, want %d", got, want)
	}
}

func TestTopologyOutOfRange(t *testing.T) {
	if _, err := New(5, []string{"h0"}); err == nil {
		t.Fatal("expected error for out-of-range rank")
	}
}
