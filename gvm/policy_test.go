package gvm

import (
	"testing"

	"github.com/grailbio/pgas/internal/topo"
)

func TestBlockPolicyHomeOf(t *testing.T) {
	p, err := NewBlockPolicy(4, 4096, 4*4*4096)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.LocalSize(0); got != 4*4096 {
		t.Fatalf("LocalSize(0) = %d, want %d", got, 4*4096)
	}
	owner, segBegin, segEnd, homeOffset := p.HomeOf(5 * 4096)
	if owner != 1 {
		t.Fatalf("owner = %d, want 1", owner)
	}
	if segBegin != 4*4096 || segEnd != 8*4096 {
		t.Fatalf("segment = [%d,%d), want [%d,%d)", segBegin, segEnd, 4*4096, 8*4096)
	}
	if homeOffset != 4096 {
		t.Fatalf("homeOffset = %d, want %d", homeOffset, 4096)
	}
}

func TestBlockReversedPolicyHomeOf(t *testing.T) {
	p, err := NewBlockReversedPolicy(4, 4096, 4*4*4096)
	if err != nil {
		t.Fatal(err)
	}
	owner, _, _, _ := p.HomeOf(0)
	if owner != 3 {
		t.Fatalf("owner of first block = %d, want 3", owner)
	}
	owner, _, _, _ = p.HomeOf(15 * 4096)
	if owner != 0 {
		t.Fatalf("owner of last block = %d, want 0", owner)
	}
}

func TestCyclicPolicyHomeOf(t *testing.T) {
	// 3 ranks, seg=2 blocks, 12 blocks total -> 6 groups, round-robin
	// ranks 0,1,2,0,1,2.
	p, err := NewCyclicPolicy(3, 4096, 12*4096, 2)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		block int
		owner int
	}{
		{0, 0}, {1, 0}, // group 0
		{2, 1}, {3, 1}, // group 1
		{4, 2}, {5, 2}, // group 2
		{6, 0}, {7, 0}, // group 3
	}
	for _, c := range cases {
		owner, _, _, _ := p.HomeOf(c.block * 4096)
		if owner != c.owner {
			t.Errorf("block %d: owner = %d, want %d", c.block, owner, c.owner)
		}
	}
	// Each rank owns 2 of the 6 groups (4 blocks); the local sizes
	// must sum to all 12 blocks.
	total := 0
	for r := 0; r < 3; r++ {
		total += p.LocalSize(r) / 4096
	}
	if total != 12 {
		t.Fatalf("local sizes sum to %d blocks, want 12", total)
	}
}

func TestCyclicShouldMapAllHomeFalse(t *testing.T) {
	p, _ := NewCyclicPolicy(2, 4096, 8*4096, 2)
	if p.ShouldMapAllHome() {
		t.Fatal("Cyclic policy should not map all home eagerly")
	}
	b, _ := NewBlockPolicy(2, 4096, 8*4096)
	if !b.ShouldMapAllHome() {
		t.Fatal("Block policy should map all home eagerly")
	}
}

func TestNUMAHomeOfInterleaveByDefault(t *testing.T) {
	p, _ := NewBlockPolicy(2, 4096, 8*4096)
	if mask := p.NUMAHomeOf(0, 0); mask != topo.InterleaveMask {
		t.Fatalf("NUMAHomeOf = %v, want Interleave", mask)
	}
}

func TestNUMAHomeOfRoundRobinsWithNodes(t *testing.T) {
	p, _ := NewBlockPolicy(1, 4096, 4*4096)
	p = p.WithNUMANodes(2)
	if got := p.NUMAHomeOf(0, 0); got != topo.Node(0) {
		t.Fatalf("NUMAHomeOf(0) = %v, want node 0", got)
	}
	if got := p.NUMAHomeOf(0, 4096); got != topo.Node(1) {
		t.Fatalf("NUMAHomeOf(4096) = %v, want node 1", got)
	}
}

func TestNewPolicyRejectsUnevenSplit(t *testing.T) {
	if _, err := NewBlockPolicy(3, 4096, 8*4096); err == nil {
		t.Fatal("expected error for non-divisible block count")
	}
}
