// Package topo maintains the intra/inter-node rank topology and NUMA
// binding masks described in spec.md §3.1 and referenced by the home
// policies in gvm. It is the thin, in-repo side of the "NUMA topology
// discovery" external collaborator named in spec.md §1 — it holds the
// node map and mask once discovered, but performs no discovery
// heuristics of its own beyond grouping ranks by a host key.
package topo

import "fmt"

// Interleave is the numa_home_of sentinel meaning "no single NUMA
// node should be preferred; interleave across all of them."
const Interleave = -1

// Topology partitions the ranks of a process group into intra-node
// and inter-node subgroups, per spec.md §3.1.
type Topology struct {
	rank     int
	hosts    []string // hosts[r] is the host key of rank r
	intra    []int    // intra[r] is r's position within its host's rank list
	inter    []int    // inter[r] is the index of r's host among all hosts
	byHost   map[string][]int
	hostKeys []string
}

// New builds a Topology for the local rank given the full set of host
// keys, one per rank, indexed by global rank. Ranks sharing a host key
// are considered to have direct shared-memory access.
func New(self int, hostKeys []string) (*Topology, error) {
	if self < 0 || self >= len(hostKeys) {
		return nil, fmt.Errorf("topo: rank %d out of range [0,%d)", self, len(hostKeys))
	}
	t := &Topology{
		rank:   self,
		hosts:  append([]string(nil), hostKeys...),
		intra:  make([]int, len(hostKeys)),
		inter:  make([]int, len(hostKeys)),
		byHost: make(map[string][]int),
	}
	for r, h := range hostKeys {
		if _, ok := t.byHost[h]; !ok {
			t.hostKeys = append(t.hostKeys, h)
		}
		t.byHost[h] = append(t.byHost[h], r)
	}
	for hostIdx, h := range t.hostKeys {
		for pos, r := range t.byHost[h] {
			t.intra[r] = pos
			t.inter[r] = hostIdx
		}
	}
	return t, nil
}

// NumRanks returns the total number of ranks in the process group.
func (t *Topology) NumRanks() int { return len(t.hosts) }

// NumHosts returns the number of distinct hosts (inter-node
// subgroups).
func (t *Topology) NumHosts() int { return len(t.hostKeys) }

// IntraRank returns r's position within its host's local rank list.
func (t *Topology) IntraRank(r int) int { return t.intra[r] }

// InterRank returns the index of r's host among all hosts.
func (t *Topology) InterRank(r int) int { return t.inter[r] }

// IsLocal reports whether rank r shares a host with the local rank.
func (t *Topology) IsLocal(r int) bool { return t.inter[r] == t.inter[t.rank] }

// LocalPeers returns the global ranks that share a host with r, in
// intra-rank order.
func (t *Topology) LocalPeers(r int) []int {
	return t.byHost[t.hosts[r]]
}

// NUMAMask describes a binding preference for physical memory: either
// a specific NUMA node, or Interleave.
type NUMAMask int

// Node returns a NUMAMask that prefers the given NUMA node.
func Node(n int) NUMAMask { return NUMAMask(n) }

// InterleaveMask is the mask requesting interleaved allocation.
const InterleaveMask NUMAMask = Interleave
