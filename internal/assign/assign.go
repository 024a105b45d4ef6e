// Package assign implements the assignment engine: the pure function that
// maps resources to peers, and the IO driver around it that reads and
// writes the replicated store. Grounded directly on
// original_source/fechter/assign.py's AssignmentComputer.
package assign

import (
	"hash/fnv"
	"sort"

	"outrigger/internal/store"
)

// CalculateAssignment picks the peer that should receive the next
// assignment: the one with the fewest entries in assignments, ties broken
// by position in peers. peers must be non-empty.
func CalculateAssignment(assignments map[string]string, peers []string) string {
	counts := make([]int, len(peers))
	for i, peer := range peers {
		for _, assignedTo := range assignments {
			if assignedTo == peer {
				counts[i]++
			}
		}
	}
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] < counts[best] {
			best = i
		}
	}
	return peers[best]
}

// ComputeAssignments assigns every resource in resources a peer, preserving
// any assignment already present in currentAssignments for a resource whose
// peer is eligible (present in peers). Unassigned resources are handed out
// one at a time via CalculateAssignment. Deterministic for fixed inputs.
func ComputeAssignments(resources []string, currentAssignments map[string]string, peers []string) map[string]string {
	assignments := make(map[string]string, len(currentAssignments))
	for k, v := range currentAssignments {
		assignments[k] = v
	}
	for _, rid := range resources {
		if _, ok := assignments[rid]; !ok {
			assignments[rid] = CalculateAssignment(assignments, peers)
		}
	}
	return assignments
}

// resourceInfo pairs a resource id with the timestamp used to order it.
type resourceInfo struct {
	rid string
	ts  float64
}

// CollectResources enumerates resource:* entries, keeps only non-deleted
// please-assign ones, and returns their ids ordered by ascending timestamp.
func CollectResources(s *store.Store) []string {
	var infos []resourceInfo
	for _, key := range s.Keys("resource:*") {
		v, ok := s.Get(key)
		if !ok || v.Deleted {
			continue
		}
		if v.Resource.State != store.StatePleaseAssign {
			continue
		}
		infos = append(infos, resourceInfo{rid: key[len("resource:"):], ts: v.Resource.Timestamp})
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].ts < infos[j].ts })
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.rid
	}
	return out
}

// CollectAssignments enumerates assign:* entries and keeps only pairs whose
// resource id is a known resource and whose value names a peer in peers.
func CollectAssignments(s *store.Store, resources []string, peers []string) map[string]string {
	known := make(map[string]bool, len(resources))
	for _, rid := range resources {
		known[rid] = true
	}
	eligible := make(map[string]bool, len(peers))
	for _, p := range peers {
		eligible[p] = true
	}
	assignments := make(map[string]string)
	for _, key := range s.Keys("assign:*") {
		rid := key[len("assign:"):]
		if !known[rid] {
			continue
		}
		v, ok := s.Get(key)
		if !ok || v.Deleted || v.Assignment.Peer == nil {
			continue
		}
		peer := *v.Assignment.Peer
		if eligible[peer] {
			assignments[rid] = peer
		}
	}
	return assignments
}

// UpdateAssignments writes assignments to the store: every existing
// assign:* entry not present in assignments is cleared, and every entry in
// assignments is (re)written. Every write is a full Set: a value equal to
// the one already stored is not skipped, so it is still published and
// still delivers a change notification. Repeating the call leaves the same
// stored state.
func UpdateAssignments(s *store.Store, assignments map[string]string) {
	for _, key := range s.Keys("assign:*") {
		rid := key[len("assign:"):]
		if _, ok := assignments[rid]; !ok {
			s.Set(key, store.NewAssignmentValue(""))
		}
	}
	for rid, peer := range assignments {
		s.Set("assign:"+rid, store.NewAssignmentValue(peer))
	}
}

// Driver performs the leader-only IO around the pure assignment functions.
type Driver struct {
	store *store.Store
}

// NewDriver builds a Driver bound to the given store.
func NewDriver(s *store.Store) *Driver {
	return &Driver{store: s}
}

// AssignResources recomputes and publishes assignments for the current
// resource set against the given eligible peers. Threads the real
// current-assignments collection through ComputeAssignments (see
// DESIGN.md's Open Question decision #3 on the discard bug in the Python
// original). Preserves the original's "publish if changed, or if the
// computed map is empty" behavior, including the extra clearing write it
// performs even when assignments were already empty (decision #4).
func (d *Driver) AssignResources(peers []string) {
	orderedResources := CollectResources(d.store)
	currentAssignments := CollectAssignments(d.store, orderedResources, peers)
	assignments := map[string]string{}
	if len(peers) > 0 {
		assignments = ComputeAssignments(orderedResources, currentAssignments, peers)
	}
	if !mapsEqual(assignments, currentAssignments) || len(assignments) == 0 {
		UpdateAssignments(d.store, assignments)
	}
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// StableHash returns a stable 64-bit hash of a peer name, used to sort the
// eligible-peers list identically on every peer (§4.3's "input peers list
// is sorted by a stable hash of the name").
func StableHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// SortPeersByHash sorts a copy of peers by StableHash, name as tiebreak.
func SortPeersByHash(peers []string) []string {
	out := make([]string, len(peers))
	copy(out, peers)
	sort.Slice(out, func(i, j int) bool {
		hi, hj := StableHash(out[i]), StableHash(out[j])
		if hi != hj {
			return hi < hj
		}
		return out[i] < out[j]
	})
	return out
}
