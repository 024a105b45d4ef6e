package assign

import (
	"testing"

	"outrigger/internal/store"
)

func TestCalculateAssignmentTieBreak(t *testing.T) {
	// Scenario A: {A:a, B:a, C:b, D:b}, peers [b,a] -> b; peers [a,b] -> a.
	assignments := map[string]string{"A": "a", "B": "a", "C": "b", "D": "b"}

	if got := CalculateAssignment(assignments, []string{"b", "a"}); got != "b" {
		t.Errorf("peers [b,a]: got %q, want %q", got, "b")
	}
	if got := CalculateAssignment(assignments, []string{"a", "b"}); got != "a" {
		t.Errorf("peers [a,b]: got %q, want %q", got, "a")
	}
}

func TestCalculateAssignmentMinCount(t *testing.T) {
	assignments := map[string]string{"A": "x", "B": "x", "C": "y"}
	got := CalculateAssignment(assignments, []string{"x", "y", "z"})
	if got != "z" {
		t.Errorf("got %q, want %q (the peer with zero assignments)", got, "z")
	}
}

func TestComputeAssignmentsStability(t *testing.T) {
	current := map[string]string{"A": "a", "B": "b"}
	got := ComputeAssignments([]string{"A", "B"}, current, []string{"a", "b"})
	if got["A"] != "a" || got["B"] != "b" {
		t.Errorf("stability violated: got %+v", got)
	}
}

func TestComputeAssignmentsIdempotent(t *testing.T) {
	resources := []string{"A", "B", "C", "D"}
	peers := []string{"a", "b"}
	first := ComputeAssignments(resources, map[string]string{}, peers)
	second := ComputeAssignments(resources, first, peers)
	for rid, peer := range first {
		if second[rid] != peer {
			t.Errorf("not idempotent: resource %s moved from %s to %s", rid, peer, second[rid])
		}
	}
}

func TestComputeAssignmentsFresh(t *testing.T) {
	// Scenario E: resources=[A,B], current={}, peers=[b,a] -> {A:b, B:a}.
	got := ComputeAssignments([]string{"A", "B"}, map[string]string{}, []string{"b", "a"})
	if got["A"] != "b" || got["B"] != "a" {
		t.Errorf("got %+v, want {A:b B:a}", got)
	}
}

func TestComputeAssignmentsPeerDown(t *testing.T) {
	// Scenario F: {A:a, B:b}, peers=[a] (b dropped) -> {A:a, B:a}. The
	// current map passed in is {A:a}: CollectAssignments has already
	// dropped B:b because b is no longer in peers.
	got := ComputeAssignments([]string{"A", "B"}, map[string]string{"A": "a"}, []string{"a"})
	if got["A"] != "a" || got["B"] != "a" {
		t.Errorf("got %+v, want {A:a B:a}", got)
	}
}

func TestCollectResourcesOrderAndFilter(t *testing.T) {
	s := store.New("self")
	s.Set("resource:A", store.NewResourceValue(1, store.StatePleaseAssign, "eth0:10.0.0.1"))
	s.Set("resource:B", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.2"))
	s.Set("resource:C", store.NewResourceValue(2, store.StatePleaseDoNotAssign, "eth0:10.0.0.3"))
	s.Delete("resource:D") // tombstone, not present as a live resource at all yet

	got := CollectResources(s)
	if len(got) != 2 || got[0] != "B" || got[1] != "A" {
		t.Fatalf("got %v, want [B A] (timestamp order, please-assign only)", got)
	}
}

func TestCollectAssignmentsFiltersUnknownAndIneligible(t *testing.T) {
	s := store.New("self")
	s.Set("assign:A", store.NewAssignmentValue("a"))
	s.Set("assign:B", store.NewAssignmentValue("dead-peer"))
	s.Set("assign:C", store.NewAssignmentValue("a")) // C not in resources

	got := CollectAssignments(s, []string{"A", "B"}, []string{"a"})
	if len(got) != 1 || got["A"] != "a" {
		t.Fatalf("got %+v, want {A:a}", got)
	}
}

func TestUpdateAssignmentsClearsMissing(t *testing.T) {
	// Testable property 6: update_assignments({}) clears every existing
	// assign:* key.
	s := store.New("self")
	s.Set("assign:A", store.NewAssignmentValue("a"))
	s.Set("assign:B", store.NewAssignmentValue("b"))

	UpdateAssignments(s, map[string]string{})

	for _, key := range []string{"assign:A", "assign:B"} {
		v, ok := s.Get(key)
		if !ok || v.Assignment.Peer != nil {
			t.Errorf("%s not cleared: %+v", key, v)
		}
	}
}

func TestDriverSteadyStateNoOp(t *testing.T) {
	// Scenario C: assign:A=a, resource:A=(0,please-assign,_), peers=[a].
	// After assign_resources([a]), no set is issued on any assign:* key.
	s := store.New("self")
	s.Set("resource:A", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.1"))
	s.Set("assign:A", store.NewAssignmentValue("a"))

	var writes []string
	s.OnChange(func(source, key string, value store.Value) {
		writes = append(writes, key)
	})

	NewDriver(s).AssignResources([]string{"a"})

	if len(writes) != 0 {
		t.Errorf("expected no writes in steady state, got %v", writes)
	}
}

func TestDriverMigration(t *testing.T) {
	// Scenario D: assign:A=a, resource:A=(0,please-assign,_), peers=[b].
	// After assign_resources([b]), assign:A is set to b.
	s := store.New("self")
	s.Set("resource:A", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.1"))
	s.Set("assign:A", store.NewAssignmentValue("a"))

	NewDriver(s).AssignResources([]string{"b"})

	v, ok := s.Get("assign:A")
	if !ok || v.Assignment.Peer == nil || *v.Assignment.Peer != "b" {
		t.Fatalf("got %+v, want assign:A=b", v)
	}
}

func TestDriverEmptyPeerSetClearsAll(t *testing.T) {
	// Testable property 8: dropping to 0 eligible peers clears all assign:* entries.
	s := store.New("self")
	s.Set("resource:A", store.NewResourceValue(0, store.StatePleaseAssign, "eth0:10.0.0.1"))
	s.Set("assign:A", store.NewAssignmentValue("a"))

	NewDriver(s).AssignResources(nil)

	v, ok := s.Get("assign:A")
	if !ok || v.Assignment.Peer != nil {
		t.Fatalf("got %+v, want cleared", v)
	}
}

func TestDriverStabilityAcrossReassignment(t *testing.T) {
	// 4 resources already balanced across 2 peers must not be disturbed by a
	// re-derivation from scratch (the bug in the Python original that
	// DESIGN.md's Open Question decision #3 explicitly avoids reproducing).
	// From scratch the engine would produce {A:a, B:b, C:a, D:b}; the
	// existing balanced map below differs from that, so any re-derivation
	// would show up as writes.
	s := store.New("self")
	for i, rid := range []string{"A", "B", "C", "D"} {
		s.Set("resource:"+rid, store.NewResourceValue(float64(i), store.StatePleaseAssign, "eth0:10.0.0."+rid))
	}
	s.Set("assign:A", store.NewAssignmentValue("a"))
	s.Set("assign:B", store.NewAssignmentValue("a"))
	s.Set("assign:C", store.NewAssignmentValue("b"))
	s.Set("assign:D", store.NewAssignmentValue("b"))

	var writes []string
	s.OnChange(func(source, key string, value store.Value) {
		writes = append(writes, key)
	})

	NewDriver(s).AssignResources([]string{"a", "b"})

	if len(writes) != 0 {
		t.Errorf("expected stable assignment set, got writes to %v", writes)
	}
}

func TestSortPeersByHashDeterministic(t *testing.T) {
	peers := []string{"c:1", "a:1", "b:1"}
	first := SortPeersByHash(peers)
	second := SortPeersByHash([]string{"b:1", "c:1", "a:1"})
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("not deterministic: %v vs %v", first, second)
		}
	}
}
