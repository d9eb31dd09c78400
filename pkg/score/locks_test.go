package score

import (
	"reflect"
	"testing"

	"github.com/tombee/atelier/pkg/design"
)

func lockableNode(id string) design.Node {
	return design.Node{
		NodeID:          id,
		MatchImportance: design.ImportanceCritical,
		LayoutTargets:   &design.LayoutTargets{BBox: design.BBox{W: 100, H: 50}},
		StyleTargets:    map[string]string{"color": "rgb(0,0,0)"},
	}
}

func TestLockManager_LocksQualifyingNodes(t *testing.T) {
	m := NewLockManager(0, 0)

	nodes := []design.Node{
		lockableNode("hero"),
		{
			// normal importance never locks
			NodeID:          "sidebar",
			MatchImportance: design.ImportanceNormal,
			LayoutTargets:   &design.LayoutTargets{BBox: design.BBox{W: 10, H: 10}},
			StyleTargets:    map[string]string{"color": "rgb(1,1,1)"},
		},
		{
			// critical but no bbox
			NodeID:          "toast",
			MatchImportance: design.ImportanceCritical,
			StyleTargets:    map[string]string{"color": "rgb(1,1,1)"},
		},
		{
			// critical with bbox but no style targets
			NodeID:          "footer",
			MatchImportance: design.ImportanceCritical,
			LayoutTargets:   &design.LayoutTargets{BBox: design.BBox{W: 10, H: 10}},
		},
	}

	added := m.Update(design.Vector{Layout: 0.90, Style: 0.88}, nodes)
	if !reflect.DeepEqual(added, []string{"hero"}) {
		t.Errorf("Update locked %v, want [hero]", added)
	}
	if !m.IsLocked("hero") {
		t.Error("hero should be locked")
	}
	for _, id := range []string{"sidebar", "toast", "footer"} {
		if m.IsLocked(id) {
			t.Errorf("%s should not be locked", id)
		}
	}
}

func TestLockManager_NoLocksBelowThreshold(t *testing.T) {
	m := NewLockManager(0.15, 0.15)

	tests := []struct {
		name      string
		aggregate design.Vector
	}{
		{"layout deficit too large", design.Vector{Layout: 0.80, Style: 0.95}},
		{"style deficit too large", design.Vector{Layout: 0.95, Style: 0.80}},
		{"both too large", design.Vector{Layout: 0.5, Style: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if added := m.Update(tt.aggregate, []design.Node{lockableNode("n")}); added != nil {
				t.Errorf("locked %v below thresholds", added)
			}
		})
	}
}

func TestLockManager_MonotoneSet(t *testing.T) {
	m := NewLockManager(0, 0)
	nodes := []design.Node{lockableNode("hero")}

	if added := m.Update(design.Vector{Layout: 0.95, Style: 0.95}, nodes); len(added) != 1 {
		t.Fatalf("expected hero to lock, got %v", added)
	}

	// Scores collapse afterwards; the lock must survive.
	if added := m.Update(design.Vector{Layout: 0.2, Style: 0.2}, nodes); added != nil {
		t.Errorf("collapse should add nothing, got %v", added)
	}
	if !m.IsLocked("hero") {
		t.Error("locks must never release within a run")
	}

	// Re-qualifying later must not report the node again.
	if added := m.Update(design.Vector{Layout: 0.99, Style: 0.99}, nodes); added != nil {
		t.Errorf("already-locked node reported again: %v", added)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestLockManager_LockedSorted(t *testing.T) {
	m := NewLockManager(0, 0)
	nodes := []design.Node{lockableNode("zeta"), lockableNode("alpha"), lockableNode("mid")}

	added := m.Update(design.Vector{Layout: 0.95, Style: 0.95}, nodes)
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(added, want) {
		t.Errorf("added = %v, want %v", added, want)
	}
	if got := m.Locked(); !reflect.DeepEqual(got, want) {
		t.Errorf("Locked() = %v, want %v", got, want)
	}
}

func TestLockManager_BoundaryDeficit(t *testing.T) {
	// Deficit exactly at the threshold still qualifies.
	m := NewLockManager(0.15, 0.15)

	added := m.Update(design.Vector{Layout: 0.85, Style: 0.85}, []design.Node{lockableNode("edge")})
	if len(added) != 1 {
		t.Errorf("deficit == threshold should lock, got %v", added)
	}
}
