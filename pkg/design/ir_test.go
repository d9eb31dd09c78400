package design

import (
	"os"
	"path/filepath"
	"testing"
)

func writeIR(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, IRFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing IR fixture: %v", err)
	}
	return path
}

const validIR = `{
  "schemaVersion": "1.0",
  "targets": [
    {
      "targetId": "home",
      "nodes": [
        {
          "nodeId": "hero",
          "name": "Hero banner",
          "matchImportance": "critical",
          "layoutTargets": {"bbox": {"x": 0, "y": 0, "w": 1440, "h": 480}},
          "styleTargets": {"backgroundColor": "rgb(17,24,39)", "color": "rgb(255,255,255)"},
          "a11yTargets": {"role": "banner"}
        },
        {
          "nodeId": "cta",
          "componentMapping": {"component": "Button", "props": {"variant": "primary"}}
        }
      ]
    }
  ]
}`

func TestLoadIR_AppliesDefaults(t *testing.T) {
	ir, err := LoadIR(writeIR(t, validIR))
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}

	nodes := ir.NodesFor("home")
	if len(nodes) != 2 {
		t.Fatalf("NodesFor(home) = %d nodes, want 2", len(nodes))
	}

	hero := nodes[0]
	if hero.LayoutTargets.TolerancePx != defaultTolerance {
		t.Errorf("tolerance default = %+v, want %+v", hero.LayoutTargets.TolerancePx, defaultTolerance)
	}

	cta := nodes[1]
	if cta.MatchImportance != ImportanceNormal {
		t.Errorf("importance default = %q, want normal", cta.MatchImportance)
	}
}

func TestLoadIR_Invalid(t *testing.T) {
	tests := []struct {
		name string
		ir   string
	}{
		{
			name: "duplicate node id",
			ir: `{"schemaVersion": "1.0", "targets": [
				{"targetId": "home", "nodes": [{"nodeId": "a"}, {"nodeId": "a"}]}]}`,
		},
		{
			name: "missing node id",
			ir: `{"schemaVersion": "1.0", "targets": [
				{"targetId": "home", "nodes": [{"name": "unnamed"}]}]}`,
		},
		{
			name: "bad importance",
			ir: `{"schemaVersion": "1.0", "targets": [
				{"targetId": "home", "nodes": [{"nodeId": "a", "matchImportance": "extreme"}]}]}`,
		},
		{
			name: "wrong schema",
			ir:   `{"schemaVersion": "0.9", "targets": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadIR(writeIR(t, tt.ir)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestImportance_Weight(t *testing.T) {
	tests := []struct {
		imp  Importance
		want float64
	}{
		{ImportanceCritical, 1.0},
		{ImportanceNormal, 0.6},
		{ImportanceLow, 0.3},
		{Importance("unknown"), 0.6},
	}

	for _, tt := range tests {
		if got := tt.imp.Weight(); got != tt.want {
			t.Errorf("Weight(%q) = %v, want %v", tt.imp, got, tt.want)
		}
	}
}

func TestNode_Helpers(t *testing.T) {
	withBox := Node{
		NodeID:        "a",
		LayoutTargets: &LayoutTargets{BBox: BBox{W: 100, H: 40}},
		StyleTargets:  map[string]string{"color": "rgb(0,0,0)"},
	}
	if !withBox.HasBBox() {
		t.Error("node with bbox should report HasBBox")
	}
	if withBox.StyleTargetCount() != 1 {
		t.Errorf("StyleTargetCount = %d, want 1", withBox.StyleTargetCount())
	}
	if withBox.HasA11yTarget() {
		t.Error("node without a11y targets should not report HasA11yTarget")
	}

	bare := Node{NodeID: "b"}
	if bare.HasBBox() {
		t.Error("bare node should not report HasBBox")
	}

	labelled := Node{NodeID: "c", A11yTargets: &A11yTargets{LabelledByNodeID: "a"}}
	if !labelled.HasA11yTarget() {
		t.Error("labelledBy alone should count as an a11y target")
	}
}
