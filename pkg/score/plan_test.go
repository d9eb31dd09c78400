package score

import (
	"reflect"
	"testing"

	"github.com/tombee/atelier/pkg/design"
)

func planNodes() []design.Node {
	return []design.Node{
		{
			NodeID:          "hero",
			Name:            "Hero",
			MatchImportance: design.ImportanceCritical,
			LayoutTargets:   &design.LayoutTargets{BBox: design.BBox{W: 1440, H: 480}},
			StyleTargets: map[string]string{
				"backgroundColor": "rgb(17,24,39)",
				"color":           "rgb(255,255,255)",
				"fontSize":        "48px",
				"fontWeight":      "700",
			},
			A11yTargets: &design.A11yTargets{Role: "banner"},
		},
		{
			NodeID:          "nav",
			Name:            "Navigation",
			MatchImportance: design.ImportanceNormal,
			LayoutTargets:   &design.LayoutTargets{BBox: design.BBox{W: 1440, H: 64}},
			StyleTargets:    map[string]string{"backgroundColor": "rgb(255,255,255)"},
		},
		{
			NodeID:          "fineprint",
			MatchImportance: design.ImportanceLow,
		},
	}
}

func TestPlanner_FocusArea(t *testing.T) {
	p := NewPlanner(PlanConfig{})

	tests := []struct {
		name string
		prev design.Vector
		want design.Dimension
	}{
		{
			name: "layout weakest",
			prev: design.Vector{Layout: 0.4, Style: 0.9, A11y: 0.9, Perceptual: 0.9},
			want: design.DimLayout,
		},
		{
			name: "style weakest",
			prev: design.Vector{Layout: 0.9, Style: 0.4, A11y: 0.9, Perceptual: 0.9},
			want: design.DimStyle,
		},
		{
			name: "weighting matters: a11y needs a larger raw deficit",
			// layout deficit 0.2 * 0.3 = 0.06 beats a11y deficit 0.25 * 0.2 = 0.05
			prev: design.Vector{Layout: 0.8, Style: 1, A11y: 0.75, Perceptual: 1},
			want: design.DimLayout,
		},
		{
			name: "a11y wins with a big enough gap",
			// a11y 0.5 * 0.2 = 0.10 beats layout 0.2 * 0.3 = 0.06
			prev: design.Vector{Layout: 0.8, Style: 1, A11y: 0.5, Perceptual: 1},
			want: design.DimA11y,
		},
		{
			name: "tie resolves to canonical order",
			// layout and style weights equal, deficits equal
			prev: design.Vector{Layout: 0.5, Style: 0.5, A11y: 1, Perceptual: 1},
			want: design.DimLayout,
		},
		{
			name: "perfect score defaults to layout",
			prev: design.Vector{Layout: 1, Style: 1, A11y: 1, Perceptual: 1},
			want: design.DimLayout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.Plan(tt.prev, planNodes(), nil)
			if plan.FocusArea != tt.want {
				t.Errorf("FocusArea = %q, want %q", plan.FocusArea, tt.want)
			}
		})
	}
}

func TestPlanner_SeverityRanking(t *testing.T) {
	p := NewPlanner(PlanConfig{})

	// Layout focus: hero 1.0*1.0 = 1.0, nav 0.6*1.0 = 0.6, fineprint 0.3*0.3 = 0.09.
	plan := p.Plan(design.Vector{Layout: 0.3, Style: 0.9, A11y: 0.9, Perceptual: 0.9}, planNodes(), nil)

	if len(plan.TopTargets) != 3 {
		t.Fatalf("TopTargets = %d entries, want 3", len(plan.TopTargets))
	}
	wantOrder := []string{"hero", "nav", "fineprint"}
	for i, want := range wantOrder {
		if plan.TopTargets[i].NodeID != want {
			t.Errorf("TopTargets[%d] = %s, want %s", i, plan.TopTargets[i].NodeID, want)
		}
	}
	if plan.TopTargets[0].Severity != 1.0 {
		t.Errorf("hero severity = %v, want 1.0", plan.TopTargets[0].Severity)
	}
	if plan.TopTargets[2].Severity != 0.3*0.3 {
		t.Errorf("fineprint severity = %v, want 0.09", plan.TopTargets[2].Severity)
	}
}

func TestPlanner_StyleRelevanceScalesWithTargetCount(t *testing.T) {
	p := NewPlanner(PlanConfig{})

	// Style focus: hero has 4 style targets (relevance 1.0), nav has 1 (0.25).
	plan := p.Plan(design.Vector{Layout: 0.9, Style: 0.3, A11y: 0.9, Perceptual: 0.9}, planNodes(), nil)

	if plan.FocusArea != design.DimStyle {
		t.Fatalf("FocusArea = %q, want style", plan.FocusArea)
	}
	if plan.TopTargets[0].NodeID != "hero" || plan.TopTargets[0].Severity != 1.0 {
		t.Errorf("hero should lead with severity 1.0, got %+v", plan.TopTargets[0])
	}

	var nav PlanTarget
	for _, target := range plan.TopTargets {
		if target.NodeID == "nav" {
			nav = target
		}
	}
	if nav.Severity != 0.6*0.25 {
		t.Errorf("nav severity = %v, want 0.15", nav.Severity)
	}
}

func TestPlanner_ExcludesLockedNodes(t *testing.T) {
	p := NewPlanner(PlanConfig{})

	plan := p.Plan(design.Vector{Layout: 0.3}, planNodes(), []string{"hero"})

	for _, target := range plan.TopTargets {
		if target.NodeID == "hero" {
			t.Error("locked node must not appear in topTargets")
		}
	}
	if !reflect.DeepEqual(plan.LockedNodeIDs, []string{"hero"}) {
		t.Errorf("LockedNodeIDs = %v, want [hero]", plan.LockedNodeIDs)
	}
}

func TestPlanner_CapsTargets(t *testing.T) {
	p := NewPlanner(PlanConfig{MaxTargets: 2})

	plan := p.Plan(design.Vector{Layout: 0.3}, planNodes(), nil)
	if len(plan.TopTargets) != 2 {
		t.Errorf("TopTargets = %d entries, want 2", len(plan.TopTargets))
	}
}

func TestPlanner_Defaults(t *testing.T) {
	p := NewPlanner(PlanConfig{})
	plan := p.Plan(design.Vector{}, nil, nil)

	wantBudgets := Budgets{MaxFilesChanged: 2, MaxLinesChanged: 80, MaxStructureChanges: 1}
	if plan.Budgets != wantBudgets {
		t.Errorf("Budgets = %+v, want %+v", plan.Budgets, wantBudgets)
	}
	if !reflect.DeepEqual(plan.DisallowedChanges, DefaultDisallowedChanges) {
		t.Errorf("DisallowedChanges = %v, want %v", plan.DisallowedChanges, DefaultDisallowedChanges)
	}
}

func TestPlanner_Deterministic(t *testing.T) {
	p := NewPlanner(PlanConfig{})
	prev := design.Vector{Layout: 0.5, Style: 0.5, A11y: 0.5, Perceptual: 0.5}

	a := p.Plan(prev, planNodes(), []string{"nav"})
	b := p.Plan(prev, planNodes(), []string{"nav"})

	if !reflect.DeepEqual(a, b) {
		t.Errorf("equal inputs must produce equal plans:\n%+v\n%+v", a, b)
	}
}
