package design

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tombee/atelier/pkg/errors"
)

// Importance grades how much a node matters when scoring and planning.
type Importance string

// Node importance grades.
const (
	ImportanceCritical Importance = "critical"
	ImportanceNormal   Importance = "normal"
	ImportanceLow      Importance = "low"
)

// Weight returns the numeric weight used for severity ranking.
func (i Importance) Weight() float64 {
	switch i {
	case ImportanceCritical:
		return 1.0
	case ImportanceNormal:
		return 0.6
	case ImportanceLow:
		return 0.3
	default:
		return 0.6
	}
}

// IsValid reports whether the grade is one of the defined values.
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceCritical, ImportanceNormal, ImportanceLow:
		return true
	}
	return false
}

// IR is the design intermediate representation: per target, a flat list
// of nodes describing the intended layout, style and accessibility.
type IR struct {
	SchemaVersion string     `json:"schemaVersion"`
	Targets       []IRTarget `json:"targets"`
}

// IRTarget groups the nodes of one target.
type IRTarget struct {
	TargetID string `json:"targetId"`
	Nodes    []Node `json:"nodes"`
}

// Node describes one region of the intended UI.
type Node struct {
	NodeID          string            `json:"nodeId"`
	Name            string            `json:"name,omitempty"`
	MatchImportance Importance        `json:"matchImportance,omitempty"`
	ComponentMapping *ComponentMapping `json:"componentMapping,omitempty"`
	LayoutTargets   *LayoutTargets    `json:"layoutTargets,omitempty"`

	// StyleTargets maps CSS-ish property names to intended values.
	// Colors are "rgb(r,g,b)" strings.
	StyleTargets map[string]string `json:"styleTargets,omitempty"`

	A11yTargets *A11yTargets `json:"a11yTargets,omitempty"`
}

// ComponentMapping points a node at the component expected to render it.
type ComponentMapping struct {
	Component string                 `json:"component"`
	Props     map[string]interface{} `json:"props,omitempty"`
}

// LayoutTargets hold the intended bounding box and drift tolerances.
type LayoutTargets struct {
	BBox        BBox      `json:"bbox"`
	TolerancePx Tolerance `json:"tolerancePx,omitempty"`
}

// BBox is a bounding box in CSS pixels at the breakpoint's viewport.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Tolerance is the per-edge drift allowance in pixels.
type Tolerance struct {
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// Default drift tolerances applied when the IR omits them.
var defaultTolerance = Tolerance{X: 8, Y: 8, W: 10, H: 10}

// A11yTargets hold the intended accessible role and naming.
type A11yTargets struct {
	Role             string `json:"role,omitempty"`
	Name             string `json:"name,omitempty"`
	LabelledByNodeID string `json:"labelledByNodeId,omitempty"`
}

// LoadIR reads and validates a design-ir.json file.
func LoadIR(path string) (*IR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading design IR %s", path)
	}

	var ir IR
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, &errors.ValidationError{
			Field:      "designIR",
			Message:    fmt.Sprintf("invalid JSON: %v", err),
			Suggestion: "regenerate or repair the design pack",
		}
	}

	ir.normalize()
	if err := ir.Validate(); err != nil {
		return nil, err
	}
	return &ir, nil
}

// normalize fills schema defaults in place.
func (ir *IR) normalize() {
	for ti := range ir.Targets {
		for ni := range ir.Targets[ti].Nodes {
			n := &ir.Targets[ti].Nodes[ni]
			if n.MatchImportance == "" {
				n.MatchImportance = ImportanceNormal
			}
			if n.LayoutTargets != nil && n.LayoutTargets.TolerancePx == (Tolerance{}) {
				n.LayoutTargets.TolerancePx = defaultTolerance
			}
		}
	}
}

// Validate checks the IR against schema constraints.
func (ir *IR) Validate() error {
	if ir.SchemaVersion != SchemaVersion {
		return &errors.ValidationError{
			Field:   "schemaVersion",
			Message: fmt.Sprintf("unsupported schema version %q", ir.SchemaVersion),
		}
	}

	for _, target := range ir.Targets {
		if target.TargetID == "" {
			return &errors.ValidationError{
				Field:   "targets.targetId",
				Message: "IR target id is required",
			}
		}

		seen := make(map[string]bool)
		for _, node := range target.Nodes {
			if node.NodeID == "" {
				return &errors.ValidationError{
					Field:   "nodes.nodeId",
					Message: fmt.Sprintf("target %s has a node without an id", target.TargetID),
				}
			}
			if seen[node.NodeID] {
				return &errors.ValidationError{
					Field:   "nodes.nodeId",
					Message: fmt.Sprintf("duplicate node id %s in target %s", node.NodeID, target.TargetID),
				}
			}
			seen[node.NodeID] = true

			if !node.MatchImportance.IsValid() {
				return &errors.ValidationError{
					Field:   "nodes.matchImportance",
					Message: fmt.Sprintf("node %s has unknown importance %q", node.NodeID, node.MatchImportance),
				}
			}
		}
	}

	return nil
}

// NodesFor returns the node list of the given target, or nil.
func (ir *IR) NodesFor(targetID string) []Node {
	for _, t := range ir.Targets {
		if t.TargetID == targetID {
			return t.Nodes
		}
	}
	return nil
}

// HasBBox reports whether the node declares a layout bounding box.
func (n *Node) HasBBox() bool {
	return n.LayoutTargets != nil && (n.LayoutTargets.BBox.W > 0 || n.LayoutTargets.BBox.H > 0)
}

// StyleTargetCount returns the number of declared style targets.
func (n *Node) StyleTargetCount() int {
	return len(n.StyleTargets)
}

// HasA11yTarget reports whether any accessibility target is declared.
func (n *Node) HasA11yTarget() bool {
	return n.A11yTargets != nil &&
		(n.A11yTargets.Role != "" || n.A11yTargets.Name != "" || n.A11yTargets.LabelledByNodeID != "")
}

// Summary renders a compact one-line description used in provider prompts.
func (n *Node) Summary() string {
	s := n.NodeID
	if n.Name != "" {
		s = fmt.Sprintf("%s (%s)", s, n.Name)
	}
	s = fmt.Sprintf("%s importance=%s", s, n.MatchImportance)
	if n.HasBBox() {
		b := n.LayoutTargets.BBox
		s = fmt.Sprintf("%s bbox=[%g,%g %gx%g]", s, b.X, b.Y, b.W, b.H)
	}
	if len(n.StyleTargets) > 0 {
		s = fmt.Sprintf("%s styleTargets=%d", s, len(n.StyleTargets))
	}
	return s
}
