// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package score

import (
	"sort"

	"github.com/tombee/atelier/pkg/design"
)

// Patch planner defaults.
const (
	DefaultMaxTargets          = 3
	DefaultMaxFilesChanged     = 2
	DefaultMaxLinesChanged     = 80
	DefaultMaxStructureChanges = 1
)

// DefaultDisallowedChanges lists the change classes the code-gen provider
// is told to avoid unless a plan explicitly allows them.
var DefaultDisallowedChanges = []string{"routing", "dependencies", "global styles"}

// Budgets bound how much one iteration is allowed to change.
type Budgets struct {
	MaxFilesChanged     int `json:"maxFilesChanged"`
	MaxLinesChanged     int `json:"maxLinesChanged"`
	MaxStructureChanges int `json:"maxStructureChanges"`
}

// PlanTarget is one node the next iteration should concentrate on.
type PlanTarget struct {
	NodeID   string  `json:"nodeId"`
	Name     string  `json:"name,omitempty"`
	Severity float64 `json:"severity"`
}

// Plan directs one iteration: which dimension to chase, which nodes to
// touch, and how much change is allowed.
type Plan struct {
	FocusArea         design.Dimension `json:"focusArea"`
	TopTargets        []PlanTarget     `json:"topTargets"`
	Budgets           Budgets          `json:"budgets"`
	DisallowedChanges []string         `json:"disallowedChanges"`
	LockedNodeIDs     []string         `json:"lockedNodeIds"`
}

// PlanConfig tunes the planner.
type PlanConfig struct {
	// MaxTargets caps the topTargets list.
	MaxTargets int

	// Budgets are copied into every plan.
	Budgets Budgets

	// DisallowedChanges are copied into every plan.
	DisallowedChanges []string

	// Weights rank dimension deficits when picking the focus area.
	Weights design.Weights
}

// Planner produces patch plans from the previous iteration's score.
type Planner struct {
	cfg PlanConfig
}

// NewPlanner creates a planner, filling zero config fields with defaults.
func NewPlanner(cfg PlanConfig) *Planner {
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = DefaultMaxTargets
	}
	if cfg.Budgets.MaxFilesChanged <= 0 {
		cfg.Budgets.MaxFilesChanged = DefaultMaxFilesChanged
	}
	if cfg.Budgets.MaxLinesChanged <= 0 {
		cfg.Budgets.MaxLinesChanged = DefaultMaxLinesChanged
	}
	if cfg.Budgets.MaxStructureChanges <= 0 {
		cfg.Budgets.MaxStructureChanges = DefaultMaxStructureChanges
	}
	if cfg.DisallowedChanges == nil {
		cfg.DisallowedChanges = append([]string(nil), DefaultDisallowedChanges...)
	}
	if !cfg.Weights.Valid() {
		cfg.Weights = design.DefaultWeights()
	}
	return &Planner{cfg: cfg}
}

// Plan builds the next iteration's plan from the previous score vector,
// the target's IR nodes, and the current lock set.
func (p *Planner) Plan(prev design.Vector, nodes []design.Node, lockedIDs []string) Plan {
	focus := p.focusArea(prev)

	locked := make(map[string]struct{}, len(lockedIDs))
	for _, id := range lockedIDs {
		locked[id] = struct{}{}
	}

	targets := make([]PlanTarget, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if _, skip := locked[n.NodeID]; skip {
			continue
		}
		severity := n.MatchImportance.Weight() * relevance(focus, n)
		targets = append(targets, PlanTarget{
			NodeID:   n.NodeID,
			Name:     n.Name,
			Severity: severity,
		})
	}

	// Stable keeps IR declaration order for equal severities, so equal
	// inputs always yield the same plan.
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Severity > targets[j].Severity
	})
	if len(targets) > p.cfg.MaxTargets {
		targets = targets[:p.cfg.MaxTargets]
	}

	return Plan{
		FocusArea:         focus,
		TopTargets:        targets,
		Budgets:           p.cfg.Budgets,
		DisallowedChanges: append([]string(nil), p.cfg.DisallowedChanges...),
		LockedNodeIDs:     append([]string(nil), lockedIDs...),
	}
}

// focusArea picks the dimension with the highest weighted deficit.
// Ties resolve to the earliest dimension in canonical order.
func (p *Planner) focusArea(prev design.Vector) design.Dimension {
	best := design.Dimensions[0]
	bestErr := -1.0
	for _, d := range design.Dimensions {
		weighted := p.cfg.Weights.Get(d) * (1 - prev.Get(d))
		if weighted > bestErr+floatSlack {
			best = d
			bestErr = weighted
		}
	}
	return best
}

// relevance grades how much a node matters for a focus dimension.
func relevance(focus design.Dimension, n *design.Node) float64 {
	switch focus {
	case design.DimLayout:
		if n.HasBBox() {
			return 1.0
		}
		return 0.3
	case design.DimStyle:
		count := float64(n.StyleTargetCount())
		if count > 4 {
			count = 4
		}
		return count / 4
	case design.DimA11y:
		if n.HasA11yTarget() {
			return 1.0
		}
		return 0.2
	case design.DimPerceptual:
		if n.MatchImportance == design.ImportanceCritical {
			return 1.0
		}
		return 0.5
	default:
		return 0
	}
}
