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

// Lock manager defaults. A dimension deficit is 1 minus its aggregate
// score; locking starts once both layout and style deficits are small.
const (
	DefaultLayoutLockThreshold = 0.15
	DefaultStyleLockThreshold  = 0.15
)

// LockManager maintains the monotonically growing set of IR node ids the
// code-gen provider must not modify. A node locks once its surroundings
// score well enough that touching it again risks more than it gains.
type LockManager struct {
	layoutThreshold float64
	styleThreshold  float64
	locked          map[string]struct{}
}

// NewLockManager creates a lock manager. Non-positive thresholds select
// the defaults.
func NewLockManager(layoutThreshold, styleThreshold float64) *LockManager {
	if layoutThreshold <= 0 {
		layoutThreshold = DefaultLayoutLockThreshold
	}
	if styleThreshold <= 0 {
		styleThreshold = DefaultStyleLockThreshold
	}
	return &LockManager{
		layoutThreshold: layoutThreshold,
		styleThreshold:  styleThreshold,
		locked:          make(map[string]struct{}),
	}
}

// Update inspects the aggregate score and locks qualifying nodes.
// It returns the ids locked by this call, sorted. Nodes lock iff the
// layout and style deficits are within the thresholds, the node is
// critical, and it declares both a bounding box and at least one style
// target. Locks never release within a run.
func (m *LockManager) Update(aggregate design.Vector, nodes []design.Node) []string {
	if 1-aggregate.Layout > m.layoutThreshold+floatSlack || 1-aggregate.Style > m.styleThreshold+floatSlack {
		return nil
	}

	var added []string
	for i := range nodes {
		n := &nodes[i]
		if _, done := m.locked[n.NodeID]; done {
			continue
		}
		if n.MatchImportance != design.ImportanceCritical {
			continue
		}
		if !n.HasBBox() || n.StyleTargetCount() == 0 {
			continue
		}
		m.locked[n.NodeID] = struct{}{}
		added = append(added, n.NodeID)
	}

	sort.Strings(added)
	return added
}

// IsLocked reports whether the node id is in the lock set.
func (m *LockManager) IsLocked(nodeID string) bool {
	_, ok := m.locked[nodeID]
	return ok
}

// Locked returns the full lock set, sorted.
func (m *LockManager) Locked() []string {
	ids := make([]string, 0, len(m.locked))
	for id := range m.locked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the lock set size.
func (m *LockManager) Count() int {
	return len(m.locked)
}
