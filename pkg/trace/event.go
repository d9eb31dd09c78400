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

// Package trace models run progress as a growing tree of step nodes,
// assembled from an append-only stream of agent events, and fans both
// out to project-scoped subscribers. Late subscribers replay the
// buffered event sequence before receiving live events.
package trace

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a trace transition.
type EventType string

// Event types.
const (
	EventNodeCreated   EventType = "nodeCreated"
	EventNodeStarted   EventType = "nodeStarted"
	EventNodeProgress  EventType = "nodeProgress"
	EventNodeFinished  EventType = "nodeFinished"
	EventNodeFailed    EventType = "nodeFailed"
	EventArtifactAdded EventType = "artifactAdded"
)

// Status is a node's lifecycle state.
type Status string

// Node statuses.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// RootNodeID is the id of every run tree's root node.
const RootNodeID = "root"

// Artifact is a file or report attached to a node.
type Artifact struct {
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Payload carries the mutable fields an event applies to its node.
// Every field is optional; absent fields leave the node untouched.
type Payload struct {
	StepKey     string    `json:"stepKey,omitempty"`
	Title       string    `json:"title,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	ProgressPct *int      `json:"progressPct,omitempty"`
	Score       *float64  `json:"score,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	IsBest      *bool     `json:"isBest,omitempty"`
	FocusArea   string    `json:"focusArea,omitempty"`
	Artifact    *Artifact `json:"artifact,omitempty"`
}

// Event is one immutable trace transition.
type Event struct {
	EventID   string    `json:"eventId"`
	ProjectID string    `json:"projectId"`
	PackID    string    `json:"packId,omitempty"`
	NodeID    string    `json:"nodeId"`

	// ParentID locates the node's parent explicitly. When empty, the
	// parent is derived from NodeID by stripping the last "-" segment.
	ParentID string `json:"parentId,omitempty"`

	Type    EventType `json:"type"`
	TS      time.Time `json:"ts"`
	Payload Payload   `json:"payload"`
}

// NewEvent builds an event with a fresh id and a UTC timestamp.
func NewEvent(projectID, nodeID string, typ EventType, payload Payload) Event {
	return Event{
		EventID:   uuid.New().String(),
		ProjectID: projectID,
		NodeID:    nodeID,
		Type:      typ,
		TS:        time.Now().UTC(),
		Payload:   payload,
	}
}

// Parent returns the event's parent node id: the explicit ParentID when
// set, otherwise the NodeID with its last "-" segment stripped. The
// root node has no parent.
func (e Event) Parent() string {
	if e.ParentID != "" {
		return e.ParentID
	}
	return ParentOf(e.NodeID)
}

// ParentOf derives a parent id from an id-encoded node path.
// "root-iter2-screenshot" parents to "root-iter2"; "root" to "".
func ParentOf(nodeID string) string {
	idx := strings.LastIndex(nodeID, "-")
	if idx < 0 {
		return ""
	}
	return nodeID[:idx]
}

// IterationNodeID returns the id of an iteration node.
func IterationNodeID(iteration int) string {
	return RootNodeID + "-iter" + strconv.Itoa(iteration)
}

// StepNodeID returns the id of a pipeline step node under an iteration.
func StepNodeID(iteration int, step string) string {
	return IterationNodeID(iteration) + "-" + step
}
