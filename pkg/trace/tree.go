package trace

import (
	"regexp"
	"strconv"
	"time"
)

// Node is one step in the run's progress tree. Nodes are owned by the
// tree that holds them; subscribers receive deep copies.
type Node struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	StepKey    string     `json:"stepKey,omitempty"`
	Title      string     `json:"title,omitempty"`
	Status     Status     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Score      *float64   `json:"score,omitempty"`
	Decision   string     `json:"decision,omitempty"`
	IsBest     bool       `json:"isBest,omitempty"`
	FocusArea  string     `json:"focusArea,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	Children   []*Node    `json:"children,omitempty"`
}

// Tree assembles nodes from an event stream. Not safe for concurrent
// use; the bus serializes access.
type Tree struct {
	Root  *Node
	index map[string]*Node
}

// NewTree creates a tree with a pending root node.
func NewTree(title string) *Tree {
	root := &Node{ID: RootNodeID, Title: title, Status: StatusPending}
	return &Tree{
		Root:  root,
		index: map[string]*Node{RootNodeID: root},
	}
}

// Find returns the node with the given id, or nil.
func (t *Tree) Find(id string) *Node {
	return t.index[id]
}

// Apply folds one event into the tree. Unknown nodes are created on
// nodeCreated and nodeStarted; other event types for unknown nodes are
// dropped (the event stream is ordered, so this only happens when a
// buffer was truncated).
func (t *Tree) Apply(ev Event) {
	node := t.index[ev.NodeID]
	if node == nil {
		if ev.Type != EventNodeCreated && ev.Type != EventNodeStarted {
			return
		}
		node = t.insert(ev)
	}

	ts := ev.TS
	switch ev.Type {
	case EventNodeCreated:
		if ev.Payload.Title != "" {
			node.Title = ev.Payload.Title
		}
		if ev.Payload.StepKey != "" {
			node.StepKey = ev.Payload.StepKey
		}
		if ev.Payload.Status != "" {
			node.Status = ev.Payload.Status
		}

	case EventNodeStarted:
		node.Status = StatusRunning
		node.StartedAt = &ts
		if ev.Payload.Title != "" {
			node.Title = ev.Payload.Title
		}
		if ev.Payload.StepKey != "" {
			node.StepKey = ev.Payload.StepKey
		}

	case EventNodeProgress:
		if ev.Payload.Message != "" {
			node.Message = ev.Payload.Message
		}
		if ev.Payload.FocusArea != "" {
			node.FocusArea = ev.Payload.FocusArea
		}

	case EventNodeFinished:
		node.Status = StatusSuccess
		if ev.Payload.Status != "" {
			node.Status = ev.Payload.Status
		}
		node.FinishedAt = &ts
		if ev.Payload.Message != "" {
			node.Message = ev.Payload.Message
		}
		if ev.Payload.Score != nil {
			s := *ev.Payload.Score
			node.Score = &s
		}
		if ev.Payload.Decision != "" {
			node.Decision = ev.Payload.Decision
		}
		if ev.Payload.IsBest != nil {
			node.IsBest = *ev.Payload.IsBest
			if node.IsBest {
				t.clearBestExcept(node.ID)
			}
		}

	case EventNodeFailed:
		node.Status = StatusError
		node.FinishedAt = &ts
		if ev.Payload.Message != "" {
			node.Message = ev.Payload.Message
		}

	case EventArtifactAdded:
		if ev.Payload.Artifact != nil {
			node.Artifacts = append(node.Artifacts, *ev.Payload.Artifact)
		}
	}
}

// insert creates the event's node under its parent, creating missing
// ancestors along the id path so out-of-order creation cannot orphan
// a subtree.
func (t *Tree) insert(ev Event) *Node {
	parentID := ev.Parent()
	parent := t.index[parentID]
	if parent == nil && parentID != "" {
		parent = t.insert(Event{NodeID: parentID, Type: EventNodeCreated})
	}
	if parent == nil {
		parent = t.Root
	}

	node := &Node{
		ID:       ev.NodeID,
		ParentID: parent.ID,
		Status:   StatusPending,
	}
	parent.Children = append(parent.Children, node)
	t.index[ev.NodeID] = node
	return node
}

// clearBestExcept enforces the single-isBest invariant across
// iteration nodes.
func (t *Tree) clearBestExcept(keepID string) {
	for _, child := range t.Root.Children {
		if child.ID != keepID && child.IsBest {
			child.IsBest = false
		}
	}
}

var iterIDPattern = regexp.MustCompile(`^root-iter(\d+)$`)

// BestIteration returns the index of the iteration node currently
// flagged isBest, or -1 when none is.
func (t *Tree) BestIteration() int {
	for _, child := range t.Root.Children {
		if !child.IsBest {
			continue
		}
		m := iterIDPattern.FindStringSubmatch(child.ID)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return idx
	}
	return -1
}

// Clone returns a deep copy of the tree's nodes for external
// consumption.
func (t *Tree) Clone() *Node {
	return cloneNode(t.Root)
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.StartedAt != nil {
		ts := *n.StartedAt
		out.StartedAt = &ts
	}
	if n.FinishedAt != nil {
		ts := *n.FinishedAt
		out.FinishedAt = &ts
	}
	if n.Score != nil {
		s := *n.Score
		out.Score = &s
	}
	if n.Artifacts != nil {
		out.Artifacts = append([]Artifact(nil), n.Artifacts...)
	}
	out.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		out.Children[i] = cloneNode(child)
	}
	return &out
}
