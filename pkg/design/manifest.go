// Package design defines the design-pack data model: the manifest that
// declares targets, breakpoints and run defaults, the design IR that
// describes the intended UI node by node, and the score vectors produced
// when rendered output is compared against pack baselines.
//
// A pack is an immutable input to refinement runs. Everything in this
// package is plain data with validation; behavior lives in the engine.
package design

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/atelier/pkg/errors"
)

// SchemaVersion is the manifest and IR schema version this engine reads.
const SchemaVersion = "1.0"

// Manifest declares what a design pack contains and how runs against it
// should behave by default.
type Manifest struct {
	SchemaVersion string       `json:"schemaVersion"`
	ProjectName   string       `json:"projectName"`
	Targets       []Target     `json:"targets"`
	Breakpoints   []Breakpoint `json:"breakpoints"`
	States        []ScreenState `json:"states,omitempty"`
	RunDefaults   RunDefaults  `json:"runDefaults"`
}

// Target is a screen or route the pack describes.
type Target struct {
	TargetID string `json:"targetId"`
	Route    string `json:"route"`
	Entry    Entry  `json:"entry"`
}

// Entry locates the source entry point for a target.
type Entry struct {
	// Type is the entry kind; only "route" is defined today.
	Type string `json:"type"`

	// FileHint suggests which source file implements the target.
	FileHint string `json:"fileHint,omitempty"`
}

// Breakpoint is a viewport configuration captures and scores run at.
type Breakpoint struct {
	BreakpointID      string  `json:"breakpointId"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty"`
}

// ScreenState names a UI state baselines exist for (e.g., "default", "empty").
type ScreenState struct {
	StateID string `json:"stateId"`
}

// RunDefaults configure a run when the caller does not override them.
type RunDefaults struct {
	TargetID      string  `json:"targetId"`
	Threshold     float64 `json:"threshold,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
}

// Default run parameters applied by normalize().
const (
	DefaultThreshold     = 0.92
	DefaultMaxIterations = 10
)

// LoadManifest reads and validates a manifest.json file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errors.ValidationError{
			Field:      "manifest",
			Message:    fmt.Sprintf("invalid JSON: %v", err),
			Suggestion: "regenerate or repair the design pack",
		}
	}

	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// normalize fills schema defaults in place.
func (m *Manifest) normalize() {
	for i := range m.Breakpoints {
		if m.Breakpoints[i].DeviceScaleFactor == 0 {
			m.Breakpoints[i].DeviceScaleFactor = 1
		}
	}
	if m.RunDefaults.Threshold == 0 {
		m.RunDefaults.Threshold = DefaultThreshold
	}
	if m.RunDefaults.MaxIterations == 0 {
		m.RunDefaults.MaxIterations = DefaultMaxIterations
	}
	if len(m.States) == 0 {
		m.States = []ScreenState{{StateID: "default"}}
	}
}

// Validate checks the manifest against schema constraints.
func (m *Manifest) Validate() error {
	if m.SchemaVersion != SchemaVersion {
		return &errors.ValidationError{
			Field:      "schemaVersion",
			Message:    fmt.Sprintf("unsupported schema version %q", m.SchemaVersion),
			Suggestion: fmt.Sprintf("this engine reads schema version %s", SchemaVersion),
		}
	}

	if len(m.Targets) == 0 {
		return &errors.ValidationError{
			Field:      "targets",
			Message:    "at least one target is required",
			Suggestion: "add a target entry for each screen in the pack",
		}
	}

	targetIDs := make(map[string]bool)
	for _, t := range m.Targets {
		if t.TargetID == "" {
			return &errors.ValidationError{
				Field:   "targets.targetId",
				Message: "target id is required",
			}
		}
		if targetIDs[t.TargetID] {
			return &errors.ValidationError{
				Field:   "targets.targetId",
				Message: fmt.Sprintf("duplicate target id: %s", t.TargetID),
			}
		}
		targetIDs[t.TargetID] = true

		if t.Route == "" {
			return &errors.ValidationError{
				Field:      "targets.route",
				Message:    fmt.Sprintf("target %s has no route", t.TargetID),
				Suggestion: "every target needs the route the preview serves it on",
			}
		}
		if t.Entry.Type != "" && t.Entry.Type != "route" {
			return &errors.ValidationError{
				Field:   "targets.entry.type",
				Message: fmt.Sprintf("unknown entry type %q on target %s", t.Entry.Type, t.TargetID),
			}
		}
	}

	if len(m.Breakpoints) == 0 {
		return &errors.ValidationError{
			Field:      "breakpoints",
			Message:    "at least one breakpoint is required",
			Suggestion: "add a breakpoints entry, e.g. desktop 1440x900",
		}
	}

	bpIDs := make(map[string]bool)
	for _, bp := range m.Breakpoints {
		if bp.BreakpointID == "" {
			return &errors.ValidationError{
				Field:   "breakpoints.breakpointId",
				Message: "breakpoint id is required",
			}
		}
		if bpIDs[bp.BreakpointID] {
			return &errors.ValidationError{
				Field:   "breakpoints.breakpointId",
				Message: fmt.Sprintf("duplicate breakpoint id: %s", bp.BreakpointID),
			}
		}
		bpIDs[bp.BreakpointID] = true

		if bp.Width <= 0 || bp.Height <= 0 {
			return &errors.ValidationError{
				Field:   "breakpoints",
				Message: fmt.Sprintf("breakpoint %s has non-positive dimensions", bp.BreakpointID),
			}
		}
	}

	if m.RunDefaults.TargetID == "" {
		return &errors.ValidationError{
			Field:      "runDefaults.targetId",
			Message:    "run default target is required",
			Suggestion: "set runDefaults.targetId to one of the pack's targets",
		}
	}
	if !targetIDs[m.RunDefaults.TargetID] {
		return &errors.ValidationError{
			Field:   "runDefaults.targetId",
			Message: fmt.Sprintf("run default target %q is not declared in targets", m.RunDefaults.TargetID),
		}
	}
	if m.RunDefaults.Threshold < 0 || m.RunDefaults.Threshold > 1 {
		return &errors.ValidationError{
			Field:   "runDefaults.threshold",
			Message: "threshold must be within [0, 1]",
		}
	}
	if m.RunDefaults.MaxIterations < 1 {
		return &errors.ValidationError{
			Field:   "runDefaults.maxIterations",
			Message: "maxIterations must be at least 1",
		}
	}

	return nil
}

// TargetByID returns the target with the given id.
func (m *Manifest) TargetByID(id string) (*Target, bool) {
	for i := range m.Targets {
		if m.Targets[i].TargetID == id {
			return &m.Targets[i], true
		}
	}
	return nil, false
}

// BreakpointByID returns the breakpoint with the given id.
func (m *Manifest) BreakpointByID(id string) (*Breakpoint, bool) {
	for i := range m.Breakpoints {
		if m.Breakpoints[i].BreakpointID == id {
			return &m.Breakpoints[i], true
		}
	}
	return nil, false
}

// BaselineRelPath returns the pack-relative path of a baseline image.
func BaselineRelPath(targetID, breakpointID, stateID string) string {
	return filepath.Join("baselines", targetID, breakpointID, stateID+".png")
}
