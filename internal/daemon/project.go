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

package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/tombee/atelier/pkg/errors"
)

// Paths locates a project's on-disk state under the storage root.
//
//	projects/<id>/project.json
//	projects/<id>/workspace/
//	projects/<id>/artifacts/design-packs/<packId>/
//	projects/<id>/artifacts/snapshots/<runId>/
//	projects/<id>/snapshots/iter-<n>.tar.gz
//	projects/<id>/runtime/iter-<n>/workspace/
type Paths struct {
	Root string
}

func (p Paths) ProjectDir(projectID string) string {
	return filepath.Join(p.Root, "projects", projectID)
}

func (p Paths) WorkspaceDir(projectID string) string {
	return filepath.Join(p.ProjectDir(projectID), "workspace")
}

func (p Paths) ArtifactsDir(projectID string) string {
	return filepath.Join(p.ProjectDir(projectID), "artifacts")
}

func (p Paths) PackDir(projectID, packID string) string {
	return filepath.Join(p.ArtifactsDir(projectID), "design-packs", packID)
}

func (p Paths) StatePath(projectID string) string {
	return filepath.Join(p.ProjectDir(projectID), "project.json")
}

// ProjectState is the project.json contents: run-scoped status only.
type ProjectState struct {
	Status    string    `json:"status"` // "idle" or "running"
	RunID     string    `json:"runId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadState loads project.json. A missing file reads as idle.
func (p Paths) ReadState(projectID string) (ProjectState, error) {
	data, err := os.ReadFile(p.StatePath(projectID))
	if os.IsNotExist(err) {
		return ProjectState{Status: "idle"}, nil
	}
	if err != nil {
		return ProjectState{}, errors.Wrapf(err, "reading project state %s", projectID)
	}
	var state ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return ProjectState{}, errors.Wrapf(err, "decoding project state %s", projectID)
	}
	return state, nil
}

// WriteState replaces project.json atomically.
func (p Paths) WriteState(projectID string, state ProjectState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding project state")
	}
	if err := os.MkdirAll(p.ProjectDir(projectID), 0o755); err != nil {
		return errors.Wrapf(err, "creating project directory %s", projectID)
	}
	if err := renameio.WriteFile(p.StatePath(projectID), data, 0o644); err != nil {
		return errors.Wrapf(err, "writing project state %s", projectID)
	}
	return nil
}

// MarkRunning records an active run in project.json.
func (p Paths) MarkRunning(projectID, runID string) error {
	return p.WriteState(projectID, ProjectState{
		Status:    "running",
		RunID:     runID,
		StartedAt: time.Now().UTC(),
	})
}

// MarkIdle clears the active run from project.json.
func (p Paths) MarkIdle(projectID string) error {
	return p.WriteState(projectID, ProjectState{Status: "idle"})
}
