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

// Package snapshot freezes workspace state per iteration as compressed
// archives, extracts frozen state into isolated runtime directories for
// historical previews, and restores it over a live workspace when a run
// rolls back a rejected iteration.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/tombee/atelier/internal/workspace"
	"github.com/tombee/atelier/pkg/errors"
)

// DepsDirName is the dependency directory snapshots never include and
// restore never touches. Reinstalling after each rollback would dwarf
// the cost of every other step.
const DepsDirName = "node_modules"

// DefaultExcludes are the workspace subtrees left out of archives:
// dependencies and build caches, all reproducible from the sources.
var DefaultExcludes = []string{
	DepsDirName + "/**",
	".next/**",
	"dist/**",
	"build/**",
	".turbo/**",
	".cache/**",
}

// Meta is the sidecar describing one snapshot.
type Meta struct {
	Iteration   int       `json:"iteration"`
	CreatedAt   time.Time `json:"createdAt"`
	ArchivePath string    `json:"archivePath"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// Store manages per-project snapshot archives under a storage root.
type Store struct {
	root     string
	excludes []string
	logger   *slog.Logger
}

// NewStore creates a snapshot store rooted at the storage directory.
// Nil excludes selects DefaultExcludes.
func NewStore(root string, excludes []string, logger *slog.Logger) *Store {
	if excludes == nil {
		excludes = DefaultExcludes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, excludes: excludes, logger: logger}
}

func (s *Store) snapshotsDir(projectID string) string {
	return filepath.Join(s.root, "projects", projectID, "snapshots")
}

func (s *Store) archivePath(projectID string, iteration int) string {
	return filepath.Join(s.snapshotsDir(projectID), fmt.Sprintf("iter-%d.tar.gz", iteration))
}

func (s *Store) metaPath(projectID string, iteration int) string {
	return filepath.Join(s.snapshotsDir(projectID), fmt.Sprintf("iter-%d.json", iteration))
}

// RuntimeDir returns the directory a historical preview serves the
// iteration's workspace from.
func (s *Store) RuntimeDir(projectID string, iteration int) string {
	return filepath.Join(s.root, "projects", projectID, "runtime", fmt.Sprintf("iter-%d", iteration), "workspace")
}

// Create archives the workspace for the iteration and writes the
// metadata sidecar. Creating the same iteration twice overwrites the
// previous archive.
func (s *Store) Create(ctx context.Context, projectID string, iteration int, workspaceDir string) (*Meta, error) {
	if err := os.MkdirAll(s.snapshotsDir(projectID), 0o755); err != nil {
		return nil, s.wrap("create", projectID, iteration, "", err)
	}

	dest := s.archivePath(projectID, iteration)
	size, err := writeArchive(ctx, workspaceDir, dest, s.excludes)
	if err != nil {
		return nil, s.wrap("create", projectID, iteration, dest, err)
	}

	meta := &Meta{
		Iteration:   iteration,
		CreatedAt:   time.Now().UTC(),
		ArchivePath: dest,
		SizeBytes:   size,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, s.wrap("create", projectID, iteration, dest, err)
	}
	if err := renameio.WriteFile(s.metaPath(projectID, iteration), data, 0o644); err != nil {
		return nil, s.wrap("create", projectID, iteration, dest, err)
	}

	s.logger.Debug("snapshot created",
		"project_id", projectID, "iteration", iteration, "size_bytes", size)
	return meta, nil
}

// Has reports whether an archive exists for the iteration.
func (s *Store) Has(projectID string, iteration int) bool {
	_, err := os.Stat(s.archivePath(projectID, iteration))
	return err == nil
}

// List returns metadata for every snapshot of the project, sorted by
// iteration ascending. Corrupt sidecars are skipped.
func (s *Store) List(projectID string) ([]Meta, error) {
	entries, err := os.ReadDir(s.snapshotsDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing snapshots for %s", projectID)
	}

	var metas []Meta
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "iter-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.snapshotsDir(projectID), name))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("skipping corrupt snapshot sidecar",
				"project_id", projectID, "file", name, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Iteration < metas[j].Iteration })
	return metas, nil
}

// Extract unpacks the iteration's archive into its runtime directory
// and returns the directory. Idempotent: an existing runtime directory
// is returned as is.
func (s *Store) Extract(ctx context.Context, projectID string, iteration int) (string, error) {
	dir := s.RuntimeDir(projectID, iteration)
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	archive := s.archivePath(projectID, iteration)
	if _, err := os.Stat(archive); err != nil {
		return "", &errors.NotFoundError{
			Resource: "snapshot",
			ID:       fmt.Sprintf("%s/iter-%d", projectID, iteration),
		}
	}

	// Extract into a staging directory first so a failed extract does
	// not leave a half-populated runtime dir that Extract would then
	// treat as complete.
	staging := dir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return "", s.wrap("extract", projectID, iteration, staging, err)
	}
	if err := extractArchive(ctx, archive, staging); err != nil {
		_ = os.RemoveAll(staging)
		return "", s.wrap("extract", projectID, iteration, archive, err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", s.wrap("extract", projectID, iteration, dir, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return "", s.wrap("extract", projectID, iteration, dir, err)
	}
	return dir, nil
}

// Restore lays the iteration's snapshot over the workspace: every
// top-level entry except the dependency directory is replaced by the
// archived contents.
func (s *Store) Restore(ctx context.Context, projectID string, iteration int, workspaceDir string) error {
	extracted, err := s.Extract(ctx, projectID, iteration)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return s.wrap("restore", projectID, iteration, workspaceDir, err)
	}
	for _, entry := range entries {
		if entry.Name() == DepsDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workspaceDir, entry.Name())); err != nil {
			return s.wrap("restore", projectID, iteration, entry.Name(), err)
		}
	}

	if err := workspace.CopyDir(extracted, workspaceDir); err != nil {
		return s.wrap("restore", projectID, iteration, workspaceDir, err)
	}

	s.logger.Info("workspace restored from snapshot",
		"project_id", projectID, "iteration", iteration)
	return nil
}

// Cleanup removes the iteration's extracted runtime directory.
func (s *Store) Cleanup(projectID string, iteration int) error {
	dir := filepath.Dir(s.RuntimeDir(projectID, iteration))
	if err := os.RemoveAll(dir); err != nil {
		return s.wrap("cleanup", projectID, iteration, dir, err)
	}
	return nil
}

// Latest returns the highest iteration with a snapshot, or -1.
func (s *Store) Latest(projectID string) int {
	metas, err := s.List(projectID)
	if err != nil || len(metas) == 0 {
		return -1
	}
	return metas[len(metas)-1].Iteration
}

func (s *Store) wrap(op, projectID string, iteration int, path string, err error) error {
	return &errors.SnapshotError{
		Op:        op,
		ProjectID: projectID,
		Iteration: iteration,
		Path:      path,
		Cause:     err,
	}
}

// iterationFromName parses "iter-<n>.tar.gz" style names; used by gc
// tooling and tests.
func iterationFromName(name string) (int, bool) {
	name = strings.TrimPrefix(name, "iter-")
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		name = name[:idx]
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return n, true
}
