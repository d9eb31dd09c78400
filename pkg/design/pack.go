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

package design

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/atelier/pkg/errors"
)

// Pack is a loaded design pack: manifest, IR, and the directory holding
// baseline images. Packs are read-only inputs to runs.
type Pack struct {
	ID       string
	Dir      string
	Manifest *Manifest
	IR       *IR
}

// PackMeta is the sidecar written when a pack is imported.
type PackMeta struct {
	PackID     string    `json:"packId"`
	ImportedAt time.Time `json:"importedAt"`
}

// Pack file names inside an extracted pack directory.
const (
	ManifestFileName = "manifest.json"
	IRFileName       = "design-ir.json"
	PackMetaFileName = "pack-meta.json"
)

// LoadPack loads the manifest and IR from an extracted pack directory.
// The pack id is the directory base name.
func LoadPack(dir string) (*Pack, error) {
	manifest, err := LoadManifest(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, err
	}

	ir, err := LoadIR(filepath.Join(dir, IRFileName))
	if err != nil {
		return nil, err
	}

	return &Pack{
		ID:       filepath.Base(dir),
		Dir:      dir,
		Manifest: manifest,
		IR:       ir,
	}, nil
}

// BaselinePath returns the absolute path of a baseline image.
func (p *Pack) BaselinePath(targetID, breakpointID, stateID string) string {
	return filepath.Join(p.Dir, BaselineRelPath(targetID, breakpointID, stateID))
}

// Baseline reads a baseline image, keyed by target, breakpoint and state.
func (p *Pack) Baseline(targetID, breakpointID, stateID string) ([]byte, error) {
	path := p.BaselinePath(targetID, breakpointID, stateID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{
				Resource: "baseline",
				ID:       filepath.ToSlash(BaselineRelPath(targetID, breakpointID, stateID)),
			}
		}
		return nil, errors.Wrapf(err, "reading baseline %s", path)
	}
	return data, nil
}

// HasBaseline reports whether a baseline image exists for the key.
func (p *Pack) HasBaseline(targetID, breakpointID, stateID string) bool {
	_, err := os.Stat(p.BaselinePath(targetID, breakpointID, stateID))
	return err == nil
}

// WriteMeta writes the pack-meta.json sidecar next to the manifest.
func (p *Pack) WriteMeta(meta PackMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding pack meta")
	}
	return os.WriteFile(filepath.Join(p.Dir, PackMetaFileName), data, 0o644)
}
