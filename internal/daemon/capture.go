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
	"context"
	"log/slog"

	"github.com/tombee/atelier/internal/capture"
	"github.com/tombee/atelier/pkg/design"
)

// captureRouter implements the engine's capture interfaces over
// per-project artifact directories.
type captureRouter struct {
	paths  Paths
	logger *slog.Logger
}

func (c *captureRouter) Capture(ctx context.Context, projectID, runID, previewURL string, breakpoints []design.Breakpoint) ([]capture.Screenshot, error) {
	capturer := capture.NewCapturer(c.paths.ArtifactsDir(projectID), c.logger)
	return capturer.Capture(ctx, runID, previewURL, breakpoints)
}

func (c *captureRouter) Inspect(ctx context.Context, projectID, runID string, iteration int, previewURL string, bp design.Breakpoint) (*capture.Report, error) {
	inspector := capture.NewOverflowInspector(c.paths.ArtifactsDir(projectID), c.logger)
	return inspector.Inspect(ctx, runID, iteration, previewURL, bp)
}
