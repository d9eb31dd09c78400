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

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/renameio"

	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

// overflowDeltaThreshold ignores sub-pixel rounding noise between
// scrollWidth and clientWidth.
const overflowDeltaThreshold = 2

// MaxForwardedOffenders caps how many offenders feed the next prompt.
const MaxForwardedOffenders = 10

// Offender is one element whose content escapes its box horizontally.
type Offender struct {
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	ScrollWidth int    `json:"scrollWidth"`
	ClientWidth int    `json:"clientWidth"`
	Delta       int    `json:"delta"`
	FigmaNodeID string `json:"figmaNodeId,omitempty"`
}

// Report is the overflow scan result for one iteration.
type Report struct {
	BreakpointID string     `json:"breakpointId"`
	Iteration    int        `json:"iteration"`
	ScannedAt    time.Time  `json:"scannedAt"`
	Offenders    []Offender `json:"offenders"`
}

// Top returns the n worst offenders by delta. The report's order is
// preserved on disk; only the forwarded slice is ranked.
func (r *Report) Top(n int) []Offender {
	ranked := make([]Offender, len(r.Offenders))
	copy(ranked, r.Offenders)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Delta > ranked[j].Delta })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// overflowScript walks the rendered tree under the app roots and
// collects elements that scroll horizontally without declaring it.
var overflowScript = fmt.Sprintf(overflowScriptTemplate, overflowDeltaThreshold)

const overflowScriptTemplate = `(() => {
  const roots = document.querySelectorAll('#__next, #root, body');
  const seen = new Set();
  const out = [];
  const cssPath = (el) => {
    const parts = [];
    for (let node = el; node && node.nodeType === 1 && parts.length < 6; node = node.parentElement) {
      let part = node.tagName.toLowerCase();
      if (node.id) { parts.unshift(part + '#' + node.id); break; }
      if (node.className && typeof node.className === 'string') {
        const cls = node.className.trim().split(/\s+/)[0];
        if (cls) part += '.' + cls;
      }
      parts.unshift(part);
    }
    return parts.join(' > ');
  };
  for (const root of roots) {
    for (const el of root.querySelectorAll('*')) {
      if (seen.has(el)) continue;
      seen.add(el);
      const delta = el.scrollWidth - el.clientWidth;
      if (delta <= %d) continue;
      if (getComputedStyle(el).overflowX !== 'visible') continue;
      out.push({
        selector: cssPath(el),
        tag: el.tagName.toLowerCase(),
        scrollWidth: el.scrollWidth,
        clientWidth: el.clientWidth,
        delta: delta,
        figmaNodeId: el.getAttribute('data-figma-node-id') || '',
      });
    }
  }
  return out;
})()`

// OverflowInspector scans a preview for horizontal overflow at one
// breakpoint, normally the run's primary one.
type OverflowInspector struct {
	ArtifactsRoot string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// NewOverflowInspector creates an inspector with the default timeout.
func NewOverflowInspector(artifactsRoot string, logger *slog.Logger) *OverflowInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverflowInspector{
		ArtifactsRoot: artifactsRoot,
		Timeout:       30 * time.Second,
		Logger:        logger,
	}
}

// ReportPath returns where an iteration's overflow report is stored.
func (o *OverflowInspector) ReportPath(runID string, iteration int) string {
	return filepath.Join(o.ArtifactsRoot, "snapshots", runID, fmt.Sprintf("iter-%d-overflow.json", iteration))
}

// Inspect runs the overflow scan against the preview and persists the
// report.
func (o *OverflowInspector) Inspect(ctx context.Context, runID string, iteration int, previewURL string, bp design.Breakpoint) (*Report, error) {
	c := &Capturer{Timeout: o.Timeout, Logger: o.Logger}
	browserCtx, cancel, err := c.newBrowserContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	scale := bp.DeviceScaleFactor
	if scale == 0 {
		scale = 1
	}

	var offenders []Offender
	err = chromedp.Run(browserCtx,
		chromedp.EmulateViewport(int64(bp.Width), int64(bp.Height), chromedp.EmulateScale(scale)),
		navigateAndAwaitIdle(previewURL),
		chromedp.Evaluate(overflowScript, &offenders),
	)
	if err != nil {
		return nil, &errors.CaptureError{
			Breakpoint: bp.BreakpointID,
			URL:        previewURL,
			Cause:      err,
		}
	}

	report := &Report{
		BreakpointID: bp.BreakpointID,
		Iteration:    iteration,
		ScannedAt:    time.Now().UTC(),
		Offenders:    offenders,
	}
	if err := o.writeReport(runID, report); err != nil {
		// The scan itself succeeded; a persistence failure should not
		// sink the iteration.
		o.Logger.Warn("failed to persist overflow report",
			"run_id", runID, "error", err)
	}
	return report, nil
}

func (o *OverflowInspector) writeReport(runID string, report *Report) error {
	if o.ArtifactsRoot == "" {
		return nil
	}
	path := o.ReportPath(runID, report.Iteration)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}
