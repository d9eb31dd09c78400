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

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tombee/atelier/internal/capture"
	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/score"
)

// promptContext carries everything one iteration's prompt draws on.
type promptContext struct {
	Target       design.Target
	Nodes        []design.Node
	Iteration    int
	WorkspaceDir string

	// PrevScore is nil on the first iteration.
	PrevScore *design.Vector

	// Plan is nil on the first iteration.
	Plan *score.Plan

	// Overflow is the previous iteration's report; may be nil.
	Overflow *capture.Report
}

// buildPrompt renders the structured code-gen prompt. The layout is a
// fixed sequence of sections; the provider relies on the <files>
// response contract stated at the end.
func buildPrompt(pc promptContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Implement the screen %q served at route %s.\n", pc.Target.TargetID, pc.Target.Route)
	if hint := pc.Target.Entry.FileHint; hint != "" {
		fmt.Fprintf(&b, "The entry component lives in %s.\n", hint)
	}
	fmt.Fprintf(&b, "Iteration %d.\n\n", pc.Iteration)

	b.WriteString("## Design nodes\n")
	for i := range pc.Nodes {
		b.WriteString("- ")
		b.WriteString(pc.Nodes[i].Summary())
		b.WriteByte('\n')
	}

	if files := workspaceListing(pc.WorkspaceDir); len(files) > 0 {
		b.WriteString("\n## Existing source files\n")
		for _, f := range files {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteByte('\n')
		}
	}

	if pc.PrevScore != nil {
		fmt.Fprintf(&b, "\n## Previous score\n%s\n", pc.PrevScore.String())
	}

	if pc.Plan != nil {
		fmt.Fprintf(&b, "\n## Patch plan\nFocus on the %s dimension.\n", pc.Plan.FocusArea)
		for _, t := range pc.Plan.TopTargets {
			fmt.Fprintf(&b, "- improve node %s (severity %.2f)\n", t.NodeID, t.Severity)
		}
		fmt.Fprintf(&b, "Budgets: at most %d files, %d lines, %d structural change(s).\n",
			pc.Plan.Budgets.MaxFilesChanged, pc.Plan.Budgets.MaxLinesChanged, pc.Plan.Budgets.MaxStructureChanges)
		if len(pc.Plan.DisallowedChanges) > 0 {
			fmt.Fprintf(&b, "Do not change: %s.\n", strings.Join(pc.Plan.DisallowedChanges, ", "))
		}
		if len(pc.Plan.LockedNodeIDs) > 0 {
			fmt.Fprintf(&b, "These nodes are locked, leave their markup untouched: %s.\n",
				strings.Join(pc.Plan.LockedNodeIDs, ", "))
		}
	}

	if pc.Overflow != nil && len(pc.Overflow.Offenders) > 0 {
		fmt.Fprintf(&b, "\n## Horizontal overflow at %s\n", pc.Overflow.BreakpointID)
		for _, o := range pc.Overflow.Top(capture.MaxForwardedOffenders) {
			fmt.Fprintf(&b, "- %s overflows by %dpx", o.Selector, o.Delta)
			if o.FigmaNodeID != "" {
				fmt.Fprintf(&b, " (figma node %s)", o.FigmaNodeID)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nRespond with a single <files> block containing <file path=\"...\"> entries. " +
		"Paths are relative to the workspace and must stay under src/.\n")
	return b.String()
}

// workspaceListing returns the workspace's source files relative to the
// root, sorted, dependency and build trees skipped. Contents are not
// inlined: the provider gets the shape of the project, not its bulk.
func workspaceListing(dir string) []string {
	if dir == "" {
		return nil
	}
	skip := map[string]bool{"node_modules": true, ".next": true, ".git": true, "dist": true, "build": true}

	var out []string
	filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if skip[info.Name()] && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(dir, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}
