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

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/atelier/pkg/trace"
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBest    = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	styleMeta    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newStatusCommand(addr *string, jsonOut *bool) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "status <projectId>",
		Short: "Show the project's current run tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(*addr)
			tree, status, err := client.TraceTree(args[0], settle)
			if err != nil {
				return err
			}

			if *jsonOut {
				data, err := json.MarshalIndent(map[string]any{
					"status": status,
					"tree":   tree.Root,
				}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			color := term.IsTerminal(int(os.Stdout.Fd()))
			cmd.Printf("project %s: %s\n", args[0], status)
			cmd.Print(renderTree(tree.Root, "", color))
			return nil
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", 700*time.Millisecond, "How long to wait for the stream to go quiet")
	return cmd
}

// renderTree formats the run tree one node per line, indented by depth.
func renderTree(node *trace.Node, indent string, color bool) string {
	var b strings.Builder
	writeNode(&b, node, indent, color)
	return b.String()
}

func writeNode(b *strings.Builder, node *trace.Node, indent string, color bool) {
	glyph, style := statusGlyph(node.Status)

	title := node.Title
	if title == "" {
		title = node.ID
	}

	line := fmt.Sprintf("%s%s %s", indent, glyph, title)
	if color {
		line = fmt.Sprintf("%s%s %s", indent, style.Render(glyph), title)
	}

	var meta []string
	if node.Score != nil {
		meta = append(meta, fmt.Sprintf("score %.3f", *node.Score))
	}
	if node.Decision != "" {
		meta = append(meta, node.Decision)
	}
	if node.IsBest {
		if color {
			meta = append(meta, styleBest.Render("best"))
		} else {
			meta = append(meta, "best")
		}
	}
	if node.Message != "" && node.Status == trace.StatusError {
		meta = append(meta, node.Message)
	}
	if len(meta) > 0 {
		suffix := "(" + strings.Join(meta, ", ") + ")"
		if color {
			suffix = styleMeta.Render(suffix)
		}
		line += " " + suffix
	}

	b.WriteString(line)
	b.WriteString("\n")

	for _, child := range node.Children {
		writeNode(b, child, indent+"  ", color)
	}
}

func statusGlyph(status trace.Status) (string, lipgloss.Style) {
	switch status {
	case trace.StatusSuccess:
		return "✓", styleSuccess
	case trace.StatusError:
		return "✗", styleError
	case trace.StatusRunning:
		return "●", styleRunning
	default:
		return "○", stylePending
	}
}
