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

// Package cli implements the atelier command: a thin client for the
// atelierd daemon plus local artifact inspection.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultDaemonAddr is where atelierd listens unless configured
// otherwise.
const DefaultDaemonAddr = "http://127.0.0.1:7333"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build metadata (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for atelier.
func NewRootCommand() *cobra.Command {
	var addr string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "atelier",
		Short: "Atelier - iterative design-to-code refinement",
		Long: `Atelier drives refinement runs against the atelierd daemon: it
generates code for a design target, previews it, scores the result
against the design baselines, and iterates until the score threshold
or a stop rule is reached.

Run 'atelier config init' to create a configuration interactively.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Accept underscore spellings (--max_iterations) alongside dashes.
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().StringVar(&addr, "addr", DefaultDaemonAddr, "Daemon address")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newRunCommand(&addr, &jsonOut),
		newStatusCommand(&addr, &jsonOut),
		newInspectCommand(&jsonOut),
		newConfigCommand(),
		newVersionCommand(&jsonOut),
	)
	return cmd
}
