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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/google/renameio"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/atelier/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage atelier configuration",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			if path == "" {
				var err error
				if path, err = config.Path(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			threshold := strconv.FormatFloat(cfg.Stop.Threshold, 'f', -1, 64)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Storage root").
						Description("Where projects, workspaces and snapshots live").
						Value(&cfg.Storage.Root),
					huh.NewInput().
						Title("Listen address").
						Value(&cfg.Listen.Addr),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Code-gen endpoint").
						Description("HTTP endpoint of the code generation provider").
						Value(&cfg.Provider.CodegenEndpoint),
					huh.NewInput().
						Title("Scorer endpoint").
						Description("HTTP endpoint of the vision scoring provider").
						Value(&cfg.Provider.ScorerEndpoint),
					huh.NewInput().
						Title("Acceptance threshold").
						Value(&threshold).
						Validate(func(s string) error {
							v, err := strconv.ParseFloat(s, 64)
							if err != nil || v <= 0 || v > 1 {
								return fmt.Errorf("must be a number in (0, 1]")
							}
							return nil
						}),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
			cfg.Stop.Threshold, _ = strconv.ParseFloat(threshold, 64)

			if err := cfg.Validate(); err != nil {
				return err
			}
			return writeConfig(path, cfg)
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Config file path (default: XDG config dir)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
