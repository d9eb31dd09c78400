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
	"time"

	"github.com/spf13/cobra"
)

func newRunCommand(addr *string, jsonOut *bool) *cobra.Command {
	var (
		targetID      string
		threshold     float64
		maxIterations int
		stop          bool
		wait          bool
	)

	cmd := &cobra.Command{
		Use:   "run <projectId> [packId]",
		Short: "Start or stop a refinement run",
		Long: `Start a refinement run for a project using an imported design pack,
or stop the active run with --stop.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			client := NewClient(*addr)

			if stop {
				info, err := client.StopRun(projectID)
				if err != nil {
					return err
				}
				return printRun(cmd, info, *jsonOut)
			}

			if len(args) < 2 {
				return fmt.Errorf("packId is required to start a run")
			}
			info, err := client.StartRun(projectID, StartRunRequest{
				PackID:        args[1],
				TargetID:      targetID,
				Threshold:     threshold,
				MaxIterations: maxIterations,
			})
			if err != nil {
				return err
			}

			if wait {
				for info.Status == "running" {
					time.Sleep(time.Second)
					if info, err = client.Run(info.RunID); err != nil {
						return err
					}
				}
			}
			return printRun(cmd, info, *jsonOut)
		},
	}

	cmd.Flags().StringVar(&targetID, "target", "", "Design target (default: pack runDefaults)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Acceptance threshold override")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap override")
	cmd.Flags().BoolVar(&stop, "stop", false, "Stop the active run instead of starting one")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the run finishes")
	return cmd
}

func printRun(cmd *cobra.Command, info RunInfo, jsonOut bool) error {
	if jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("run %s (%s): %s\n", info.RunID, info.ProjectID, info.Status)
	if info.StopReason != "" {
		cmd.Printf("  stop reason: %s\n", info.StopReason)
	}
	if info.Message != "" {
		cmd.Printf("  %s\n", info.Message)
	}
	if info.Iterations > 0 {
		cmd.Printf("  iterations: %d, best: %d (%.3f)\n",
			info.Iterations, info.BestIteration, info.BestScore)
	}
	return nil
}
