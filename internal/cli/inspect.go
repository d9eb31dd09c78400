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

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

func newInspectCommand(jsonOut *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file> [query]",
		Short: "Query a run artifact with jq syntax",
		Long: `Inspect applies a jq query to a JSON artifact: an overflow report,
snapshot metadata, project.json, or any other run output. The query
defaults to "." (the whole document).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := "."
			if len(args) > 1 {
				query = args[1]
			}
			results, err := inspectFile(args[0], query)
			if err != nil {
				return err
			}
			for _, result := range results {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
			}
			return nil
		},
	}
	return cmd
}

// inspectFile runs the jq query against the file's JSON document and
// returns every emitted value.
func inspectFile(path, query string) ([]any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", query, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", path, err)
	}

	var results []any
	iter := parsed.Run(doc)
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := value.(error); isErr {
			return nil, err
		}
		results = append(results, value)
	}
	return results, nil
}
