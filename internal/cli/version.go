package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newVersionCommand(jsonOut *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *jsonOut {
				data, err := json.MarshalIndent(map[string]string{
					"version":   version,
					"commit":    commit,
					"buildDate": buildDate,
				}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Printf("atelier %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
