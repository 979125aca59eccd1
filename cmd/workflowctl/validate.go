package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flowforge/graphrun/graph"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a graph definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readGraphDefinition(args[0])
			if err != nil {
				return err
			}
			result := graph.Validate(def)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("graph %s failed validation with %d error(s)", def.ID, len(result.Errors))
			}
			return nil
		},
	}
}

func readGraphDefinition(path string) (*graph.GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var def graph.GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &def, nil
}
