package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/flowforge/graphrun/graph"

	"github.com/spf13/cobra"
)

// runFile is the on-disk shape accepted by `workflowctl run`: a graph
// definition alongside the execution input to run it with.
type runFile struct {
	Graph         graph.GraphDefinition `json:"graph"`
	Input         graph.ExecutionInput  `json:"input"`
	RuntimeConfig map[string]any        `json:"runtimeConfig"`
}

func newRunCmd() *cobra.Command {
	var maxConcurrency int
	var strategy string

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a graph definition and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			var rf runFile
			if err := json.Unmarshal(data, &rf); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			opts := []graph.Option{graph.WithMaxConcurrency(maxConcurrency)}
			if strategy != "" {
				opts = append(opts, graph.WithStrategy(graph.Strategy(strategy)))
			}
			executor, err := graph.NewExecutor(opts...)
			if err != nil {
				return fmt.Errorf("configuring executor: %w", err)
			}

			compiled, err := graph.Compile(&rf.Graph, rf.RuntimeConfig)
			if err != nil {
				return fmt.Errorf("compiling graph: %w", err)
			}

			out, err := executor.ExecuteGraph(context.Background(), compiled, rf.Input)
			if err != nil {
				return fmt.Errorf("executing graph: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("execution %s did not complete successfully", out.Execution.ExecutionID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "maximum number of nodes to run concurrently")
	cmd.Flags().StringVar(&strategy, "strategy", "", "execution strategy override (sequential, parallel, hybrid, adaptive)")
	return cmd
}
