package main

import (
	"log"

	"github.com/flowforge/graphrun/graph"
	"github.com/flowforge/graphrun/transport/httpapi"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	var maxConcurrency int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph execution API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, err := graph.NewExecutor(graph.WithMaxConcurrency(maxConcurrency))
			if err != nil {
				return err
			}
			srv := httpapi.NewServer(executor)
			log.Printf("workflowctl serve: listening on %s", addr)
			return srv.ListenAndServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "maximum number of nodes to run concurrently")
	return cmd
}
