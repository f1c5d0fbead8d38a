package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var keepEmbeddings bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete match results and embeddings that can no longer be served",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			results, err := a.matches.Prune(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Match results deleted: %d\n", results)

			if keepEmbeddings {
				return nil
			}
			embeddings, err := a.embeddings.DeleteStale(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to delete stale embeddings: %w", err)
			}
			fmt.Fprintf(out, "Stale embeddings deleted: %d\n", embeddings)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepEmbeddings, "keep-embeddings", false, "Only prune match results")
	return cmd
}
