package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/tunematch/internal/service"
)

func newWarmCommand(ctx *commandContext) *cobra.Command {
	var sourceRef string
	var limit int
	var resume bool

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Pre-compute track embeddings for a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			src, err := a.resolveSource(sourceRef)
			if err != nil {
				return err
			}

			stats, err := a.warmup.WarmSource(cmd.Context(), src, &service.WarmupOptions{
				Limit:  limit,
				Resume: resume,
			})
			if stats != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:      %s\n", stats.RunID)
				fmt.Fprintf(out, "Tracks:   %d\n", stats.TotalItems)
				fmt.Fprintf(out, "Embedded: %d\n", stats.EmbeddedItems)
				fmt.Fprintf(out, "Cached:   %d\n", stats.CachedItems)
				fmt.Fprintf(out, "Failed:   %d\n", stats.FailedItems)
				fmt.Fprintf(out, "Duration: %s\n", stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&sourceRef, "source", "s", "", "Source to warm (staging:<id> or bucket:<id>)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tracks to process (0 = all)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue after the last unfinished run of the source")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}
