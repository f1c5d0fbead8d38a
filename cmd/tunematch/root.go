package main

import (
	"github.com/spf13/cobra"

	"github.com/timmy/tunematch/internal/logger"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var metricsFlag string

	ctx := newCommandContext(&configFlag, &metricsFlag)

	rootCmd := &cobra.Command{
		Use:           "tunematch",
		Short:         "Score candidate tracks against playlists",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cobra.OnFinalize(func() {
		if err := ctx.close(); err != nil {
			logger.Error("Failed to shut down cleanly: %v", err)
		}
	})

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&metricsFlag, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(newWarmCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newPruneCommand(ctx))
	rootCmd.AddCommand(newSourcesCommand(ctx))

	return rootCmd
}
