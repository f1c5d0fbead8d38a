package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timmy/tunematch/internal/source"
	"github.com/timmy/tunematch/internal/source/bucket"
	"github.com/timmy/tunematch/internal/source/staging"
)

const (
	sourceKindStaging = "staging"
	sourceKindBucket  = "bucket"
)

// parseSourceRef splits "kind:id". A bare id names a staging source.
func parseSourceRef(ref string) (kind, id string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("source is required")
	}
	kind, id, found := strings.Cut(ref, ":")
	if !found {
		return sourceKindStaging, ref, nil
	}
	if id == "" {
		return "", "", fmt.Errorf("source %q has no id", ref)
	}
	switch kind {
	case sourceKindStaging, sourceKindBucket:
		return kind, id, nil
	default:
		return "", "", fmt.Errorf("unknown source kind %q (want staging or bucket)", kind)
	}
}

func (a *app) resolveSource(ref string) (source.Source, error) {
	kind, id, err := parseSourceRef(ref)
	if err != nil {
		return nil, err
	}
	if kind == sourceKindBucket {
		if a.storage == nil {
			return nil, fmt.Errorf("source %s needs object storage: set storage.endpoint and storage.bucket", ref)
		}
		return bucket.NewAdapter(a.storage, a.cfg.Sources.Bucket.Prefix, id), nil
	}
	return staging.NewAdapter(a.cfg.Sources.Staging.BasePath, id), nil
}

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List local staging sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := staging.ListStagingSources(a.cfg.Sources.Staging.BasePath)
			if err != nil {
				return fmt.Errorf("failed to list staging sources: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintf(out, "No staging sources under %s\n", a.cfg.Sources.Staging.BasePath)
				return nil
			}
			for _, id := range ids {
				fmt.Fprintf(out, "%s:%s\n", sourceKindStaging, id)
			}
			return nil
		},
	}
}
