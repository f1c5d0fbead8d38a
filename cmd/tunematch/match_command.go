package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/repository"
	"github.com/timmy/tunematch/internal/service"
	"github.com/timmy/tunematch/internal/source"
	"github.com/timmy/tunematch/internal/storage"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var sourceRef string
	var playlistID string
	var candidateIDs []string
	var suggest int
	var reportKey string
	var keepExisting bool

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Score candidate tracks against a playlist and print a JSON report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			src, err := a.resolveSource(sourceRef)
			if err != nil {
				return err
			}

			runCtx := logger.SetSource(cmd.Context(), src.GetSourceID())
			manifest, err := src.Manifest(runCtx)
			if err != nil {
				return fmt.Errorf("failed to load source %s: %w", src.GetSourceID(), err)
			}
			playlist, ok := manifest.Playlist(playlistID)
			if !ok {
				return fmt.Errorf("playlist %q not found in %s", playlistID, src.GetSourceID())
			}
			members, missing := manifest.Members(playlist)
			if len(missing) > 0 {
				a.log.WithField("missing", missing).Warnf("Playlist references tracks absent from the source: playlist=%s, count=%d",
					playlist.ID, len(missing))
			}
			candidates, err := selectCandidates(manifest, playlist, candidateIDs)
			if err != nil {
				return err
			}

			resp, err := a.matches.MatchSongsToPlaylist(runCtx, &service.MatchRequest{
				Playlist:   playlist,
				Members:    members,
				Candidates: candidates,
				Existing:   members,
			})
			if err != nil {
				return err
			}

			var hits []repository.TrackHit
			if suggest > 0 {
				hits, err = a.matches.SuggestCandidates(runCtx, resp.Profile, suggest, playlist.TrackIDs)
				switch {
				case errors.Is(err, service.ErrNoVectorIndex):
					logger.CtxWarn(runCtx, "Skipping suggestions: qdrant is not enabled")
				case err != nil:
					return fmt.Errorf("failed to suggest candidates: %w", err)
				}
			}

			report := buildMatchReport(src.GetSourceID(), resp, missing, hits, time.Now())
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(append(data, '\n')); err != nil {
				return err
			}

			if reportKey == "" {
				return nil
			}
			if a.storage == nil {
				return fmt.Errorf("--report-key needs object storage: set storage.endpoint and storage.bucket")
			}
			if err := publishReport(runCtx, a.storage, reportKey, data, !keepExisting); err != nil {
				return err
			}
			logger.CtxInfo(runCtx, "Uploaded match report: key=%s, url=%s", reportKey, a.storage.GetURL(reportKey))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceRef, "source", "s", "", "Source holding the playlist and candidates (staging:<id> or bucket:<id>)")
	cmd.Flags().StringVarP(&playlistID, "playlist", "p", "", "Playlist ID")
	cmd.Flags().StringSliceVar(&candidateIDs, "candidates", nil, "Candidate track IDs (default: every source track not in the playlist)")
	cmd.Flags().IntVar(&suggest, "suggest", 0, "Also list this many nearest indexed tracks (needs qdrant)")
	cmd.Flags().StringVar(&reportKey, "report-key", "", "Upload the report to object storage under this key")
	cmd.Flags().BoolVar(&keepExisting, "no-overwrite", false, "Fail instead of replacing a report already stored under --report-key")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("playlist")

	return cmd
}

var errReportExists = errors.New("report already exists")

// publishReport uploads a report, creating the bucket on first use. Unless
// overwrite is set, an object already under key is left untouched.
func publishReport(ctx context.Context, store storage.ObjectStorage, key string, data []byte, overwrite bool) error {
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare report bucket: %w", err)
	}
	if !overwrite {
		exists, err := store.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", errReportExists, key)
		}
	}
	if err := store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}

// selectCandidates resolves explicit IDs, or takes every track of the source
// that is not already in the playlist.
func selectCandidates(m *source.Manifest, playlist *domain.Playlist, ids []string) ([]*domain.Song, error) {
	if len(ids) > 0 {
		candidates := make([]*domain.Song, 0, len(ids))
		for _, id := range ids {
			song, ok := m.Track(id)
			if !ok {
				return nil, fmt.Errorf("candidate track %q not found in source", id)
			}
			candidates = append(candidates, song)
		}
		return candidates, nil
	}

	inPlaylist := make(map[string]struct{}, len(playlist.TrackIDs))
	for _, id := range playlist.TrackIDs {
		inPlaylist[id] = struct{}{}
	}
	var candidates []*domain.Song
	for i := range m.Tracks {
		if _, ok := inPlaylist[m.Tracks[i].ID]; ok {
			continue
		}
		candidates = append(candidates, &m.Tracks[i])
	}
	return candidates, nil
}
