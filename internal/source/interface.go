package source

import (
	"context"

	"github.com/timmy/tunematch/internal/domain"
)

// TrackItem is one analyzed track from a source.
type TrackItem struct {
	SourceID string // unique ID within the source
	Song     domain.Song
}

// Source provides analyzed tracks and playlists.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of tracks starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of tracks.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []TrackItem, nextCursor string, err error)

	// Manifest returns the full parsed manifest of the source.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	// Returns:
	//   - *Manifest: tracks and playlists of the source.
	//   - error: non-nil if loading fails.
	Manifest(ctx context.Context) (*Manifest, error)
}
