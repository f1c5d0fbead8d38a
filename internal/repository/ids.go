package repository

import (
	"strings"

	"github.com/google/uuid"
)

// namespaceTunematch scopes every deterministic ID generated by this module.
var namespaceTunematch = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tunematch"))

// deterministicID derives a stable UUID from its key parts, so concurrent
// writers of the same cache key produce the same row and point IDs.
func deterministicID(parts ...string) string {
	return uuid.NewSHA1(namespaceTunematch, []byte(strings.Join(parts, "\x1f"))).String()
}

// TrackEmbeddingID is the row ID of an embedding for (track, content, bundle).
func TrackEmbeddingID(trackID, contentHash, bundleHash string) string {
	return deterministicID("embedding", trackID, contentHash, bundleHash)
}

// PlaylistProfileID is the row ID of a profile for (playlist, content, bundle).
func PlaylistProfileID(playlistID, contentHash, bundleHash string) string {
	return deterministicID("profile", playlistID, contentHash, bundleHash)
}

// TrackPointID is the vector index point for a track under a model bundle.
// Re-embedding a changed track overwrites the same point.
func TrackPointID(trackID, bundleHash string) string {
	return deterministicID("point", trackID, bundleHash)
}
