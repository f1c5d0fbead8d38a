package service

import (
	"context"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/repository"
)

// EmbeddingStore is the durable track embedding cache. GetCurrent returns
// nil without error when no current row exists.
type EmbeddingStore interface {
	GetCurrent(ctx context.Context, trackID, bundleHash string) (*domain.TrackEmbedding, error)
	GetCurrentBatch(ctx context.Context, trackIDs []string, bundleHash string) (map[string]*domain.TrackEmbedding, error)
	Upsert(ctx context.Context, emb *domain.TrackEmbedding) error
}

// ProfileStore is the durable playlist profile cache.
type ProfileStore interface {
	GetCurrent(ctx context.Context, playlistID, bundleHash string) (*domain.PlaylistProfile, error)
	Upsert(ctx context.Context, p *domain.PlaylistProfile) error
}

// MatchResultStore is the durable, context-scoped match result cache.
type MatchResultStore interface {
	GetResults(ctx context.Context, contextHash string, trackIDs []string) (map[string]*domain.MatchResult, error)
	SaveContext(ctx context.Context, record *domain.MatchContextRecord) error
	SaveResults(ctx context.Context, results []*domain.MatchResult) error
	ListContexts(ctx context.Context) ([]domain.MatchContextRecord, error)
	DeleteContexts(ctx context.Context, contextHashes []string) (int64, error)
}

// VectorIndex mirrors track vectors for nearest-neighbour candidate lookup.
type VectorIndex interface {
	UpsertTrack(ctx context.Context, vector []float32, payload *repository.TrackPayload) error
	SearchTracks(ctx context.Context, vector []float32, topK int, filters *repository.SearchFilters) ([]repository.TrackHit, error)
}

var (
	_ EmbeddingStore   = (*repository.TrackEmbeddingRepository)(nil)
	_ EmbeddingStore   = (*repository.MemoryEmbeddingStore)(nil)
	_ ProfileStore     = (*repository.PlaylistProfileRepository)(nil)
	_ ProfileStore     = (*repository.MemoryProfileStore)(nil)
	_ MatchResultStore = (*repository.MatchResultRepository)(nil)
	_ MatchResultStore = (*repository.RedisMatchResultRepository)(nil)
	_ MatchResultStore = (*repository.MemoryMatchResultStore)(nil)
	_ VectorIndex      = (*repository.QdrantRepository)(nil)
)
