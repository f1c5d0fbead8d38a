package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/domain"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "cache.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	return db
}

func TestTrackEmbeddingRepositoryKeepsOneCurrentRow(t *testing.T) {
	ctx := context.Background()
	repo := NewTrackEmbeddingRepository(openTestDB(t))

	got, err := repo.GetCurrent(ctx, "t1", "bundle")
	require.NoError(t, err)
	assert.Nil(t, got)

	first := &domain.TrackEmbedding{TrackID: "t1", ContentHash: "c1", ModelBundleHash: "bundle", Model: "m", Dimensions: 3, Vector: pgvector.NewVector([]float32{1, 0, 0})}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &domain.TrackEmbedding{TrackID: "t1", ContentHash: "c2", ModelBundleHash: "bundle", Model: "m", Dimensions: 3, Vector: pgvector.NewVector([]float32{0, 1, 0})}
	require.NoError(t, repo.Upsert(ctx, second))

	got, err = repo.GetCurrent(ctx, "t1", "bundle")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c2", got.ContentHash)
	assert.Equal(t, []float32{0, 1, 0}, got.Vector.Slice())

	// Same key again is idempotent and restores currency.
	require.NoError(t, repo.Upsert(ctx, &domain.TrackEmbedding{TrackID: "t1", ContentHash: "c1", ModelBundleHash: "bundle", Model: "m", Dimensions: 3, Vector: pgvector.NewVector([]float32{1, 0, 0})}))
	got, err = repo.GetCurrent(ctx, "t1", "bundle")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ContentHash)

	batch, err := repo.GetCurrentBatch(ctx, []string{"t1", "t2"}, "bundle")
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Equal(t, "c1", batch["t1"].ContentHash)

	deleted, err := repo.DeleteStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestPlaylistProfileRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewPlaylistProfileRepository(openTestDB(t))

	p := &domain.PlaylistProfile{
		PlaylistID:        "p1",
		ContentHash:       "c1",
		MembershipHash:    "m1",
		ModelBundleHash:   "bundle",
		Method:            domain.ProfileMethodLearned,
		Centroid:          pgvector.NewVector([]float32{0.5, 0.5}),
		AudioAverages:     domain.AudioFeatures{Energy: domain.Float(0.7)},
		MoodDistribution:  map[string]float64{"happy": 1},
		TopMoods:          domain.StringArray{"happy"},
		TopThemes:         domain.StringArray{"love", "summer"},
		ContextAverages:   map[string]float64{"party": 0.8},
		JourneyShape:      domain.JourneyAscending,
		TrackCount:        5,
		SampleSize:        5,
		GenreDistribution: map[string]float64{"pop": 1},
	}
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.GetCurrent(ctx, "p1", "bundle")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.ProfileMethodLearned, got.Method)
	assert.Equal(t, []float32{0.5, 0.5}, got.Vector())
	require.NotNil(t, got.AudioAverages.Energy)
	assert.InDelta(t, 0.7, *got.AudioAverages.Energy, 1e-9)
	assert.Nil(t, got.AudioAverages.Tempo)
	assert.Equal(t, domain.StringArray{"love", "summer"}, got.TopThemes)
	assert.Equal(t, 0.8, got.ContextAverages["party"])

	p2 := *p
	p2.ID = ""
	p2.ContentHash = "c2"
	require.NoError(t, repo.Upsert(ctx, &p2))
	got, err = repo.GetCurrent(ctx, "p1", "bundle")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ContentHash)
}

func matchStoreContract(t *testing.T, store interface {
	GetResults(ctx context.Context, contextHash string, trackIDs []string) (map[string]*domain.MatchResult, error)
	SaveContext(ctx context.Context, record *domain.MatchContextRecord) error
	SaveResults(ctx context.Context, results []*domain.MatchResult) error
	ListContexts(ctx context.Context) ([]domain.MatchContextRecord, error)
	DeleteContexts(ctx context.Context, contextHashes []string) (int64, error)
}) {
	ctx := context.Background()

	rec := &domain.MatchContextRecord{ContextHash: "ctx1", PlaylistID: "p1", ConfigHash: "cfg", ModelBundleHash: "b", CreatedAt: time.Now()}
	require.NoError(t, store.SaveContext(ctx, rec))

	results := []*domain.MatchResult{
		{ContextHash: "ctx1", TrackID: "t1", Similarity: 0.7, ComponentScores: datatypes.NewJSONType(domain.ComponentScores{Vector: 0.9})},
		{ContextHash: "ctx1", TrackID: "t2", Similarity: 0.1, VetoApplied: true, VetoReason: "Low compatibility"},
	}
	require.NoError(t, store.SaveResults(ctx, results))

	// A second write for the same key never replaces the first.
	require.NoError(t, store.SaveResults(ctx, []*domain.MatchResult{{ContextHash: "ctx1", TrackID: "t1", Similarity: 0.99}}))

	got, err := store.GetResults(ctx, "ctx1", []string{"t1", "t2", "t3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.7, got["t1"].Similarity)
	assert.Equal(t, 0.9, got["t1"].Scores().Vector)
	assert.True(t, got["t2"].VetoApplied)

	records, err := store.ListContexts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].PlaylistID)

	deleted, err := store.DeleteContexts(ctx, []string{"ctx1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	got, err = store.GetResults(ctx, "ctx1", []string{"t1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchResultRepository(t *testing.T) {
	matchStoreContract(t, NewMatchResultRepository(openTestDB(t)))
}

func TestMemoryMatchResultStore(t *testing.T) {
	matchStoreContract(t, NewMemoryMatchResultStore())
}

func TestMemoryEmbeddingStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEmbeddingStore()
	require.NoError(t, s.Upsert(ctx, &domain.TrackEmbedding{TrackID: "t", ContentHash: "c", ModelBundleHash: "b"}))

	got, err := s.GetCurrent(ctx, "t", "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsCurrent)
	assert.Equal(t, TrackEmbeddingID("t", "c", "b"), got.ID)
	assert.Equal(t, 1, s.Writes())

	got, err = s.GetCurrent(ctx, "t", "other")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWarmupRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewWarmupRunRepository(openTestDB(t))

	run := &domain.WarmupRun{ID: "r1", SourceID: "staging", BundleHash: "b", Status: domain.RunStatusRunning, StartedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, run))

	run.Embedded = 4
	run.Status = domain.RunStatusCompleted
	require.NoError(t, repo.Update(ctx, run))

	got, err := repo.GetLatest(ctx, "staging")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Embedded)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)

	got, err = repo.GetLatest(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}
