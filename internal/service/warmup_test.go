package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/repository"
	"github.com/timmy/tunematch/internal/source"
)

// manifestSource serves a fixed manifest, optionally failing at one cursor.
type manifestSource struct {
	manifest *source.Manifest
	failAt   string
}

func newManifestSource(n int) *manifestSource {
	m := &source.Manifest{}
	for i := 0; i < n; i++ {
		m.Tracks = append(m.Tracks, *analyzedSong(fmt.Sprintf("t%d", i), "happy", "love"))
	}
	return &manifestSource{manifest: m}
}

func (s *manifestSource) GetSourceID() string    { return "demo" }
func (s *manifestSource) GetDisplayName() string { return "Demo" }

func (s *manifestSource) FetchBatch(_ context.Context, cursor string, limit int) ([]source.TrackItem, string, error) {
	if s.failAt != "" && cursor == s.failAt {
		return nil, "", errors.New("source unavailable")
	}
	return s.manifest.Page("demo", cursor, limit)
}

func (s *manifestSource) Manifest(context.Context) (*source.Manifest, error) {
	return s.manifest, nil
}

type memoryRunStore struct {
	mu   sync.Mutex
	runs []domain.WarmupRun
}

func (s *memoryRunStore) Create(_ context.Context, run *domain.WarmupRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memoryRunStore) Update(_ context.Context, run *domain.WarmupRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	return fmt.Errorf("run %s not found", run.ID)
}

func (s *memoryRunStore) GetLatest(_ context.Context, sourceID string) (*domain.WarmupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].SourceID == sourceID {
			run := s.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (s *memoryRunStore) get(id string) domain.WarmupRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			return r
		}
	}
	return domain.WarmupRun{}
}

type warmupFixture struct {
	provider     *countingProvider
	orchestrator *EmbeddingOrchestrator
	runs         *memoryRunStore
	service      *WarmupService
}

func newWarmupFixture(t *testing.T) *warmupFixture {
	t.Helper()
	provider := newCountingProvider()
	o := newTestOrchestrator(t, provider, repository.NewMemoryEmbeddingStore(), nil)
	runs := &memoryRunStore{}
	return &warmupFixture{
		provider:     provider,
		orchestrator: o,
		runs:         runs,
		service:      NewWarmupService(o, runs, &WarmupConfig{Workers: 2, BatchSize: 2}),
	}
}

func TestWarmSourceEmbedsEveryTrack(t *testing.T) {
	f := newWarmupFixture(t)
	src := newManifestSource(5)

	stats, err := f.service.WarmSource(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalItems)
	assert.Equal(t, int64(5), stats.EmbeddedItems)
	assert.Zero(t, stats.CachedItems)
	assert.Zero(t, stats.FailedItems)

	run := f.runs.get(stats.RunID)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Empty(t, run.Cursor)
	assert.Equal(t, 5, run.Embedded)
	assert.Equal(t, f.orchestrator.BundleHash(), run.BundleHash)
	assert.NotNil(t, run.CompletedAt)

	calls := f.provider.Calls()
	again, err := f.service.WarmSource(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.CachedItems)
	assert.Zero(t, again.EmbeddedItems)
	assert.Equal(t, calls, f.provider.Calls())
}

func TestWarmSourceHonorsLimit(t *testing.T) {
	f := newWarmupFixture(t)

	stats, err := f.service.WarmSource(context.Background(), newManifestSource(5), &WarmupOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalItems)

	run := f.runs.get(stats.RunID)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, "3", run.Cursor)
}

func TestWarmSourceResumesUnfinishedRun(t *testing.T) {
	f := newWarmupFixture(t)
	require.NoError(t, f.runs.Create(context.Background(), &domain.WarmupRun{
		ID:         "previous",
		SourceID:   "demo",
		BundleHash: f.orchestrator.BundleHash(),
		Status:     domain.RunStatusCancelled,
		Cursor:     "3",
		StartedAt:  time.Now().Add(-time.Hour),
	}))

	stats, err := f.service.WarmSource(context.Background(), newManifestSource(5), &WarmupOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalItems)
	assert.NotEqual(t, "previous", stats.RunID)
}

func TestWarmSourceResumeSkipsRunsOfOtherBundles(t *testing.T) {
	f := newWarmupFixture(t)
	require.NoError(t, f.runs.Create(context.Background(), &domain.WarmupRun{
		ID:         "previous",
		SourceID:   "demo",
		BundleHash: "other-bundle",
		Status:     domain.RunStatusCancelled,
		Cursor:     "3",
	}))

	stats, err := f.service.WarmSource(context.Background(), newManifestSource(5), &WarmupOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalItems)
}

func TestWarmSourceKeepsCursorOnFetchError(t *testing.T) {
	f := newWarmupFixture(t)
	src := newManifestSource(5)
	src.failAt = "4"

	stats, err := f.service.WarmSource(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalItems)

	run := f.runs.get(stats.RunID)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, "4", run.Cursor)
	assert.Contains(t, run.ErrorLog, "source unavailable")
}

func TestWarmSourceFailsWhenNothingEmbeds(t *testing.T) {
	f := newWarmupFixture(t)
	src := &manifestSource{manifest: &source.Manifest{Tracks: []domain.Song{{ID: "a"}, {ID: "b"}}}}

	stats, err := f.service.WarmSource(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.FailedItems)

	run := f.runs.get(stats.RunID)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorLog, "a: ")
}

func TestWarmSourceCancelled(t *testing.T) {
	f := newWarmupFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.service.WarmSource(ctx, newManifestSource(5), nil)
	require.NoError(t, err)
	run := f.runs.get(stats.RunID)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.Empty(t, run.Cursor)
}

func TestWarmSourceWithoutRunStore(t *testing.T) {
	provider := newCountingProvider()
	o := newTestOrchestrator(t, provider, repository.NewMemoryEmbeddingStore(), nil)
	svc := NewWarmupService(o, nil, &WarmupConfig{})

	stats, err := svc.WarmSource(context.Background(), newManifestSource(3), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.EmbeddedItems)
	assert.NotEmpty(t, stats.RunID)
}
