package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/repository"
)

const testDims = 8

// countingProvider returns deterministic vectors and records every call.
type countingProvider struct {
	mu     sync.Mutex
	calls  int
	inputs [][]string
	// fixed overrides the derived vector of an exact input text.
	fixed map[string][]float32
	// fail, when set, is consulted before answering a call.
	fail func(texts []string) error
	// block, when set, is waited on before answering.
	block chan struct{}
}

func newCountingProvider() *countingProvider {
	return &countingProvider{fixed: make(map[string][]float32)}
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.calls++
	p.inputs = append(p.inputs, append([]string(nil), texts...))
	fail := p.fail
	p.mu.Unlock()

	if fail != nil {
		if err := fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := p.fixed[text]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = derivedVector(text)
	}
	return out, nil
}

func (p *countingProvider) GetModel() string { return "test-model" }
func (p *countingProvider) Dimensions() int  { return testDims }

func (p *countingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func derivedVector(text string) []float32 {
	v := make([]float32, testDims)
	for i := range v {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000)/1000 + 0.01
	}
	return v
}

// recordingIndex is a VectorIndex that remembers upserts.
type recordingIndex struct {
	mu       sync.Mutex
	upserts  []repository.TrackPayload
	hits     []repository.TrackHit
	searched *repository.SearchFilters
}

func (i *recordingIndex) UpsertTrack(_ context.Context, _ []float32, payload *repository.TrackPayload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.upserts = append(i.upserts, *payload)
	return nil
}

func (i *recordingIndex) SearchTracks(_ context.Context, _ []float32, topK int, filters *repository.SearchFilters) ([]repository.TrackHit, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.searched = filters
	if len(i.hits) > topK {
		return i.hits[:topK], nil
	}
	return i.hits, nil
}

func testBundle() domain.ModelBundle {
	return domain.ModelBundle{EmbeddingModelID: "test/test-model@8", Version: "1"}
}

func newTestOrchestrator(t *testing.T, provider EmbeddingProvider, store EmbeddingStore, index VectorIndex) *EmbeddingOrchestrator {
	t.Helper()
	throttle := NewThrottle(ThrottleConfig{Name: "test", MaxConcurrent: 4}, nil)
	return NewEmbeddingOrchestrator(provider, throttle, store, index, nil, EmbeddingOrchestratorConfig{
		Bundle:        testBundle(),
		BatchSize:     2,
		MirrorToIndex: index != nil,
	})
}

func testMatchingConfig() *config.MatchingConfig {
	cfg := config.DefaultMatchingConfig()
	cfg.Workers = 2
	return &cfg
}

func analyzedSong(id, mood string, themes ...string) *domain.Song {
	analysis := &domain.TrackAnalysis{
		Emotional: domain.EmotionalProfile{DominantMood: mood},
		Context: domain.ContextProfile{
			Scores: map[string]float64{"workout": 0.8, "study": 0.2},
		},
	}
	for _, theme := range themes {
		analysis.Themes = append(analysis.Themes, domain.Theme{Name: theme, Confidence: 0.9})
	}
	return &domain.Song{
		ID:       id,
		Name:     "Song " + strings.ToUpper(id),
		Artist:   "Artist",
		Genres:   []string{"Pop"},
		Analysis: analysis,
	}
}

func audio(energy, valence, danceability float64) *domain.AudioFeatures {
	return &domain.AudioFeatures{
		Energy:       domain.Float(energy),
		Valence:      domain.Float(valence),
		Danceability: domain.Float(danceability),
	}
}
