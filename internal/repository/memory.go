package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/tunematch/internal/domain"
)

// In-memory stores honour the same contracts as the SQL and Redis stores.
// They back single-process runs and tests.

type entityKey struct {
	entity string
	bundle string
}

// MemoryEmbeddingStore keeps track embeddings in a map.
type MemoryEmbeddingStore struct {
	mu      sync.RWMutex
	current map[entityKey]domain.TrackEmbedding
	writes  int
}

func NewMemoryEmbeddingStore() *MemoryEmbeddingStore {
	return &MemoryEmbeddingStore{current: make(map[entityKey]domain.TrackEmbedding)}
}

func (s *MemoryEmbeddingStore) GetCurrent(_ context.Context, trackID, bundleHash string) (*domain.TrackEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.current[entityKey{trackID, bundleHash}]
	if !ok {
		return nil, nil
	}
	return &emb, nil
}

func (s *MemoryEmbeddingStore) GetCurrentBatch(_ context.Context, trackIDs []string, bundleHash string) (map[string]*domain.TrackEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.TrackEmbedding, len(trackIDs))
	for _, id := range trackIDs {
		if emb, ok := s.current[entityKey{id, bundleHash}]; ok {
			emb := emb
			out[id] = &emb
		}
	}
	return out, nil
}

func (s *MemoryEmbeddingStore) Upsert(_ context.Context, emb *domain.TrackEmbedding) error {
	if emb.ID == "" {
		emb.ID = TrackEmbeddingID(emb.TrackID, emb.ContentHash, emb.ModelBundleHash)
	}
	emb.IsCurrent = true
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[entityKey{emb.TrackID, emb.ModelBundleHash}] = *emb
	s.writes++
	return nil
}

// Writes returns how many upserts the store has seen.
func (s *MemoryEmbeddingStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// MemoryProfileStore keeps playlist profiles in a map.
type MemoryProfileStore struct {
	mu      sync.RWMutex
	current map[entityKey]domain.PlaylistProfile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{current: make(map[entityKey]domain.PlaylistProfile)}
}

func (s *MemoryProfileStore) GetCurrent(_ context.Context, playlistID, bundleHash string) (*domain.PlaylistProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.current[entityKey{playlistID, bundleHash}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryProfileStore) Upsert(_ context.Context, p *domain.PlaylistProfile) error {
	if p.ID == "" {
		p.ID = PlaylistProfileID(p.PlaylistID, p.ContentHash, p.ModelBundleHash)
	}
	p.IsCurrent = true
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[entityKey{p.PlaylistID, p.ModelBundleHash}] = *p
	return nil
}

// MemoryMatchResultStore keeps match contexts and results in maps.
type MemoryMatchResultStore struct {
	mu       sync.RWMutex
	contexts map[string]domain.MatchContextRecord
	results  map[string]map[string]domain.MatchResult
}

func NewMemoryMatchResultStore() *MemoryMatchResultStore {
	return &MemoryMatchResultStore{
		contexts: make(map[string]domain.MatchContextRecord),
		results:  make(map[string]map[string]domain.MatchResult),
	}
}

func (s *MemoryMatchResultStore) GetResults(_ context.Context, contextHash string, trackIDs []string) (map[string]*domain.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.MatchResult, len(trackIDs))
	byTrack := s.results[contextHash]
	for _, id := range trackIDs {
		if res, ok := byTrack[id]; ok {
			res := res
			out[id] = &res
		}
	}
	return out, nil
}

func (s *MemoryMatchResultStore) SaveContext(_ context.Context, record *domain.MatchContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	record.LastUsedAt = now
	if existing, ok := s.contexts[record.ContextHash]; ok {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	s.contexts[record.ContextHash] = *record
	return nil
}

func (s *MemoryMatchResultStore) SaveResults(_ context.Context, results []*domain.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range results {
		byTrack, ok := s.results[res.ContextHash]
		if !ok {
			byTrack = make(map[string]domain.MatchResult)
			s.results[res.ContextHash] = byTrack
		}
		if _, exists := byTrack[res.TrackID]; !exists {
			byTrack[res.TrackID] = *res
		}
	}
	return nil
}

func (s *MemoryMatchResultStore) ListContexts(_ context.Context) ([]domain.MatchContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]domain.MatchContextRecord, 0, len(s.contexts))
	for _, rec := range s.contexts {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ContextHash < records[j].ContextHash })
	return records, nil
}

func (s *MemoryMatchResultStore) DeleteContexts(_ context.Context, contextHashes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, hash := range contextHashes {
		deleted += int64(len(s.results[hash]))
		delete(s.results, hash)
		delete(s.contexts, hash)
	}
	return deleted, nil
}
