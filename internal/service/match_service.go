package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/contenthash"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
	"github.com/timmy/tunematch/internal/repository"
)

// ErrNoVectorIndex is returned by SuggestCandidates when no index is configured.
var ErrNoVectorIndex = errors.New("vector index is not configured")

// Profiler builds playlist profiles.
type Profiler interface {
	ProfilePlaylist(ctx context.Context, playlist *domain.Playlist, members []*domain.Song) (*domain.PlaylistProfile, error)
}

// CandidateEmbedder embeds candidates before scoring.
type CandidateEmbedder interface {
	EmbedTrackBatch(ctx context.Context, songs []*domain.Song, onProgress func(BatchProgress)) []BatchItemResult
	BundleHash() string
}

// CandidateScorer scores one candidate.
type CandidateScorer interface {
	Score(ctx context.Context, in *ScoreInput) (*domain.MatchResult, error)
}

// MatchRequest asks for every candidate scored against a playlist.
type MatchRequest struct {
	Playlist *domain.Playlist
	// Members are the tracks the playlist profile is built from.
	Members    []*domain.Song
	Candidates []*domain.Song
	// Existing are the playlist's current tracks in order; the last few
	// anchor the flow tier.
	Existing []*domain.Song
}

// MatchResponse holds results sorted by descending similarity.
type MatchResponse struct {
	ContextHash string
	Context     domain.MatchContext
	Profile     *domain.PlaylistProfile
	Results     []*domain.MatchResult
	Cached      int
	Computed    int
	// Failures holds candidates that could not be scored, by track ID.
	Failures map[string]error
}

// MatchService scores candidates against playlists and caches every result
// under the match context it was computed in.
type MatchService struct {
	profiler   Profiler
	embedder   CandidateEmbedder
	scorer     CandidateScorer
	results    MatchResultStore
	profiles   ProfileStore
	index      VectorIndex
	configHash string
	flowWindow int
	workers    int
	metrics    *metrics.Recorder
}

// MatchServiceDeps are the collaborators of a MatchService. Index may be nil.
type MatchServiceDeps struct {
	Profiler Profiler
	Embedder CandidateEmbedder
	Scorer   CandidateScorer
	Results  MatchResultStore
	Profiles ProfileStore
	Index    VectorIndex
	Metrics  *metrics.Recorder
}

func NewMatchService(deps MatchServiceDeps, cfg *config.MatchingConfig) *MatchService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &MatchService{
		profiler:   deps.Profiler,
		embedder:   deps.Embedder,
		scorer:     deps.Scorer,
		results:    deps.Results,
		profiles:   deps.Profiles,
		index:      deps.Index,
		configHash: cfg.Hash(),
		flowWindow: cfg.FlowWindow,
		workers:    workers,
		metrics:    deps.Metrics,
	}
}

func (s *MatchService) ConfigHash() string { return s.configHash }

// BuildMatchContext derives the context of a run. The playlist side covers
// the profile content and the flow anchors, since both feed the scores.
func BuildMatchContext(configHash, bundleHash string, profile *domain.PlaylistProfile, existing, candidates []*domain.Song, flowWindow int) domain.MatchContext {
	anchors := nonNilSongs(existing)
	if len(anchors) > flowWindow {
		anchors = anchors[len(anchors)-flowWindow:]
	}
	anchorKeys := make([]string, len(anchors))
	for i, a := range anchors {
		anchorKeys[i] = a.ID + "=" + TrackFingerprint(a)
	}
	candidateKeys := make([]string, 0, len(candidates))
	for _, c := range nonNilSongs(candidates) {
		candidateKeys = append(candidateKeys, c.ID+"="+TrackFingerprint(c))
	}

	return domain.MatchContext{
		ConfigHash:      configHash,
		ModelBundleHash: bundleHash,
		PlaylistProfileHash: contenthash.MustHash(struct {
			Profile string   `json:"profile"`
			Anchors []string `json:"anchors"`
		}{profile.ContentHash, anchorKeys}),
		CandidateSetHash: contenthash.HashSet(candidateKeys),
	}
}

// MatchSongsToPlaylist scores every candidate against the playlist. Results
// cached under the same context are returned as-is; only missing candidates
// are scored, and each is persisted once.
func (s *MatchService) MatchSongsToPlaylist(ctx context.Context, req *MatchRequest) (*MatchResponse, error) {
	if req == nil || req.Playlist == nil {
		return nil, errors.New("match request needs a playlist")
	}
	start := time.Now()
	ctx = logger.SetPlaylistID(ctx, req.Playlist.ID)

	profile, err := s.profiler.ProfilePlaylist(ctx, req.Playlist, req.Members)
	if err != nil {
		return nil, fmt.Errorf("failed to profile playlist: %w", err)
	}

	candidates := uniqueSongs(req.Candidates)
	existing := nonNilSongs(req.Existing)
	bundleHash := s.embedder.BundleHash()
	matchCtx := BuildMatchContext(s.configHash, bundleHash, profile, existing, candidates, s.flowWindow)
	contextHash := matchCtx.Hash()
	ctx = logger.SetContextHash(ctx, contextHash)

	resp := &MatchResponse{
		ContextHash: contextHash,
		Context:     matchCtx,
		Profile:     profile,
		Failures:    make(map[string]error),
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	cached, err := s.results.GetResults(ctx, contextHash, ids)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to read cached match results, scoring all candidates: error=%v", err)
		cached = nil
	}

	var misses []*domain.Song
	for _, c := range candidates {
		if r, ok := cached[c.ID]; ok {
			resp.Results = append(resp.Results, r)
			continue
		}
		misses = append(misses, c)
	}
	resp.Cached = len(resp.Results)
	s.metrics.MatchLookup(metrics.ResultHit, resp.Cached)
	s.metrics.MatchLookup(metrics.ResultMiss, len(misses))

	fresh := s.scoreMisses(ctx, misses, profile, existing, contextHash, resp.Failures)
	resp.Computed = len(fresh)
	resp.Results = append(resp.Results, fresh...)

	record := &domain.MatchContextRecord{
		ContextHash:         contextHash,
		PlaylistID:          req.Playlist.ID,
		ConfigHash:          matchCtx.ConfigHash,
		ModelBundleHash:     matchCtx.ModelBundleHash,
		PlaylistProfileHash: matchCtx.PlaylistProfileHash,
		ProfileContentHash:  profile.ContentHash,
		CandidateSetHash:    matchCtx.CandidateSetHash,
		CandidateCount:      len(candidates),
		CreatedAt:           time.Now(),
		LastUsedAt:          time.Now(),
	}
	if err := s.results.SaveContext(ctx, record); err != nil {
		logger.CtxError(ctx, "Failed to save match context: error=%v", err)
	}
	if len(fresh) > 0 {
		if err := s.results.SaveResults(ctx, fresh); err != nil {
			logger.CtxError(ctx, "Failed to save match results: count=%d, error=%v", len(fresh), err)
		}
	}

	sortResults(resp.Results)

	logger.With(logger.Fields{
		logger.FieldCount:  len(candidates),
		logger.FieldFailed: len(resp.Failures),
	}).WithCacheStats(resp.Cached, len(misses)).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Matched candidates to playlist")
	return resp, nil
}

type scoreJob struct {
	song   *domain.Song
	vector []float32
}

// scoreMisses embeds and scores candidates on a bounded worker pool. A failed
// candidate lands in failures and is not persisted.
func (s *MatchService) scoreMisses(ctx context.Context, misses []*domain.Song, profile *domain.PlaylistProfile, existing []*domain.Song, contextHash string, failures map[string]error) []*domain.MatchResult {
	if len(misses) == 0 {
		return nil
	}

	var jobs []scoreJob
	for i, res := range s.embedder.EmbedTrackBatch(ctx, misses, nil) {
		switch {
		case res.Err == nil:
			jobs = append(jobs, scoreJob{song: misses[i], vector: res.Vector})
		case errors.Is(res.Err, errEmptyText):
			// Nothing to embed is a data gap, not a failure.
			jobs = append(jobs, scoreJob{song: misses[i]})
		default:
			failures[res.TrackID] = res.Err
		}
	}

	jobsChan := make(chan scoreJob, s.workers*2)
	var mu sync.Mutex
	var results []*domain.MatchResult

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				res, err := s.scorer.Score(logger.SetTrackID(ctx, job.song.ID), &ScoreInput{
					Candidate: job.song,
					Vector:    job.vector,
					Profile:   profile,
					Existing:  existing,
				})

				mu.Lock()
				if err != nil {
					failures[job.song.ID] = err
				} else {
					res.ContextHash = contextHash
					results = append(results, res)
				}
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)
	wg.Wait()

	return results
}

// Prune deletes match contexts that no live combination of config, model
// bundle and playlist profile can reach again. It returns the number of
// result rows removed.
func (s *MatchService) Prune(ctx context.Context) (int64, error) {
	records, err := s.results.ListContexts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list match contexts: %w", err)
	}

	bundleHash := s.embedder.BundleHash()
	currentProfiles := make(map[string]string)
	var stale []string
	for _, r := range records {
		if r.ConfigHash != s.configHash || r.ModelBundleHash != bundleHash {
			stale = append(stale, r.ContextHash)
			continue
		}

		current, seen := currentProfiles[r.PlaylistID]
		if !seen {
			profile, err := s.profiles.GetCurrent(ctx, r.PlaylistID, bundleHash)
			if err != nil {
				return 0, fmt.Errorf("failed to read profile of playlist %s: %w", r.PlaylistID, err)
			}
			if profile != nil {
				current = profile.ContentHash
			}
			currentProfiles[r.PlaylistID] = current
		}
		if current != r.ProfileContentHash {
			stale = append(stale, r.ContextHash)
		}
	}

	if len(stale) == 0 {
		logger.CtxInfo(ctx, "No stale match contexts: contexts=%d", len(records))
		return 0, nil
	}
	deleted, err := s.results.DeleteContexts(ctx, stale)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale match contexts: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(stale),
	}).Info(ctx, "Pruned stale match contexts: results=%d, kept=%d", deleted, len(records)-len(stale))
	return deleted, nil
}

// SuggestCandidates returns the indexed tracks nearest to a profile centroid,
// excluding the given track IDs.
func (s *MatchService) SuggestCandidates(ctx context.Context, profile *domain.PlaylistProfile, topK int, exclude []string) ([]repository.TrackHit, error) {
	if s.index == nil {
		return nil, ErrNoVectorIndex
	}
	centroid := profile.Vector()
	if len(centroid) == 0 {
		return nil, errors.New("profile has no centroid")
	}
	return s.index.SearchTracks(ctx, centroid, topK, &repository.SearchFilters{
		BundleHash:      profile.ModelBundleHash,
		ExcludeTrackIDs: exclude,
	})
}

func uniqueSongs(songs []*domain.Song) []*domain.Song {
	seen := make(map[string]struct{}, len(songs))
	out := make([]*domain.Song, 0, len(songs))
	for _, s := range songs {
		if s == nil {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// nonNilSongs drops nil entries and keeps order and duplicates.
func nonNilSongs(songs []*domain.Song) []*domain.Song {
	out := make([]*domain.Song, 0, len(songs))
	for _, s := range songs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func sortResults(results []*domain.MatchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].TrackID < results[j].TrackID
	})
}
