package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/contenthash"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
	"github.com/timmy/tunematch/internal/repository"
)

const (
	minLearnedMembers = 3
	maxProfileSample  = 20
	topMoodCount      = 2
	topThemeCount     = 3
)

var errNoMemberVectors = errors.New("no member track could be embedded")

// ProfileEmbedder is what the profiler needs from the embedding layer.
type ProfileEmbedder interface {
	EmbedTrackBatch(ctx context.Context, songs []*domain.Song, onProgress func(BatchProgress)) []BatchItemResult
	EmbedPlaylistText(ctx context.Context, playlist *domain.Playlist) ([]float32, error)
	BundleHash() string
}

// PlaylistProfiler builds and caches playlist profiles.
type PlaylistProfiler struct {
	embedder ProfileEmbedder
	store    ProfileStore
	moods    *moodTable
	metrics  *metrics.Recorder
	flight   singleflight.Group
}

func NewPlaylistProfiler(embedder ProfileEmbedder, store ProfileStore, matching *config.MatchingConfig, rec *metrics.Recorder) *PlaylistProfiler {
	return &PlaylistProfiler{
		embedder: embedder,
		store:    store,
		moods:    newMoodTable(matching.MoodGroups, matching.GoodTransitions),
		metrics:  rec,
	}
}

// ProfileMethodFor returns the method a playlist with n members is profiled with.
func ProfileMethodFor(n int) domain.ProfileMethod {
	if n >= minLearnedMembers {
		return domain.ProfileMethodLearned
	}
	return domain.ProfileMethodDescribed
}

// ProfileContentHash covers membership, every member's content and the
// playlist's own text. A change to any of them yields a new profile.
func ProfileContentHash(playlist *domain.Playlist, members []*domain.Song, method domain.ProfileMethod) string {
	members = nonNilSongs(members)
	ids := make([]string, 0, len(members))
	content := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
		content = append(content, m.ID+"="+TrackFingerprint(m))
	}
	var analysis *domain.PlaylistAnalysis
	if playlist != nil {
		analysis = playlist.Analysis
	}
	return contenthash.MustHash(struct {
		Membership string               `json:"membership"`
		Content    string               `json:"content"`
		Playlist   string               `json:"playlist"`
		Method     domain.ProfileMethod `json:"method"`
	}{
		Membership: contenthash.HashSet(ids),
		Content:    contenthash.HashSet(content),
		Playlist:   contenthash.MustHash(ExtractPlaylistText(analysis, playlist)),
		Method:     method,
	})
}

// ProfilePlaylist returns the current profile of a playlist, building it
// when membership, member content or the model bundle changed. Concurrent
// requests for the same playlist content share one build.
func (p *PlaylistProfiler) ProfilePlaylist(ctx context.Context, playlist *domain.Playlist, members []*domain.Song) (*domain.PlaylistProfile, error) {
	ctx = logger.SetPlaylistID(ctx, playlist.ID)
	members = nonNilSongs(members)
	method := ProfileMethodFor(len(members))
	contentHash := ProfileContentHash(playlist, members, method)

	ch := p.flight.DoChan(playlist.ID+"|"+contentHash, func() (interface{}, error) {
		return p.resolve(context.WithoutCancel(ctx), playlist, members, method, contentHash)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.CtxDebug(ctx, "Shared in-flight profile build")
		}
		return res.Val.(*domain.PlaylistProfile), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PlaylistProfiler) resolve(ctx context.Context, playlist *domain.Playlist, members []*domain.Song, method domain.ProfileMethod, contentHash string) (*domain.PlaylistProfile, error) {
	existing, err := p.store.GetCurrent(ctx, playlist.ID, p.embedder.BundleHash())
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist profile: %w", err)
	}
	if existing != nil {
		switch {
		case !contenthash.IsCurrent(existing.ContentHash):
			logger.CtxWarn(ctx, "Ignoring profile written by an older extractor: content_hash=%s, current=%s",
				existing.ContentHash, contenthash.Tag())
			p.metrics.ProfileRequest(string(method), metrics.ResultStale)
		case existing.ContentHash == contentHash:
			p.metrics.ProfileRequest(string(method), metrics.ResultHit)
			return existing, nil
		}
	}
	p.metrics.ProfileRequest(string(method), metrics.ResultMiss)

	start := time.Now()
	var profile *domain.PlaylistProfile
	if method == domain.ProfileMethodLearned {
		profile, err = p.learn(ctx, playlist, members)
		if errors.Is(err, errNoMemberVectors) {
			logger.CtxWarn(ctx, "Falling back to described profile: %v", err)
			method = domain.ProfileMethodDescribed
			contentHash = ProfileContentHash(playlist, members, method)
			profile, err = p.describe(ctx, playlist)
		}
	} else {
		profile, err = p.describe(ctx, playlist)
	}
	if err != nil {
		return nil, err
	}

	profile.ID = repository.PlaylistProfileID(playlist.ID, contentHash, p.embedder.BundleHash())
	profile.PlaylistID = playlist.ID
	profile.ContentHash = contentHash
	profile.MembershipHash = contenthash.HashSet(memberIDs(members))
	profile.ModelBundleHash = p.embedder.BundleHash()
	profile.TrackCount = len(members)
	profile.IsCurrent = true
	profile.CreatedAt = time.Now()

	if err := p.store.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save playlist profile: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldStatus: string(profile.Method),
		logger.FieldCount:  profile.SampleSize,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Built playlist profile")
	return profile, nil
}

func (p *PlaylistProfiler) learn(ctx context.Context, playlist *domain.Playlist, members []*domain.Song) (*domain.PlaylistProfile, error) {
	sample := sampleMembers(members, maxProfileSample)

	var vectors [][]float32
	var lastErr error
	for _, res := range p.embedder.EmbedTrackBatch(ctx, sample, nil) {
		if res.Err != nil {
			logger.CtxWarn(ctx, "Skipping member without embedding: track_id=%s, error=%v", res.TrackID, res.Err)
			lastErr = res.Err
			continue
		}
		vectors = append(vectors, res.Vector)
	}
	if len(vectors) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", errNoMemberVectors, lastErr)
		}
		return nil, errNoMemberVectors
	}

	profile := &domain.PlaylistProfile{
		Method:     domain.ProfileMethodLearned,
		Centroid:   pgvector.NewVector(meanVector(vectors)),
		SampleSize: len(vectors),
	}
	p.aggregate(profile, members)
	if playlist.Analysis != nil {
		profile.TargetAudience = playlist.Analysis.Context.TargetAudience
	}
	return profile, nil
}

func (p *PlaylistProfiler) describe(ctx context.Context, playlist *domain.Playlist) (*domain.PlaylistProfile, error) {
	vec, err := p.embedder.EmbedPlaylistText(ctx, playlist)
	if err != nil {
		return nil, err
	}

	profile := &domain.PlaylistProfile{
		Method:            domain.ProfileMethodDescribed,
		Centroid:          pgvector.NewVector(vec),
		GenreDistribution: map[string]float64{},
		MoodDistribution:  map[string]float64{},
		ThemeDistribution: map[string]float64{},
		ContextAverages:   map[string]float64{},
	}
	if a := playlist.Analysis; a != nil {
		if mood := normalizeMood(a.Emotional.DominantMood); mood != "" {
			profile.TopMoods = domain.StringArray{mood}
			profile.MoodDistribution[mood] = 1
		}
		counts := make(map[string]int)
		for _, theme := range a.Themes {
			if name := normalizeTheme(theme.Name); name != "" {
				counts[name]++
			}
		}
		profile.TopThemes = topByCount(counts, topThemeCount)
		profile.ThemeDistribution = distribution(counts, len(a.Themes))
		for k, v := range a.Context.Scores {
			profile.ContextAverages[k] = v
		}
		profile.JourneyShape = p.moods.journeyShape(a.Emotional.Journey)
		profile.TargetAudience = a.Context.TargetAudience
	}
	return profile, nil
}

// aggregate fills the distributions and averages of a learned profile.
// Absent values are skipped, never counted as zero.
func (p *PlaylistProfiler) aggregate(profile *domain.PlaylistProfile, members []*domain.Song) {
	genres := make(map[string]int)
	moods := make(map[string]int)
	themes := make(map[string]int)
	shapes := make(map[domain.JourneyShape]int)
	contextSums := make(map[string]float64)
	contextCounts := make(map[string]int)
	var audio audioAccumulator
	analyzed, themeTotal := 0, 0

	for _, m := range members {
		for _, g := range normalizeGenres(m.Genres) {
			genres[g]++
		}
		a := m.Analysis
		if a == nil {
			continue
		}
		analyzed++
		if mood := normalizeMood(a.Emotional.DominantMood); mood != "" {
			moods[mood]++
		}
		for _, name := range a.ThemeNames() {
			if name = normalizeTheme(name); name != "" {
				themes[name]++
				themeTotal++
			}
		}
		for k, v := range a.Context.Scores {
			contextSums[k] += v
			contextCounts[k]++
		}
		if shape := p.moods.journeyShape(a.Emotional.Journey); shape != "" {
			shapes[shape]++
		}
		audio.add(a.Audio)
	}

	profile.GenreDistribution = distribution(genres, len(members))
	profile.MoodDistribution = distribution(moods, analyzed)
	profile.ThemeDistribution = distribution(themes, themeTotal)
	profile.TopMoods = topByCount(moods, topMoodCount)
	profile.TopThemes = topByCount(themes, topThemeCount)

	profile.ContextAverages = make(map[string]float64, len(contextSums))
	for k, sum := range contextSums {
		profile.ContextAverages[k] = sum / float64(contextCounts[k])
	}
	profile.AudioAverages = audio.averages()
	profile.JourneyShape = dominantShape(shapes)
}

// sampleMembers picks up to n members at an even stride over the members
// sorted by ID, so the same membership always yields the same sample.
func sampleMembers(members []*domain.Song, n int) []*domain.Song {
	sorted := make([]*domain.Song, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if len(sorted) <= n {
		return sorted
	}
	sample := make([]*domain.Song, 0, n)
	for i := 0; i < n; i++ {
		sample = append(sample, sorted[i*len(sorted)/n])
	}
	return sample
}

func memberIDs(members []*domain.Song) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

func normalizeTheme(name string) string {
	return strings.ToLower(normalizeWhitespace(name))
}

// topByCount returns up to n keys by descending count, ties alphabetical.
func topByCount(counts map[string]int, n int) domain.StringArray {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return domain.StringArray(keys)
}

func distribution(counts map[string]int, total int) map[string]float64 {
	out := make(map[string]float64, len(counts))
	if total == 0 {
		return out
	}
	for k, c := range counts {
		out[k] = float64(c) / float64(total)
	}
	return out
}

var shapePrecedence = []domain.JourneyShape{
	domain.JourneyCyclical,
	domain.JourneyAscending,
	domain.JourneyDescending,
	domain.JourneyComplex,
}

func dominantShape(counts map[domain.JourneyShape]int) domain.JourneyShape {
	var best domain.JourneyShape
	bestCount := 0
	for _, shape := range shapePrecedence {
		if counts[shape] > bestCount {
			best, bestCount = shape, counts[shape]
		}
	}
	return best
}

type audioAccumulator struct {
	sums   [6]float64
	counts [6]int
}

func audioFields(a *domain.AudioFeatures) [6]*float64 {
	return [6]*float64{a.Energy, a.Valence, a.Danceability, a.Acousticness, a.Instrumentalness, a.Tempo}
}

func (acc *audioAccumulator) add(a *domain.AudioFeatures) {
	if a == nil {
		return
	}
	for i, v := range audioFields(a) {
		if v != nil {
			acc.sums[i] += *v
			acc.counts[i]++
		}
	}
}

func (acc *audioAccumulator) averages() domain.AudioFeatures {
	var avg [6]*float64
	for i := range acc.sums {
		if acc.counts[i] > 0 {
			avg[i] = domain.Float(acc.sums[i] / float64(acc.counts[i]))
		}
	}
	return domain.AudioFeatures{
		Energy:           avg[0],
		Valence:          avg[1],
		Danceability:     avg[2],
		Acousticness:     avg[3],
		Instrumentalness: avg[4],
		Tempo:            avg[5],
	}
}
