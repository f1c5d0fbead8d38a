package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
)

// No-data values of the tiers that run behind the gate.
const (
	noDataContext  = 0.0
	noDataThematic = 0.0
	noDataFlow     = 0.5
	noDataAudio    = 0.5
	// missing energy, valence or mood on either side of a flow pair
	neutralFlowPart = 0.5
)

// SimilarityMatcher is the part of SemanticMatcher the scorer uses.
type SimilarityMatcher interface {
	AreSimilar(ctx context.Context, a, b string, threshold float64) (bool, error)
	CountMatches(ctx context.Context, listA, listB []string, threshold float64) (int, error)
}

// DeepTiers are the tiers that only run for candidates passing the gate.
type DeepTiers interface {
	Context(ctx context.Context, in *ScoreInput) float64
	// Thematic returns the theme overlap score and the mood contradiction flag.
	Thematic(ctx context.Context, in *ScoreInput) (score, contradiction float64)
	Flow(ctx context.Context, in *ScoreInput) float64
}

// tierScorer computes every tier from the matching config.
type tierScorer struct {
	cfg     *config.MatchingConfig
	matcher SimilarityMatcher
	moods   *moodTable
}

func newTierScorer(matcher SimilarityMatcher, cfg *config.MatchingConfig) *tierScorer {
	return &tierScorer{
		cfg:     cfg,
		matcher: matcher,
		moods:   newMoodTable(cfg.MoodGroups, cfg.GoodTransitions),
	}
}

// metadata: shared genre plus a semantic mood match against the profile's top moods.
func (t *tierScorer) metadata(ctx context.Context, in *ScoreInput) float64 {
	score := 0.0
	for _, g := range normalizeGenres(in.Candidate.Genres) {
		if _, ok := in.Profile.GenreDistribution[g]; ok {
			score += t.cfg.GenreMatchWeight
			break
		}
	}

	mood := in.Candidate.Mood()
	if mood != "" {
		for _, top := range in.Profile.TopMoods {
			ok, err := t.matcher.AreSimilar(ctx, mood, top, t.cfg.SimilarityThreshold)
			if err != nil {
				logger.CtxWarn(ctx, "Mood comparison failed, treating as no match: mood=%s, error=%v", mood, err)
				break
			}
			if ok {
				score += t.cfg.MoodMatchWeight
				break
			}
		}
	}
	return math.Min(1, score)
}

func (t *tierScorer) vector(in *ScoreInput) float64 {
	centroid := in.Profile.Vector()
	if len(in.Vector) == 0 || len(centroid) == 0 {
		return 0
	}
	return clamp01(cosineSimilarity(in.Vector, centroid))
}

// audio averages per-feature closeness over features present on both sides.
func (t *tierScorer) audio(in *ScoreInput) float64 {
	cand := in.Candidate.Audio()
	if cand == nil {
		return noDataAudio
	}
	prof := &in.Profile.AudioAverages
	w := t.cfg.AudioFeatures

	pairs := []struct {
		weight float64
		a, b   *float64
		tempo  bool
	}{
		{w.Energy, cand.Energy, prof.Energy, false},
		{w.Valence, cand.Valence, prof.Valence, false},
		{w.Danceability, cand.Danceability, prof.Danceability, false},
		{w.Acousticness, cand.Acousticness, prof.Acousticness, false},
		{w.Instrumentalness, cand.Instrumentalness, prof.Instrumentalness, false},
		{w.Tempo, cand.Tempo, prof.Tempo, true},
	}

	var sum, weights float64
	for _, p := range pairs {
		if p.a == nil || p.b == nil || p.weight == 0 {
			continue
		}
		diff := math.Abs(*p.a - *p.b)
		if p.tempo {
			diff = math.Min(1, diff/t.cfg.TempoRange)
		}
		sum += p.weight * clamp01(1-diff)
		weights += p.weight
	}
	if weights == 0 {
		return noDataAudio
	}
	return sum / weights
}

func (t *tierScorer) Context(ctx context.Context, in *ScoreInput) float64 {
	a := in.Candidate.Analysis
	if a == nil || (len(a.Context.Scores) == 0 && a.Context.TargetAudience == "") {
		return noDataContext
	}

	var sum float64
	shared := 0
	for key, trackScore := range a.Context.Scores {
		if profileScore, ok := in.Profile.ContextAverages[key]; ok {
			sum += math.Min(trackScore, profileScore)
			shared++
		}
	}
	score := 0.0
	if shared > 0 {
		score = sum / float64(shared)
	}
	if audienceOverlaps(a.Context.TargetAudience, profileThemes(in.Profile)) {
		score += t.cfg.AudienceBonus
	}
	return math.Min(1, score)
}

func (t *tierScorer) Thematic(ctx context.Context, in *ScoreInput) (float64, float64) {
	contradiction := 0.0
	if len(in.Profile.TopMoods) > 0 && t.moods.opposed(in.Candidate.Mood(), in.Profile.TopMoods[0]) {
		contradiction = 1
	}

	themes := in.Candidate.Analysis.ThemeNames()
	if len(themes) == 0 {
		return noDataThematic, contradiction
	}
	n, err := t.matcher.CountMatches(ctx, themes, profileThemes(in.Profile), t.cfg.SimilarityThreshold)
	if err != nil {
		logger.CtxWarn(ctx, "Theme comparison failed, using no-data score: error=%v", err)
		return noDataThematic, contradiction
	}
	return math.Min(1, float64(n)*t.cfg.PerThemeWeight), contradiction
}

// Flow scores how the candidate follows the last tracks already in the playlist.
func (t *tierScorer) Flow(ctx context.Context, in *ScoreInput) float64 {
	anchors := in.Existing
	if window := t.cfg.FlowWindow; len(anchors) > window {
		anchors = anchors[len(anchors)-window:]
	}
	if len(anchors) == 0 {
		return noDataFlow
	}

	candMood := in.Candidate.Mood()
	candAudio := in.Candidate.Audio()
	var total float64
	for _, prev := range anchors {
		mood := neutralFlowPart
		if prevMood := prev.Mood(); prevMood != "" && candMood != "" {
			mood = t.moods.transition(prevMood, candMood)
		}
		prevAudio := prev.Audio()
		energy := closeness(featureOf(prevAudio, func(a *domain.AudioFeatures) *float64 { return a.Energy }),
			featureOf(candAudio, func(a *domain.AudioFeatures) *float64 { return a.Energy }))
		valence := closeness(featureOf(prevAudio, func(a *domain.AudioFeatures) *float64 { return a.Valence }),
			featureOf(candAudio, func(a *domain.AudioFeatures) *float64 { return a.Valence }))

		total += t.cfg.Flow.Mood*mood + t.cfg.Flow.Energy*energy + t.cfg.Flow.Valence*valence
	}
	return total / float64(len(anchors))
}

func featureOf(a *domain.AudioFeatures, get func(*domain.AudioFeatures) *float64) *float64 {
	if a == nil {
		return nil
	}
	return get(a)
}

func closeness(a, b *float64) float64 {
	if a == nil || b == nil {
		return neutralFlowPart
	}
	return clamp01(1 - math.Abs(*a-*b))
}

// profileThemes is the profile's theme vocabulary, sorted.
func profileThemes(p *domain.PlaylistProfile) []string {
	seen := make(map[string]struct{}, len(p.ThemeDistribution)+len(p.TopThemes))
	for name := range p.ThemeDistribution {
		seen[name] = struct{}{}
	}
	for _, name := range p.TopThemes {
		seen[name] = struct{}{}
	}
	themes := make([]string, 0, len(seen))
	for name := range seen {
		themes = append(themes, name)
	}
	sort.Strings(themes)
	return themes
}

// audienceOverlaps reports whether the audience text shares a word of three
// or more letters with the theme vocabulary.
func audienceOverlaps(audience string, themes []string) bool {
	words := significantWords(audience)
	if len(words) == 0 {
		return false
	}
	vocabulary := make(map[string]struct{})
	for _, theme := range themes {
		for _, w := range significantWords(theme) {
			vocabulary[w] = struct{}{}
		}
	}
	for _, w := range words {
		if _, ok := vocabulary[w]; ok {
			return true
		}
	}
	return false
}

func significantWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			words = append(words, f)
		}
	}
	return dedupeStrings(words)
}
