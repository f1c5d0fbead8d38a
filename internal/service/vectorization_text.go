package service

import (
	"math"
	"sort"
	"strings"

	"github.com/timmy/tunematch/internal/contenthash"
	"github.com/timmy/tunematch/internal/domain"
)

const maxListeningContexts = 3

// ExtractTrackText maps a song and its analysis to the three embedding
// buckets. Output depends only on the inputs, so equal input always yields
// byte-identical text.
func ExtractTrackText(analysis *domain.TrackAnalysis, song *domain.Song) domain.VectorizationText {
	var text domain.VectorizationText
	if song != nil {
		text.Metadata = joinSegments(
			labeled("name", song.Name),
			labeled("artist", song.Artist),
			labeled("album", song.Album),
			labeled("genres", strings.Join(normalizeGenres(song.Genres), ", ")),
		)
	}
	if analysis != nil {
		text.Analysis = analysisBucket(analysis.Themes, analysis.MainMessage)
		text.Context = contextBucket(analysis.Emotional, analysis.Context)
	}
	return text
}

// ExtractPlaylistText maps a playlist and its optional analysis to buckets.
func ExtractPlaylistText(analysis *domain.PlaylistAnalysis, playlist *domain.Playlist) domain.VectorizationText {
	var text domain.VectorizationText
	if playlist != nil {
		text.Metadata = joinSegments(
			labeled("playlist", playlist.Name),
			labeled("description", playlist.Description),
		)
	}
	if analysis != nil {
		text.Analysis = analysisBucket(analysis.Themes, analysis.MainMessage)
		text.Context = contextBucket(analysis.Emotional, analysis.Context)
	}
	return text
}

// TrackContentHash keys a track embedding: it covers exactly the embedded text.
func TrackContentHash(text domain.VectorizationText) string {
	return contenthash.MustHash(text)
}

// trackFingerprint covers everything the profiler and scorer read from a
// song, beyond the embedded text.
type trackFingerprint struct {
	Text     string                `json:"text"`
	Audio    *domain.AudioFeatures `json:"audio,omitempty"`
	Scores   map[string]float64    `json:"scores,omitempty"`
	Journey  []domain.JourneyStep  `json:"journey,omitempty"`
	Themes   []string              `json:"themes,omitempty"`
	Mood     string                `json:"mood,omitempty"`
	Genres   []string              `json:"genres,omitempty"`
	Audience string                `json:"audience,omitempty"`
}

// TrackFingerprint digests a song's full scoring input.
func TrackFingerprint(song *domain.Song) string {
	fp := trackFingerprint{
		Text: TrackContentHash(songText(song)),
	}
	if song != nil {
		fp.Genres = normalizeGenres(song.Genres)
		if a := song.Analysis; a != nil {
			fp.Audio = a.Audio
			fp.Scores = a.Context.Scores
			fp.Journey = a.Emotional.Journey
			fp.Themes = a.ThemeNames()
			fp.Mood = a.Emotional.DominantMood
			fp.Audience = a.Context.TargetAudience
		}
	}
	return contenthash.MustHash(fp)
}

func songText(song *domain.Song) domain.VectorizationText {
	if song == nil {
		return domain.VectorizationText{}
	}
	return ExtractTrackText(song.Analysis, song)
}

func analysisBucket(themes []domain.Theme, mainMessage string) string {
	segments := make([]string, 0, len(themes)*3+1)
	for _, theme := range themes {
		name := normalizeWhitespace(theme.Name)
		if name == "" {
			continue
		}
		line := "theme: " + name
		if desc := normalizeWhitespace(theme.Description); desc != "" {
			line += " - " + desc
		}
		for i := 0; i < themeRepeats(theme.Confidence); i++ {
			segments = append(segments, line)
		}
	}
	segments = append(segments, labeled("message", mainMessage))
	return joinSegments(segments...)
}

// themeRepeats emphasizes confident themes: max(1, round(confidence*3)).
func themeRepeats(confidence float64) int {
	n := int(math.Round(confidence * 3))
	if n < 1 {
		return 1
	}
	return n
}

func contextBucket(emotional domain.EmotionalProfile, ctxProfile domain.ContextProfile) string {
	segments := []string{
		labeled("mood", emotional.DominantMood),
		labeled("feeling", emotional.Description),
	}
	if emotional.Intensity != nil {
		segments = append(segments, labeled("intensity", IntensityBand(*emotional.Intensity)))
	}
	segments = append(segments,
		labeled("setting", ctxProfile.PrimarySetting),
		labeled("contexts", strings.Join(topContexts(ctxProfile.Scores, maxListeningContexts), ", ")),
	)
	return joinSegments(segments...)
}

// IntensityBand labels an emotional intensity in [0,1].
func IntensityBand(intensity float64) string {
	switch {
	case intensity > 0.8:
		return "very intense"
	case intensity > 0.6:
		return "intense"
	case intensity > 0.4:
		return "moderate"
	case intensity > 0.2:
		return "mild"
	default:
		return "subtle"
	}
}

// topContexts returns up to n positive-scored context names, highest first,
// ties broken by name.
func topContexts(scores map[string]float64, n int) []string {
	names := make([]string, 0, len(scores))
	for name, score := range scores {
		if score > 0 && normalizeWhitespace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	for i := range names {
		names[i] = normalizeWhitespace(names[i])
	}
	return names
}

func normalizeGenres(genres []string) []string {
	lowered := make([]string, 0, len(genres))
	for _, g := range genres {
		if g = strings.ToLower(normalizeWhitespace(g)); g != "" {
			lowered = append(lowered, g)
		}
	}
	return contenthash.SortedSet(lowered)
}

func labeled(label, value string) string {
	value = normalizeWhitespace(value)
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func joinSegments(segments ...string) string {
	kept := segments[:0:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n")
}

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
