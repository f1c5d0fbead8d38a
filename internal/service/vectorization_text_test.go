package service

import (
	"strings"
	"testing"

	"github.com/timmy/tunematch/internal/domain"
)

func TestExtractTrackText(t *testing.T) {
	intensity := 0.7
	song := &domain.Song{
		Name:   "  Golden   Hour ",
		Artist: "JVKE",
		Album:  "this is what ____ feels like",
		Genres: []string{"Pop", "indie pop", "pop"},
	}
	analysis := &domain.TrackAnalysis{
		Themes: []domain.Theme{
			{Name: "love", Description: "falling for someone", Confidence: 0.9},
			{Name: "time", Confidence: 0.1},
		},
		MainMessage: "cherish the moment",
		Emotional:   domain.EmotionalProfile{DominantMood: "romantic", Description: "warm", Intensity: &intensity},
		Context: domain.ContextProfile{
			PrimarySetting: "sunset drive",
			Scores:         map[string]float64{"date": 0.9, "study": 0.2, "party": 0.5, "sleep": 0.5, "gym": 0},
		},
	}

	got := ExtractTrackText(analysis, song)

	wantMetadata := "name: Golden Hour\nartist: JVKE\nalbum: this is what ____ feels like\ngenres: indie pop, pop"
	if got.Metadata != wantMetadata {
		t.Errorf("Metadata = %q, want %q", got.Metadata, wantMetadata)
	}
	wantAnalysis := strings.Repeat("theme: love - falling for someone\n", 3) + "theme: time\nmessage: cherish the moment"
	if got.Analysis != wantAnalysis {
		t.Errorf("Analysis = %q, want %q", got.Analysis, wantAnalysis)
	}
	wantContext := "mood: romantic\nfeeling: warm\nintensity: intense\nsetting: sunset drive\ncontexts: date, party, sleep"
	if got.Context != wantContext {
		t.Errorf("Context = %q, want %q", got.Context, wantContext)
	}

	if again := ExtractTrackText(analysis, song); again != got {
		t.Error("ExtractTrackText is not deterministic")
	}
}

func TestExtractTrackTextWithoutAnalysis(t *testing.T) {
	got := ExtractTrackText(nil, &domain.Song{Name: "Solo"})
	if got.Metadata != "name: Solo" || got.Analysis != "" || got.Context != "" {
		t.Errorf("ExtractTrackText() = %+v", got)
	}
	if !ExtractTrackText(nil, nil).IsEmpty() {
		t.Error("nil song and analysis should yield empty text")
	}
}

func TestExtractPlaylistText(t *testing.T) {
	got := ExtractPlaylistText(&domain.PlaylistAnalysis{
		MainMessage: "keep moving",
		Emotional:   domain.EmotionalProfile{DominantMood: "energetic"},
	}, &domain.Playlist{Name: "Run", Description: "tempo runs"})

	if got.Metadata != "playlist: Run\ndescription: tempo runs" {
		t.Errorf("Metadata = %q", got.Metadata)
	}
	if got.Analysis != "message: keep moving" {
		t.Errorf("Analysis = %q", got.Analysis)
	}
	if got.Context != "mood: energetic" {
		t.Errorf("Context = %q", got.Context)
	}
}

func TestIntensityBand(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.95, "very intense"},
		{0.8, "intense"},
		{0.61, "intense"},
		{0.5, "moderate"},
		{0.3, "mild"},
		{0.2, "subtle"},
		{0, "subtle"},
	}
	for _, tt := range tests {
		if got := IntensityBand(tt.in); got != tt.want {
			t.Errorf("IntensityBand(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestThemeRepeats(t *testing.T) {
	tests := map[float64]int{0: 1, 0.1: 1, 0.5: 2, 0.7: 2, 0.84: 3, 1: 3}
	for confidence, want := range tests {
		if got := themeRepeats(confidence); got != want {
			t.Errorf("themeRepeats(%v) = %d, want %d", confidence, got, want)
		}
	}
}

func TestTrackContentHashIgnoresNonTextChanges(t *testing.T) {
	song := analyzedSong("a", "happy", "love")
	before := TrackContentHash(songText(song))
	fingerprint := TrackFingerprint(song)

	song.Analysis.Audio = audio(0.5, 0.5, 0.5)
	if TrackContentHash(songText(song)) != before {
		t.Error("audio change altered the embedding content hash")
	}
	if TrackFingerprint(song) == fingerprint {
		t.Error("audio change did not alter the fingerprint")
	}

	song.Name = "Renamed"
	if TrackContentHash(songText(song)) == before {
		t.Error("name change did not alter the embedding content hash")
	}
}
