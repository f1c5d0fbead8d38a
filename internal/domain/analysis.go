package domain

// AudioFeatures are optional signal-level descriptors of a track.
// A nil field means the feature is absent, which is different from a present zero.
type AudioFeatures struct {
	Energy           *float64 `json:"energy,omitempty"`
	Valence          *float64 `json:"valence,omitempty"`
	Danceability     *float64 `json:"danceability,omitempty"`
	Acousticness     *float64 `json:"acousticness,omitempty"`
	Instrumentalness *float64 `json:"instrumentalness,omitempty"`
	Tempo            *float64 `json:"tempo,omitempty"` // BPM
}

// IsEmpty reports whether no feature is present.
func (a *AudioFeatures) IsEmpty() bool {
	return a == nil || (a.Energy == nil && a.Valence == nil && a.Danceability == nil &&
		a.Acousticness == nil && a.Instrumentalness == nil && a.Tempo == nil)
}

// Float returns a pointer to v, for building optional fields.
func Float(v float64) *float64 {
	return &v
}

// Theme is one lyrical or musical theme with the analyzer's confidence in it.
type Theme struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// JourneyStep is the mood of one section of a track.
type JourneyStep struct {
	Section string `json:"section"`
	Mood    string `json:"mood"`
}

type EmotionalProfile struct {
	DominantMood string        `json:"dominant_mood"`
	Description  string        `json:"description,omitempty"`
	Intensity    *float64      `json:"intensity,omitempty"`
	Journey      []JourneyStep `json:"journey,omitempty"`
}

// ContextProfile scores how well an entity fits listening contexts such as
// "workout" or "study", each in [0,1].
type ContextProfile struct {
	Scores         map[string]float64 `json:"scores,omitempty"`
	PrimarySetting string             `json:"primary_setting,omitempty"`
	TargetAudience string             `json:"target_audience,omitempty"`
}

// TrackAnalysis is the externally produced, read-only analysis of one track.
type TrackAnalysis struct {
	Version     string           `json:"version,omitempty"`
	Themes      []Theme          `json:"themes,omitempty"`
	MainMessage string           `json:"main_message,omitempty"`
	Emotional   EmotionalProfile `json:"emotional"`
	Context     ContextProfile   `json:"context"`
	Audio       *AudioFeatures   `json:"audio_features,omitempty"`
}

// ThemeNames returns theme names in analysis order.
func (a *TrackAnalysis) ThemeNames() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Themes))
	for _, t := range a.Themes {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}

// PlaylistAnalysis is the externally produced analysis of a playlist's description.
type PlaylistAnalysis struct {
	Version     string           `json:"version,omitempty"`
	Themes      []Theme          `json:"themes,omitempty"`
	MainMessage string           `json:"main_message,omitempty"`
	Emotional   EmotionalProfile `json:"emotional"`
	Context     ContextProfile   `json:"context"`
}
