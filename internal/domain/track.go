package domain

// Song is a track together with its optional analysis.
type Song struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Artist   string         `json:"artist"`
	Album    string         `json:"album,omitempty"`
	Genres   []string       `json:"genres,omitempty"`
	Analysis *TrackAnalysis `json:"analysis,omitempty"`
}

// Audio returns the song's audio features, or nil when not analyzed.
func (s *Song) Audio() *AudioFeatures {
	if s == nil || s.Analysis == nil {
		return nil
	}
	return s.Analysis.Audio
}

// Mood returns the dominant mood, or "" when not analyzed.
func (s *Song) Mood() string {
	if s == nil || s.Analysis == nil {
		return ""
	}
	return s.Analysis.Emotional.DominantMood
}

// Playlist is a target playlist. TrackIDs lists members in playlist order.
type Playlist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	TrackIDs    []string          `json:"track_ids,omitempty"`
	Analysis    *PlaylistAnalysis `json:"analysis,omitempty"`
}

// VectorizationText is the three-bucket text an entity is embedded from.
type VectorizationText struct {
	Metadata string `json:"metadata"`
	Analysis string `json:"analysis"`
	Context  string `json:"context"`
}

// IsEmpty reports whether all buckets are empty.
func (t VectorizationText) IsEmpty() bool {
	return t.Metadata == "" && t.Analysis == "" && t.Context == ""
}
