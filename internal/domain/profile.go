package domain

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/pgvector/pgvector-go"
)

// ProfileMethod records how a playlist profile was built.
type ProfileMethod string

const (
	// ProfileMethodLearned aggregates member tracks.
	ProfileMethodLearned ProfileMethod = "learned"
	// ProfileMethodDescribed embeds the playlist's own name and description.
	ProfileMethodDescribed ProfileMethod = "described"
)

// JourneyShape classifies how moods move across a track.
type JourneyShape string

const (
	JourneyCyclical   JourneyShape = "cyclical"
	JourneyAscending  JourneyShape = "ascending"
	JourneyDescending JourneyShape = "descending"
	JourneyComplex    JourneyShape = "complex"
)

// StringArray stores a string slice as JSON text.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = StringArray{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("failed to scan StringArray")
	}
}

// PlaylistProfile is the aggregated taste of a playlist under one model bundle.
type PlaylistProfile struct {
	ID              string        `gorm:"type:text;primaryKey" json:"id"`
	PlaylistID      string        `gorm:"type:text;not null;uniqueIndex:idx_playlist_profiles_key;index:idx_playlist_profiles_current" json:"playlist_id"`
	ContentHash     string        `gorm:"type:text;not null;uniqueIndex:idx_playlist_profiles_key" json:"content_hash"`
	MembershipHash  string        `gorm:"type:text;not null" json:"membership_hash"`
	ModelBundleHash string        `gorm:"type:text;not null;uniqueIndex:idx_playlist_profiles_key;index:idx_playlist_profiles_current" json:"model_bundle_hash"`
	Method          ProfileMethod `gorm:"type:text;not null" json:"method"`

	Centroid pgvector.Vector `gorm:"type:text" json:"-"`

	AudioAverages     AudioFeatures      `gorm:"type:text;serializer:json" json:"audio_averages"`
	GenreDistribution map[string]float64 `gorm:"type:text;serializer:json" json:"genre_distribution"`
	MoodDistribution  map[string]float64 `gorm:"type:text;serializer:json" json:"mood_distribution"`
	ThemeDistribution map[string]float64 `gorm:"type:text;serializer:json" json:"theme_distribution"`
	ContextAverages   map[string]float64 `gorm:"type:text;serializer:json" json:"context_averages"`
	TopMoods          StringArray        `gorm:"type:text" json:"top_moods"`
	TopThemes         StringArray        `gorm:"type:text" json:"top_themes"`
	JourneyShape      JourneyShape       `gorm:"type:text" json:"journey_shape,omitempty"`
	TargetAudience    string             `gorm:"type:text" json:"target_audience,omitempty"`

	TrackCount int `json:"track_count"`
	SampleSize int `json:"sample_size"`

	IsCurrent bool      `gorm:"not null;default:true;index:idx_playlist_profiles_current" json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

func (PlaylistProfile) TableName() string {
	return "playlist_profiles"
}

// Vector returns the centroid as a plain slice, nil when absent.
func (p *PlaylistProfile) Vector() []float32 {
	if p == nil {
		return nil
	}
	return p.Centroid.Slice()
}
