package domain

import (
	"time"

	"gorm.io/datatypes"

	"github.com/timmy/tunematch/internal/contenthash"
)

// MatchContext identifies one reproducible matching run.
type MatchContext struct {
	ConfigHash          string `json:"config_hash"`
	ModelBundleHash     string `json:"model_bundle_hash"`
	PlaylistProfileHash string `json:"playlist_profile_hash"`
	CandidateSetHash    string `json:"candidate_set_hash"`
}

// Hash returns the digest that keys every cached result of this context.
func (c MatchContext) Hash() string {
	return contenthash.MustHash(c)
}

// MatchContextRecord persists a context so stale ones can be pruned.
type MatchContextRecord struct {
	ContextHash         string    `gorm:"type:text;primaryKey" json:"context_hash"`
	PlaylistID          string    `gorm:"type:text;not null;index" json:"playlist_id"`
	ConfigHash          string    `gorm:"type:text;not null;index" json:"config_hash"`
	ModelBundleHash     string    `gorm:"type:text;not null;index" json:"model_bundle_hash"`
	PlaylistProfileHash string    `gorm:"type:text;not null" json:"playlist_profile_hash"`
	ProfileContentHash  string    `gorm:"type:text;not null" json:"profile_content_hash"`
	CandidateSetHash    string    `gorm:"type:text;not null" json:"candidate_set_hash"`
	CandidateCount      int       `json:"candidate_count"`
	CreatedAt           time.Time `json:"created_at"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

func (MatchContextRecord) TableName() string {
	return "match_contexts"
}

// ComponentScores is the per-tier breakdown behind one similarity score.
type ComponentScores struct {
	Metadata              float64 `json:"metadata"`
	Vector                float64 `json:"vector"`
	Audio                 float64 `json:"audio"`
	Context               float64 `json:"context"`
	Thematic              float64 `json:"thematic"`
	Flow                  float64 `json:"flow"`
	ThematicContradiction float64 `json:"thematic_contradiction"`
	PreScore              float64 `json:"pre_score"`
}

// MatchResult is one candidate's score under one match context.
// Written once per (ContextHash, TrackID) and never updated.
type MatchResult struct {
	ContextHash     string                               `gorm:"type:text;primaryKey" json:"context_hash"`
	TrackID         string                               `gorm:"type:text;primaryKey" json:"track_id"`
	Similarity      float64                              `gorm:"not null" json:"similarity"`
	ComponentScores datatypes.JSONType[ComponentScores] `json:"component_scores"`
	WeightProfile   string                               `gorm:"type:text" json:"weight_profile"`
	DeepAnalysis    bool                                 `json:"deep_analysis"`
	VetoApplied     bool                                 `json:"veto_applied"`
	VetoReason      string                               `gorm:"type:text" json:"veto_reason,omitempty"`
	CreatedAt       time.Time                            `json:"created_at"`
}

func (MatchResult) TableName() string {
	return "match_results"
}

// Scores returns the component breakdown.
func (r *MatchResult) Scores() ComponentScores {
	return r.ComponentScores.Data()
}
