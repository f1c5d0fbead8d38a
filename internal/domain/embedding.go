package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/timmy/tunematch/internal/contenthash"
)

// ModelBundle identifies the exact set of models in effect. Changing any of
// them invalidates every cache row keyed by the bundle hash.
type ModelBundle struct {
	EmbeddingModelID string `json:"embedding_model_id"`
	RerankerModelID  string `json:"reranker_model_id,omitempty"`
	EmotionModelID   string `json:"emotion_model_id,omitempty"`
	Version          string `json:"version"`
}

// Hash returns the version-tagged digest of the bundle.
func (b ModelBundle) Hash() string {
	return contenthash.MustHash(b)
}

// TrackEmbedding is one cached vector for a track under a model bundle.
// Rows are never mutated in place except for the IsCurrent flag; a content or
// bundle change writes a new row.
type TrackEmbedding struct {
	ID              string          `gorm:"type:text;primaryKey" json:"id"`
	TrackID         string          `gorm:"type:text;not null;uniqueIndex:idx_track_embeddings_key;index:idx_track_embeddings_current" json:"track_id"`
	ContentHash     string          `gorm:"type:text;not null;uniqueIndex:idx_track_embeddings_key" json:"content_hash"`
	ModelBundleHash string          `gorm:"type:text;not null;uniqueIndex:idx_track_embeddings_key;index:idx_track_embeddings_current" json:"model_bundle_hash"`
	Model           string          `gorm:"type:text;not null" json:"model"`
	Dimensions      int             `json:"dimensions"`
	Vector          pgvector.Vector `gorm:"type:text;not null" json:"-"`
	IsCurrent       bool            `gorm:"not null;default:true;index:idx_track_embeddings_current" json:"is_current"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (TrackEmbedding) TableName() string {
	return "track_embeddings"
}
