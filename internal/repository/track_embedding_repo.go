package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/tunematch/internal/domain"
)

// TrackEmbeddingRepository stores cached track vectors.
type TrackEmbeddingRepository struct {
	db *gorm.DB
}

// NewTrackEmbeddingRepository creates a new TrackEmbeddingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TrackEmbeddingRepository: repository instance bound to db.
func NewTrackEmbeddingRepository(db *gorm.DB) *TrackEmbeddingRepository {
	return &TrackEmbeddingRepository{db: db}
}

// GetCurrent returns the current embedding of a track under a model bundle.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - trackID: track identifier.
//   - bundleHash: model bundle hash.
// Returns:
//   - *domain.TrackEmbedding: the current row, or nil when none exists.
//   - error: non-nil if the lookup fails.
func (r *TrackEmbeddingRepository) GetCurrent(ctx context.Context, trackID, bundleHash string) (*domain.TrackEmbedding, error) {
	var emb domain.TrackEmbedding
	err := r.db.WithContext(ctx).
		Where("track_id = ? AND model_bundle_hash = ? AND is_current = ?", trackID, bundleHash, true).
		Order("created_at DESC").
		First(&emb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// GetCurrentBatch returns current embeddings for many tracks, keyed by track ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - trackIDs: track identifiers.
//   - bundleHash: model bundle hash.
// Returns:
//   - map[string]*domain.TrackEmbedding: rows found; missing tracks are absent.
//   - error: non-nil if the query fails.
func (r *TrackEmbeddingRepository) GetCurrentBatch(ctx context.Context, trackIDs []string, bundleHash string) (map[string]*domain.TrackEmbedding, error) {
	out := make(map[string]*domain.TrackEmbedding, len(trackIDs))
	if len(trackIDs) == 0 {
		return out, nil
	}

	var rows []domain.TrackEmbedding
	if err := r.db.WithContext(ctx).
		Where("track_id IN ? AND model_bundle_hash = ? AND is_current = ?", trackIDs, bundleHash, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].TrackID] = &rows[i]
	}
	return out, nil
}

// Upsert stores emb as the current embedding of its track and demotes any
// other row for the same (track, bundle).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - emb: embedding row; ID is derived from its key when empty.
// Returns:
//   - error: non-nil if the transaction fails.
func (r *TrackEmbeddingRepository) Upsert(ctx context.Context, emb *domain.TrackEmbedding) error {
	if emb.ID == "" {
		emb.ID = TrackEmbeddingID(emb.TrackID, emb.ContentHash, emb.ModelBundleHash)
	}
	emb.IsCurrent = true

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.TrackEmbedding{}).
			Where("track_id = ? AND model_bundle_hash = ? AND content_hash <> ?", emb.TrackID, emb.ModelBundleHash, emb.ContentHash).
			Update("is_current", false).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}, {Name: "content_hash"}, {Name: "model_bundle_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector", "model", "dimensions", "is_current"}),
		}).Create(emb).Error
	})
}

// DeleteStale removes rows that are no longer current.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of rows deleted.
//   - error: non-nil if the delete fails.
func (r *TrackEmbeddingRepository) DeleteStale(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("is_current = ?", false).Delete(&domain.TrackEmbedding{})
	return res.RowsAffected, res.Error
}
