package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/tunematch/internal/domain"
)

// MatchResultRepository stores match contexts and their per-candidate results in SQL.
type MatchResultRepository struct {
	db *gorm.DB
}

func NewMatchResultRepository(db *gorm.DB) *MatchResultRepository {
	return &MatchResultRepository{db: db}
}

// GetResults returns cached results of contextHash for the given tracks.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - contextHash: match context hash.
//   - trackIDs: candidate track identifiers.
// Returns:
//   - map[string]*domain.MatchResult: results found, keyed by track ID.
//   - error: non-nil if the query fails.
func (r *MatchResultRepository) GetResults(ctx context.Context, contextHash string, trackIDs []string) (map[string]*domain.MatchResult, error) {
	out := make(map[string]*domain.MatchResult, len(trackIDs))
	if len(trackIDs) == 0 {
		return out, nil
	}

	var rows []domain.MatchResult
	if err := r.db.WithContext(ctx).
		Where("context_hash = ? AND track_id IN ?", contextHash, trackIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].TrackID] = &rows[i]
	}
	return out, nil
}

// SaveContext upserts a context record and refreshes its last-used time.
func (r *MatchResultRepository) SaveContext(ctx context.Context, record *domain.MatchContextRecord) error {
	record.LastUsedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "context_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_used_at"}),
	}).Create(record).Error
}

// SaveResults inserts results. A result already present for (context, track)
// is kept as is.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - results: results to insert.
// Returns:
//   - error: non-nil if the insert fails.
func (r *MatchResultRepository) SaveResults(ctx context.Context, results []*domain.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(results, 200).Error
}

// ListContexts returns every stored context record.
func (r *MatchResultRepository) ListContexts(ctx context.Context) ([]domain.MatchContextRecord, error) {
	var records []domain.MatchContextRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteContexts removes contexts and all their results.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - contextHashes: contexts to remove.
// Returns:
//   - int64: number of result rows deleted.
//   - error: non-nil if the transaction fails.
func (r *MatchResultRepository) DeleteContexts(ctx context.Context, contextHashes []string) (int64, error) {
	if len(contextHashes) == 0 {
		return 0, nil
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("context_hash IN ?", contextHashes).Delete(&domain.MatchResult{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Where("context_hash IN ?", contextHashes).Delete(&domain.MatchContextRecord{}).Error
	})
	return deleted, err
}
