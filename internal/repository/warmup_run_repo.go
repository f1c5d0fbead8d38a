package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/timmy/tunematch/internal/domain"
)

// WarmupRunRepository records warm-up runs.
type WarmupRunRepository struct {
	db *gorm.DB
}

// NewWarmupRunRepository creates a new WarmupRunRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *WarmupRunRepository: repository instance bound to db.
func NewWarmupRunRepository(db *gorm.DB) *WarmupRunRepository {
	return &WarmupRunRepository{db: db}
}

// Create inserts a new run record.
func (r *WarmupRunRepository) Create(ctx context.Context, run *domain.WarmupRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves progress counters, status and cursor of a run.
func (r *WarmupRunRepository) Update(ctx context.Context, run *domain.WarmupRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// GetLatest returns the most recent run for a source, or nil when none exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sourceID: analysis source identifier.
// Returns:
//   - *domain.WarmupRun: latest run if found.
//   - error: non-nil if the lookup fails.
func (r *WarmupRunRepository) GetLatest(ctx context.Context, sourceID string) (*domain.WarmupRun, error) {
	var run domain.WarmupRun
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
