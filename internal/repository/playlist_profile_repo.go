package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/tunematch/internal/domain"
)

// PlaylistProfileRepository stores playlist profiles.
type PlaylistProfileRepository struct {
	db *gorm.DB
}

func NewPlaylistProfileRepository(db *gorm.DB) *PlaylistProfileRepository {
	return &PlaylistProfileRepository{db: db}
}

// GetCurrent returns the current profile of a playlist under a model bundle,
// or nil when none exists.
func (r *PlaylistProfileRepository) GetCurrent(ctx context.Context, playlistID, bundleHash string) (*domain.PlaylistProfile, error) {
	var p domain.PlaylistProfile
	err := r.db.WithContext(ctx).
		Where("playlist_id = ? AND model_bundle_hash = ? AND is_current = ?", playlistID, bundleHash, true).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert stores p as the current profile and demotes the previous one.
func (r *PlaylistProfileRepository) Upsert(ctx context.Context, p *domain.PlaylistProfile) error {
	if p.ID == "" {
		p.ID = PlaylistProfileID(p.PlaylistID, p.ContentHash, p.ModelBundleHash)
	}
	p.IsCurrent = true

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.PlaylistProfile{}).
			Where("playlist_id = ? AND model_bundle_hash = ? AND content_hash <> ?", p.PlaylistID, p.ModelBundleHash, p.ContentHash).
			Update("is_current", false).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "playlist_id"}, {Name: "content_hash"}, {Name: "model_bundle_hash"}},
			UpdateAll: true,
		}).Create(p).Error
	})
}
