package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/reelcast/internal/models"
)

// activeAssetStatuses are the stored statuses that count against a user's limit.
var activeAssetStatuses = []models.AssetStatus{
	models.AssetStatusQueued,
	models.AssetStatusProcessing,
	models.AssetStatusEditing,
}

// assetRepo implements AssetRepository using GORM.
type assetRepo struct {
	db *gorm.DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *gorm.DB) *assetRepo {
	return &assetRepo{db: db}
}

// Create creates a new asset.
func (r *assetRepo) Create(ctx context.Context, asset *models.Asset) error {
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return fmt.Errorf("creating asset: %w", err)
	}
	return nil
}

// Get retrieves an asset by ID.
func (r *assetRepo) Get(ctx context.Context, id models.ULID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAssetNotFound
		}
		return nil, fmt.Errorf("getting asset %s: %w", id, err)
	}
	return &asset, nil
}

// UpdateFields writes only the named columns. A missing asset yields
// models.ErrAssetNotFound.
func (r *assetRepo) UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating asset %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when no value changed, so confirm the row is gone.
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking asset %s: %w", id, err)
		}
		if count == 0 {
			return models.ErrAssetNotFound
		}
	}
	return nil
}

// UpdateFieldsIfIdle writes the named columns in one conditional statement,
// so two callers racing for the same idle asset cannot both succeed.
func (r *assetRepo) UpdateFieldsIfIdle(ctx context.Context, id models.ULID, fields map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Asset{}).
		Where("id = ? AND status NOT IN ?", id, activeAssetStatuses).
		Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("claiming asset %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CountActiveJobsFor counts a user's assets currently queued or processing.
func (r *assetRepo) CountActiveJobsFor(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Where("user_id = ? AND status IN ?", userID, activeAssetStatuses).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting active assets for %s: %w", userID, err)
	}
	return count, nil
}

// ListActive returns assets in an active status that have not been written
// since updatedBefore, oldest first.
func (r *assetRepo) ListActive(ctx context.Context, updatedBefore time.Time) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", activeAssetStatuses, updatedBefore.UTC()).
		Order("updated_at ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("listing active assets: %w", err)
	}
	return assets, nil
}
