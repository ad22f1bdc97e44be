package database

import (
	"context"
	"errors"
	"fmt"

	"tradesim/internal/models"

	"gorm.io/gorm"
)

// ErrAssetNotFound is returned when no active asset matches a lookup.
var ErrAssetNotFound = errors.New("asset not found")

// AssetStore reads the asset catalog.
type AssetStore struct {
	db *gorm.DB
}

// NewAssetStore creates an AssetStore backed by db.
func NewAssetStore(db *gorm.DB) *AssetStore {
	return &AssetStore{db: db}
}

// ActiveBySymbol returns the active asset with the given symbol.
func (s *AssetStore) ActiveBySymbol(ctx context.Context, symbol string) (models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND is_active = ?", models.NormalizeSymbol(symbol), true).
		First(&asset).Error
	return asset, notFound(err, "symbol "+symbol)
}

// ActiveByID returns the active asset with the given id.
func (s *AssetStore) ActiveByID(ctx context.Context, id uint) (models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&asset).Error
	return asset, notFound(err, fmt.Sprintf("id %d", id))
}

// ListActive returns all active assets ordered by type, then symbol.
func (s *AssetStore) ListActive(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("type, symbol").
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// SetActive toggles the active flag, the only mutation an asset allows.
func (s *AssetStore) SetActive(ctx context.Context, symbol string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("symbol = ?", models.NormalizeSymbol(symbol)).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update asset %s: %w", symbol, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: symbol %s", ErrAssetNotFound, symbol)
	}
	return nil
}

func notFound(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, what)
	}
	return fmt.Errorf("failed to load asset %s: %w", what, err)
}
