package database

import (
	"fmt"

	"tradesim/internal/config"
	"tradesim/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database, migrates the schema and seeds the
// asset catalog from the configuration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := SeedAssets(db, cfg.Assets); err != nil {
		return nil, err
	}

	return db, nil
}

// Open connects to sqlite without touching the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows a single writer; one connection keeps transactions from
	// failing with SQLITE_BUSY and makes in-memory databases shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// AutoMigrate creates or updates the tables. Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Asset{}, &models.Account{}, &models.Trade{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// SeedAssets inserts every configured asset that does not exist yet.
// Assets are keyed by symbol, so reseeding never alters an existing row.
func SeedAssets(db *gorm.DB, assets []config.Asset) error {
	for _, a := range assets {
		symbol := models.NormalizeSymbol(a.Symbol)
		assetType := models.AssetType(a.Type)
		if symbol == "" || !assetType.Valid() {
			return fmt.Errorf("invalid asset '%s' of type '%s' in configuration", a.Symbol, a.Type)
		}

		active := true
		if a.Active != nil {
			active = *a.Active
		}

		asset := models.Asset{
			Symbol:   symbol,
			Name:     a.Name,
			Type:     assetType,
			Source:   models.PriceSource(a.Source),
			IsActive: active,
		}
		if asset.Source == "" {
			asset.Source = defaultSource(assetType)
		}

		var count int64
		if err := db.Model(&models.Asset{}).Where("symbol = ?", symbol).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to look up asset '%s': %w", symbol, err)
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&asset).Error; err != nil {
			return fmt.Errorf("failed to populate asset '%s': %w", symbol, err)
		}
	}
	return nil
}

func defaultSource(t models.AssetType) models.PriceSource {
	if t == models.AssetCrypto {
		return models.SourceBinance
	}
	return models.SourceAlphaVantage
}
