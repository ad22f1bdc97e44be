package models

import (
	"strings"

	"gorm.io/gorm"
)

// AssetType classifies a tradeable instrument.
type AssetType string

const (
	AssetCrypto AssetType = "CRYPTO"
	AssetStock  AssetType = "STOCK"
	AssetForex  AssetType = "FOREX"
)

// Valid reports whether t is one of the known classifications.
func (t AssetType) Valid() bool {
	switch t {
	case AssetCrypto, AssetStock, AssetForex:
		return true
	}
	return false
}

// PriceSource names the upstream that quotes an asset.
type PriceSource string

const (
	SourceBinance      PriceSource = "BINANCE"
	SourceAlphaVantage PriceSource = "ALPHAVANTAGE"
)

// Asset represents a tradeable instrument. Symbol is unique and never
// changes once created; only IsActive is toggled afterwards.
type Asset struct {
	gorm.Model
	Symbol   string      `gorm:"uniqueIndex;not null" json:"symbol"`
	Name     string      `gorm:"not null" json:"name"`
	Type     AssetType   `gorm:"not null;index" json:"asset_type"`
	Source   PriceSource `gorm:"not null" json:"api_source"`
	IsActive bool        `gorm:"not null" json:"is_active"`
}

// NormalizeSymbol returns the canonical form of a user supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
