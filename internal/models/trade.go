package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeSide is the direction of a position.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s TradeSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeStatus is the lifecycle state of a trade. CLOSED is terminal.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// Trade represents one simulated position.
// ExitPrice, PnL, PnLPercent and ClosedAt are set together when the trade
// closes and are null while it is open. Quantity and EntryPrice are fixed
// at creation. Decimal columns are TEXT so sqlite never coerces them to REAL.
type Trade struct {
	gorm.Model
	UserID     uint                `gorm:"not null;index:idx_trades_user_status" json:"user_id"`
	AssetID    uint                `gorm:"not null" json:"asset_id"`
	Asset      Asset               `json:"asset"`
	Side       TradeSide           `gorm:"not null" json:"trade_type"`
	Quantity   decimal.Decimal     `gorm:"type:text;not null" json:"quantity"`
	EntryPrice decimal.Decimal     `gorm:"type:text;not null" json:"entry_price"`
	ExitPrice  decimal.NullDecimal `gorm:"type:text" json:"exit_price"`
	StopLoss   decimal.NullDecimal `gorm:"type:text" json:"stop_loss"`
	TakeProfit decimal.NullDecimal `gorm:"type:text" json:"take_profit"`
	PnL        decimal.NullDecimal `gorm:"column:pnl;type:text" json:"pnl"`
	PnLPercent decimal.NullDecimal `gorm:"column:pnl_percent;type:text" json:"pnl_percent"`
	Status     TradeStatus         `gorm:"not null;index:idx_trades_user_status" json:"status"`
	OpenedAt   time.Time           `gorm:"not null" json:"opened_at"`
	ClosedAt   *time.Time          `json:"closed_at"`
}

// PositionValue is the value of the position at entry.
func (t *Trade) PositionValue() decimal.Decimal {
	return t.Quantity.Mul(t.EntryPrice)
}
