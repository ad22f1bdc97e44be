package trading

import (
	"context"
	"fmt"

	"tradesim/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position is an OPEN trade valued at the live price. Unrealized figures are
// null when no price is available and are never persisted.
type Position struct {
	Trade                models.Trade
	CurrentPrice         decimal.NullDecimal
	CurrentValue         decimal.NullDecimal
	UnrealizedPnL        decimal.NullDecimal
	UnrealizedPnLPercent decimal.NullDecimal
}

// Holdings is one consistent read of a user's account: the balance and the
// trades are loaded in a single transaction, so a settlement can never be
// half visible. Open trades are priced after the read.
type Holdings struct {
	Balance   decimal.Decimal
	Positions []Position
	Closed    []models.Trade
}

// OpenPositions returns the user's OPEN trades with unrealized pnl.
func (s *Service) OpenPositions(ctx context.Context, userID uint) ([]Position, error) {
	trades, err := openTrades(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	return s.valuePositions(ctx, trades), nil
}

// Holdings returns the balance with the open and closed trades as of one
// point in time.
func (s *Service) Holdings(ctx context.Context, userID uint) (*Holdings, error) {
	var (
		h    Holdings
		open []models.Trade
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountTx(tx, userID)
		if err != nil {
			return err
		}
		h.Balance = account.Balance

		if open, err = openTrades(tx, userID); err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND status = ?", userID, models.StatusClosed).
			Find(&h.Closed).Error; err != nil {
			return fmt.Errorf("failed to load closed trades: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.Positions = s.valuePositions(ctx, open)
	return &h, nil
}

func openTrades(tx *gorm.DB, userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := tx.Preload("Asset").
		Where("user_id = ? AND status = ?", userID, models.StatusOpen).
		Order("opened_at desc, id desc").
		Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load open trades: %w", err)
	}
	return trades, nil
}

func (s *Service) valuePositions(ctx context.Context, trades []models.Trade) []Position {
	if len(trades) == 0 {
		return []Position{}
	}

	assets := make([]models.Asset, 0, len(trades))
	for _, t := range trades {
		assets = append(assets, t.Asset)
	}
	prices := s.prices.PricesForAssets(ctx, assets)

	positions := make([]Position, 0, len(trades))
	for _, t := range trades {
		p := Position{Trade: t}
		if price := prices[t.Asset.Symbol]; price.Valid {
			pnl, pct := CalculatePnL(t.Side, t.EntryPrice, t.Quantity, price.Decimal)
			p.CurrentPrice = price
			p.CurrentValue = decimal.NewNullDecimal(t.PositionValue().Round(moneyPlaces).Add(pnl))
			p.UnrealizedPnL = decimal.NewNullDecimal(pnl)
			p.UnrealizedPnLPercent = decimal.NewNullDecimal(pct)
		}
		positions = append(positions, p)
	}
	return positions
}
