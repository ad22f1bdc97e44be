// Package portfolio derives statistics from a user's trades.
package portfolio

import (
	"time"

	"tradesim/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Stats holds calculated statistics over a set of closed trades.
type Stats struct {
	TotalTrades   int64           `json:"total_trades"`
	WinningTrades int64           `json:"winning_trades"`
	LosingTrades  int64           `json:"losing_trades"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       decimal.Decimal `json:"win_rate"`
	PnLPercent    decimal.Decimal `json:"total_pnl_percent"`
}

// ComputeStats folds over the CLOSED trades closed at or after since (all of
// them when since is zero). Trades with zero pnl are neither wins nor losses.
func ComputeStats(trades []models.Trade, initialStake decimal.Decimal, since time.Time) Stats {
	stats := Stats{TotalPnL: decimal.Zero, WinRate: decimal.Zero, PnLPercent: decimal.Zero}

	for _, t := range trades {
		if t.Status != models.StatusClosed || !t.PnL.Valid {
			continue
		}
		if !since.IsZero() && (t.ClosedAt == nil || t.ClosedAt.Before(since)) {
			continue
		}

		stats.TotalTrades++
		switch t.PnL.Decimal.Sign() {
		case 1:
			stats.WinningTrades++
		case -1:
			stats.LosingTrades++
		}
		stats.TotalPnL = stats.TotalPnL.Add(t.PnL.Decimal)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(stats.WinningTrades).Mul(hundred).
			DivRound(decimal.NewFromInt(stats.TotalTrades), 2)
	}
	if initialStake.IsPositive() {
		stats.PnLPercent = stats.TotalPnL.Mul(hundred).DivRound(initialStake, 2)
	}
	return stats
}
