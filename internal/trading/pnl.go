package trading

import (
	"tradesim/internal/models"

	"github.com/shopspring/decimal"
)

const (
	moneyPlaces    = 2
	quantityPlaces = 18
)

var hundred = decimal.NewFromInt(100)

// CalculatePnL returns the profit and percent change of a position at
// currentPrice. Both are rounded once, at the end, to two places, half away
// from zero.
func CalculatePnL(side models.TradeSide, entryPrice, quantity, currentPrice decimal.Decimal) (pnl, pnlPercent decimal.Decimal) {
	diff := currentPrice.Sub(entryPrice)
	if side == models.SideSell {
		diff = diff.Neg()
	}

	pnl = diff.Mul(quantity).Round(moneyPlaces)
	if entryPrice.IsZero() {
		return pnl, decimal.Zero
	}
	pnlPercent = diff.Mul(hundred).DivRound(entryPrice, moneyPlaces)
	return pnl, pnlPercent
}

// Quantity converts a notional amount into units at price.
func Quantity(notional, price decimal.Decimal) decimal.Decimal {
	return notional.DivRound(price, quantityPlaces)
}

// SettlementCredit is what closing a trade returns to the balance: the
// principal in cents plus the already rounded pnl. This matches the pnl
// shown to the user; it can drift from quantity × exit price by a cent.
func SettlementCredit(quantity, entryPrice, pnl decimal.Decimal) decimal.Decimal {
	return quantity.Mul(entryPrice).Round(moneyPlaces).Add(pnl)
}
