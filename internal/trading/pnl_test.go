package trading

import (
	"testing"

	"tradesim/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculatePnL(t *testing.T) {
	tests := []struct {
		name    string
		side    models.TradeSide
		entry   string
		qty     string
		current string
		wantPnL string
		wantPct string
	}{
		{"BuyProfit", models.SideBuy, "50000", "0.002", "55000", "10.00", "10.00"},
		{"BuyLoss", models.SideBuy, "50000", "0.1", "48000", "-200.00", "-4.00"},
		{"SellLossWhenPriceRises", models.SideSell, "50000", "0.002", "55000", "-10.00", "-10.00"},
		{"SellProfitWhenPriceFalls", models.SideSell, "100", "3", "90", "30.00", "10.00"},
		{"Flat", models.SideBuy, "123.45", "7", "123.45", "0", "0"},
		{"RoundsHalfUp", models.SideBuy, "10", "1", "10.005", "0.01", "0.05"},
		{"NegativeHalfAwayFromZero", models.SideBuy, "1", "1", "0.995", "-0.01", "-0.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pnl, pct := CalculatePnL(tt.side, d(tt.entry), d(tt.qty), d(tt.current))
			assert.True(t, d(tt.wantPnL).Equal(pnl), "pnl = %s", pnl)
			assert.True(t, d(tt.wantPct).Equal(pct), "pct = %s", pct)
		})
	}
}

func TestCalculatePnL_SignMatchesDirection(t *testing.T) {
	entry, qty := d("50000"), d("0.01")

	buyUp, _ := CalculatePnL(models.SideBuy, entry, qty, d("51000"))
	sellUp, _ := CalculatePnL(models.SideSell, entry, qty, d("51000"))
	flat, _ := CalculatePnL(models.SideSell, entry, qty, entry)

	assert.True(t, buyUp.IsPositive())
	assert.True(t, sellUp.IsNegative())
	assert.True(t, flat.IsZero())
}

func TestQuantity(t *testing.T) {
	assert.True(t, d("0.002").Equal(Quantity(d("100"), d("50000"))))
	assert.Equal(t, "33.333333333333333333", Quantity(d("100"), d("3")).String())
}

func TestSettlementCredit_RestoresNotional(t *testing.T) {
	qty := Quantity(d("100.00"), d("3"))
	credit := SettlementCredit(qty, d("3"), decimal.Zero)
	assert.True(t, d("100.00").Equal(credit), "credit = %s", credit)

	credit = SettlementCredit(d("0.002"), d("50000"), d("10.00"))
	assert.True(t, d("110.00").Equal(credit))
}
