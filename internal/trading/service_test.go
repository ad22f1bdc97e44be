package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/database"
	"tradesim/internal/models"
	"tradesim/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockPriceSource is a mock implementation of PriceSource.
type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) PriceForAsset(ctx context.Context, asset models.Asset) (decimal.Decimal, error) {
	args := m.Called(asset.Symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockPriceSource) PricesForAssets(ctx context.Context, assets []models.Asset) map[string]decimal.NullDecimal {
	out := make(map[string]decimal.NullDecimal)
	for _, a := range assets {
		price, err := m.PriceForAsset(ctx, a)
		if err == nil {
			out[a.Symbol] = decimal.NewNullDecimal(price)
		} else {
			out[a.Symbol] = decimal.NullDecimal{}
		}
	}
	return out
}

type testEnv struct {
	db     *gorm.DB
	svc    *Service
	prices *MockPriceSource
	btc    models.Asset
	eth    models.Asset
	old    models.Asset
}

// setupTest creates a service over a fresh in-memory database.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	inactive := false
	cfg := &config.Config{
		Database: config.Database{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())},
		Assets: []config.Asset{
			{Symbol: "BTC", Name: "Bitcoin", Type: "CRYPTO"},
			{Symbol: "ETH", Name: "Ethereum", Type: "CRYPTO"},
			{Symbol: "OLD", Name: "Delisted", Type: "CRYPTO", Active: &inactive},
		},
	}
	db, err := database.NewDatabase(cfg)
	require.NoError(t, err)

	store := database.NewAssetStore(db)
	prices := new(MockPriceSource)
	svc, err := NewService(db, store, prices, config.Trading{
		InitialBalance: "10000.00",
		MinTradeAmount: "1.00",
		SettleRetries:  3,
	}, zap.NewNop())
	require.NoError(t, err)

	env := &testEnv{db: db, svc: svc, prices: prices}
	require.NoError(t, db.Where("symbol = ?", "BTC").First(&env.btc).Error)
	require.NoError(t, db.Where("symbol = ?", "ETH").First(&env.eth).Error)
	require.NoError(t, db.Where("symbol = ?", "OLD").First(&env.old).Error)
	return env
}

func (e *testEnv) balance(t *testing.T, userID uint) decimal.Decimal {
	t.Helper()
	b, err := e.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestOpenAndClose_Scenario(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.prices.On("PriceForAsset", "BTC").Return(d("50000.00"), nil).Once()

	trade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("100.00"), Side: models.SideBuy})
	require.NoError(t, err)

	assert.Equal(t, models.StatusOpen, trade.Status)
	assert.True(t, d("0.002").Equal(trade.Quantity))
	assert.True(t, d("50000").Equal(trade.EntryPrice))
	assert.False(t, trade.ExitPrice.Valid)
	assert.False(t, trade.PnL.Valid)
	assert.Nil(t, trade.ClosedAt)
	assert.True(t, d("9900.00").Equal(env.balance(t, 1)))

	env.prices.On("PriceForAsset", "BTC").Return(d("55000.00"), nil).Once()

	res, err := env.svc.CloseTrade(ctx, 1, trade.ID)
	require.NoError(t, err)

	assert.True(t, d("10.00").Equal(res.RealizedPnL))
	assert.True(t, d("10010.00").Equal(res.Balance))
	assert.True(t, d("10010.00").Equal(env.balance(t, 1)))

	var stored models.Trade
	require.NoError(t, env.db.First(&stored, trade.ID).Error)
	assert.Equal(t, models.StatusClosed, stored.Status)
	assert.True(t, stored.ExitPrice.Valid)
	assert.True(t, d("55000").Equal(stored.ExitPrice.Decimal))
	assert.True(t, d("10").Equal(stored.PnL.Decimal))
	assert.True(t, d("10").Equal(stored.PnLPercent.Decimal))
	assert.NotNil(t, stored.ClosedAt)
	assert.True(t, d("0.002").Equal(stored.Quantity))
}

func TestOpenTrade_Validation(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	t.Run("UnknownAsset", func(t *testing.T) {
		_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: 999, Amount: d("100")})
		assert.ErrorIs(t, err, ErrAssetNotFound)
	})

	t.Run("InactiveAsset", func(t *testing.T) {
		_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.old.ID, Amount: d("100")})
		assert.ErrorIs(t, err, ErrAssetNotFound)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("0.99")})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("SubCentAmount", func(t *testing.T) {
		_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("10.005")})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("InvalidSide", func(t *testing.T) {
		_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("10"), Side: "HOLD"})
		assert.ErrorIs(t, err, ErrInvalidSide)
	})

	env.prices.AssertNotCalled(t, "PriceForAsset", mock.Anything)
}

func TestOpenTrade_PriceUnavailableLeavesStateUnchanged(t *testing.T) {
	env := setupTest(t)
	env.prices.On("PriceForAsset", "BTC").Return(decimal.Zero, pricing.ErrPriceUnavailable).Once()

	_, err := env.svc.OpenTrade(context.Background(), 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("100")})

	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.True(t, d("10000").Equal(env.balance(t, 1)))
	var count int64
	env.db.Model(&models.Trade{}).Count(&count)
	assert.Zero(t, count)
}

func TestOpenTrade_InsufficientFunds(t *testing.T) {
	env := setupTest(t)
	env.prices.On("PriceForAsset", "BTC").Return(d("50000"), nil)

	_, err := env.svc.OpenTrade(context.Background(), 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("10000.01")})

	require.ErrorIs(t, err, ErrInsufficientFunds)
	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.True(t, d("10000").Equal(fundsErr.Balance))
	assert.True(t, d("10000").Equal(env.balance(t, 1)))

	// The whole balance can be committed.
	_, err = env.svc.OpenTrade(context.Background(), 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("10000.00")})
	require.NoError(t, err)
	assert.True(t, env.balance(t, 1).IsZero())
}

func TestCloseTrade_RejectsDoubleCloseAndForeignTrades(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.prices.On("PriceForAsset", "ETH").Return(d("3000"), nil)

	trade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.eth.ID, Amount: d("300")})
	require.NoError(t, err)

	_, err = env.svc.CloseTrade(ctx, 2, trade.ID)
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = env.svc.CloseTrade(ctx, 1, trade.ID)
	require.NoError(t, err)
	after := env.balance(t, 1)
	assert.True(t, d("10000").Equal(after))

	_, err = env.svc.CloseTrade(ctx, 1, trade.ID)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	assert.True(t, after.Equal(env.balance(t, 1)))

	_, err = env.svc.CloseTrade(ctx, 1, 12345)
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestCloseTrade_PriceUnavailableKeepsTradeOpen(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.prices.On("PriceForAsset", "BTC").Return(d("50000"), nil).Once()
	trade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("100")})
	require.NoError(t, err)

	env.prices.On("PriceForAsset", "BTC").Return(decimal.Zero, pricing.ErrPriceUnavailable).Once()
	_, err = env.svc.CloseTrade(ctx, 1, trade.ID)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	var stored models.Trade
	require.NoError(t, env.db.First(&stored, trade.ID).Error)
	assert.Equal(t, models.StatusOpen, stored.Status)
	assert.True(t, d("9900").Equal(env.balance(t, 1)))
}

func TestCloseTrade_SellLossBeyondPrincipal(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.prices.On("PriceForAsset", "ETH").Return(d("1000"), nil).Once()
	trade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.eth.ID, Amount: d("10000.00"), Side: models.SideSell})
	require.NoError(t, err)

	// Price triples: the short loses twice its principal.
	env.prices.On("PriceForAsset", "ETH").Return(d("3000"), nil).Once()
	res, err := env.svc.CloseTrade(ctx, 1, trade.ID)
	require.NoError(t, err)

	assert.True(t, d("-20000").Equal(res.RealizedPnL))
	assert.True(t, d("-10000").Equal(res.Balance))
}

func TestBalanceConservation(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	const user = 7

	steps := []struct {
		asset  models.Asset
		amount string
		side   models.TradeSide
		entry  string
		exit   string // empty keeps the trade open
	}{
		{env.btc, "100.00", models.SideBuy, "50000", "55000"},
		{env.eth, "250.50", models.SideSell, "3000", "3100.37"},
		{env.btc, "33.33", models.SideBuy, "61234.5678", "59999.99"},
		{env.eth, "1000.00", models.SideBuy, "2999.99", ""},
		{env.btc, "17.00", models.SideSell, "70000", ""},
	}

	openNotional := decimal.Zero
	realized := decimal.Zero
	for _, s := range steps {
		env.prices.On("PriceForAsset", s.asset.Symbol).Return(d(s.entry), nil).Once()
		trade, err := env.svc.OpenTrade(ctx, user, OpenTradeRequest{AssetID: s.asset.ID, Amount: d(s.amount), Side: s.side})
		require.NoError(t, err)

		if s.exit == "" {
			openNotional = openNotional.Add(d(s.amount))
			continue
		}
		env.prices.On("PriceForAsset", s.asset.Symbol).Return(d(s.exit), nil).Once()
		res, err := env.svc.CloseTrade(ctx, user, trade.ID)
		require.NoError(t, err)
		realized = realized.Add(res.RealizedPnL)
	}

	want := d("10000").Sub(openNotional).Add(realized)
	got := env.balance(t, user)
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func TestOpenTrade_ConcurrentOpensCannotOverdraw(t *testing.T) {
	env := setupTest(t)
	env.prices.On("PriceForAsset", "BTC").Return(d("50000"), nil)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("3000.00")})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	}

	assert.Equal(t, 3, succeeded)
	assert.True(t, d("1000").Equal(env.balance(t, 1)))
}

func TestAdjustBalance_StaleVersion(t *testing.T) {
	env := setupTest(t)
	_ = env.balance(t, 1)

	var account models.Account
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&account).Error)
	stale := account

	require.NoError(t, adjustBalance(env.db, &account, d("-1")))
	assert.ErrorIs(t, adjustBalance(env.db, &stale, d("-1")), errStaleBalance)
	assert.True(t, d("9999").Equal(env.balance(t, 1)))
}

func TestOpenPositionsAndHistory(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	env.prices.On("PriceForAsset", "BTC").Return(d("50000"), nil).Once()
	btcTrade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("100"), StopLoss: decimal.NewNullDecimal(d("45000"))})
	require.NoError(t, err)

	env.svc.now = func() time.Time { return time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC) }
	env.prices.On("PriceForAsset", "ETH").Return(d("2000"), nil).Once()
	_, err = env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.eth.ID, Amount: d("200"), Side: models.SideSell})
	require.NoError(t, err)

	env.prices.On("PriceForAsset", "BTC").Return(d("52500"), nil).Once()
	env.prices.On("PriceForAsset", "ETH").Return(decimal.Zero, pricing.ErrPriceUnavailable).Once()

	positions, err := env.svc.OpenPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	eth, btc := positions[0], positions[1]
	assert.Equal(t, "ETH", eth.Trade.Asset.Symbol)
	assert.False(t, eth.UnrealizedPnL.Valid)
	assert.Equal(t, btcTrade.ID, btc.Trade.ID)
	assert.True(t, d("5").Equal(btc.UnrealizedPnL.Decimal))
	assert.True(t, d("5").Equal(btc.UnrealizedPnLPercent.Decimal))
	assert.True(t, d("105").Equal(btc.CurrentValue.Decimal))
	assert.True(t, d("45000").Equal(btc.Trade.StopLoss.Decimal))

	history, err := env.svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ETH", history[0].Asset.Symbol)

	empty, err := env.svc.OpenPositions(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, err := NewService(nil, nil, nil, config.Trading{InitialBalance: "abc", MinTradeAmount: "1"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewService(nil, nil, nil, config.Trading{InitialBalance: "10000", MinTradeAmount: "0"}, zap.NewNop())
	assert.Error(t, err)
}

func TestHoldings_ConsistentWithConcurrentClose(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	env.prices.On("PriceForAsset", "BTC").Return(d("50000"), nil).Once()
	btcTrade, err := env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.btc.ID, Amount: d("100.00")})
	require.NoError(t, err)
	env.prices.On("PriceForAsset", "ETH").Return(d("2000"), nil)
	_, err = env.svc.OpenTrade(ctx, 1, OpenTradeRequest{AssetID: env.eth.ID, Amount: d("200.00")})
	require.NoError(t, err)
	env.prices.On("PriceForAsset", "BTC").Return(d("55000"), nil)

	h, err := env.svc.Holdings(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d("9700").Equal(h.Balance))
	assert.Len(t, h.Positions, 2)
	assert.Empty(t, h.Closed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := env.svc.CloseTrade(ctx, 1, btcTrade.ID)
		assert.NoError(t, err)
	}()

	// Every read must balance: cash plus open entry value minus realized
	// pnl equals the initial stake.
	for closed := false; !closed; {
		select {
		case <-done:
			closed = true
		default:
		}
		h, err := env.svc.Holdings(ctx, 1)
		require.NoError(t, err)

		total := h.Balance
		for _, p := range h.Positions {
			total = total.Add(p.Trade.PositionValue().Round(2))
		}
		for _, c := range h.Closed {
			total = total.Sub(c.PnL.Decimal)
		}
		require.True(t, d("10000").Equal(total), "inconsistent read: %s", total)
	}

	h, err = env.svc.Holdings(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d("10010").Equal(h.Balance))
	require.Len(t, h.Positions, 1)
	assert.Equal(t, "ETH", h.Positions[0].Trade.Asset.Symbol)
	require.Len(t, h.Closed, 1)
	assert.True(t, d("10").Equal(h.Closed[0].PnL.Decimal))
}
