// Package trading settles simulated trades against a user's virtual balance.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceSource supplies live prices for resolved assets.
type PriceSource interface {
	PriceForAsset(ctx context.Context, asset models.Asset) (decimal.Decimal, error)
	PricesForAssets(ctx context.Context, assets []models.Asset) map[string]decimal.NullDecimal
}

// AssetLookup finds tradeable assets.
type AssetLookup interface {
	ActiveByID(ctx context.Context, id uint) (models.Asset, error)
}

// Service runs the OPEN -> CLOSED lifecycle of trades.
type Service struct {
	db             *gorm.DB
	assets         AssetLookup
	prices         PriceSource
	logger         *zap.Logger
	locks          *userLocks
	initialBalance decimal.Decimal
	minAmount      decimal.Decimal
	settleRetries  int
	now            func() time.Time
}

// NewService creates a settlement service from the trading configuration.
func NewService(db *gorm.DB, assets AssetLookup, prices PriceSource, cfg config.Trading, logger *zap.Logger) (*Service, error) {
	initial, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil || initial.IsNegative() {
		return nil, fmt.Errorf("invalid trading.initial_balance %q", cfg.InitialBalance)
	}
	minAmount, err := decimal.NewFromString(cfg.MinTradeAmount)
	if err != nil || !minAmount.IsPositive() {
		return nil, fmt.Errorf("invalid trading.min_trade_amount %q", cfg.MinTradeAmount)
	}
	retries := cfg.SettleRetries
	if retries <= 0 {
		retries = 1
	}

	return &Service{
		db:             db,
		assets:         assets,
		prices:         prices,
		logger:         logger.Named("trading"),
		locks:          newUserLocks(),
		initialBalance: initial,
		minAmount:      minAmount,
		settleRetries:  retries,
		now:            time.Now,
	}, nil
}

// InitialBalance is the starting balance of every account.
func (s *Service) InitialBalance() decimal.Decimal {
	return s.initialBalance
}

// OpenTradeRequest describes a new position in notional USD.
type OpenTradeRequest struct {
	AssetID    uint
	Amount     decimal.Decimal
	Side       models.TradeSide
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
}

// OpenTrade prices the asset, checks funds and records an OPEN trade while
// debiting the notional amount, all or nothing.
func (s *Service) OpenTrade(ctx context.Context, userID uint, req OpenTradeRequest) (*models.Trade, error) {
	asset, err := s.assets.ActiveByID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	if req.Amount.LessThan(s.minAmount) {
		return nil, fmt.Errorf("%w: minimum trade amount is %s", ErrInvalidAmount, s.minAmount.StringFixed(moneyPlaces))
	}
	if !req.Amount.Equal(req.Amount.Truncate(moneyPlaces)) {
		return nil, fmt.Errorf("%w: amount must have at most %d decimal places", ErrInvalidAmount, moneyPlaces)
	}
	side := req.Side
	if side == "" {
		side = models.SideBuy
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}

	price, err := s.prices.PriceForAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	l := s.logger.With(
		zap.Uint("user_id", userID),
		zap.String("symbol", asset.Symbol),
		zap.String("side", string(side)),
		zap.Stringer("amount", req.Amount),
	)

	var trade models.Trade
	err = s.settle(ctx, userID, func(tx *gorm.DB) error {
		account, err := s.accountTx(tx, userID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(account.Balance) {
			return &InsufficientFundsError{Balance: account.Balance, Required: req.Amount}
		}

		trade = models.Trade{
			UserID:     userID,
			AssetID:    asset.ID,
			Side:       side,
			Quantity:   Quantity(req.Amount, price),
			EntryPrice: price,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			Status:     models.StatusOpen,
			OpenedAt:   s.now().UTC(),
		}
		if err := tx.Omit("Asset").Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}

		return adjustBalance(tx, account, req.Amount.Neg())
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientFunds) {
			l.Error("Failed to open trade", zap.Error(err))
		}
		return nil, err
	}

	trade.Asset = asset
	l.Info("Opened trade",
		zap.Uint("trade_id", trade.ID),
		zap.Stringer("entry_price", trade.EntryPrice),
		zap.Stringer("quantity", trade.Quantity),
	)
	return &trade, nil
}

// CloseResult is the outcome of closing a trade.
type CloseResult struct {
	Trade       models.Trade
	RealizedPnL decimal.Decimal
	Balance     decimal.Decimal
}

// CloseTrade settles one of the user's OPEN trades at the current price and
// credits principal plus pnl. A trade settles at most once.
func (s *Service) CloseTrade(ctx context.Context, userID, tradeID uint) (*CloseResult, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Preload("Asset").
		Where("id = ? AND user_id = ? AND status = ?", tradeID, userID, models.StatusOpen).
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrTradeNotFound, tradeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", tradeID, err)
	}

	exitPrice, err := s.prices.PriceForAsset(ctx, trade.Asset)
	if err != nil {
		return nil, err
	}

	pnl, pnlPercent := CalculatePnL(trade.Side, trade.EntryPrice, trade.Quantity, exitPrice)
	closedAt := s.now().UTC()
	credit := SettlementCredit(trade.Quantity, trade.EntryPrice, pnl)

	l := s.logger.With(
		zap.Uint("user_id", userID),
		zap.Uint("trade_id", tradeID),
		zap.String("symbol", trade.Asset.Symbol),
	)

	var balance decimal.Decimal
	err = s.settle(ctx, userID, func(tx *gorm.DB) error {
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND user_id = ? AND status = ?", tradeID, userID, models.StatusOpen).
			Updates(map[string]interface{}{
				"status":      models.StatusClosed,
				"exit_price":  decimal.NewNullDecimal(exitPrice),
				"pnl":         decimal.NewNullDecimal(pnl),
				"pnl_percent": decimal.NewNullDecimal(pnlPercent),
				"closed_at":   closedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to close trade: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", ErrTradeNotFound, tradeID)
		}

		account, err := s.accountTx(tx, userID)
		if err != nil {
			return err
		}
		if err := adjustBalance(tx, account, credit); err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrTradeNotFound) {
			l.Error("Failed to close trade", zap.Error(err))
		}
		return nil, err
	}

	trade.Status = models.StatusClosed
	trade.ExitPrice = decimal.NewNullDecimal(exitPrice)
	trade.PnL = decimal.NewNullDecimal(pnl)
	trade.PnLPercent = decimal.NewNullDecimal(pnlPercent)
	trade.ClosedAt = &closedAt

	l.Info("Closed trade",
		zap.Stringer("exit_price", exitPrice),
		zap.Stringer("pnl", pnl),
		zap.Stringer("balance", balance),
	)
	return &CloseResult{Trade: trade, RealizedPnL: pnl, Balance: balance}, nil
}

// Balance returns the user's current balance, creating the account if needed.
func (s *Service) Balance(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountTx(tx, userID)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	return balance, err
}

// History returns all of the user's trades, newest first.
func (s *Service) History(ctx context.Context, userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Preload("Asset").
		Where("user_id = ?", userID).
		Order("opened_at desc, id desc").
		Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trade history: %w", err)
	}
	return trades, nil
}

// settle runs fn in a transaction while holding the user's lock. A
// transaction that lost the balance version race is retried from scratch.
func (s *Service) settle(ctx context.Context, userID uint, fn func(tx *gorm.DB) error) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= s.settleRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errStaleBalance) {
			return err
		}
		s.logger.Warn("Balance changed during settlement, retrying",
			zap.Uint("user_id", userID), zap.Int("attempt", attempt))
	}
	return err
}

// accountTx loads the user's account inside tx, creating it with the
// initial balance on first use.
func (s *Service) accountTx(tx *gorm.DB, userID uint) (*models.Account, error) {
	var account models.Account
	err := tx.Where("user_id = ?", userID).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	account = models.Account{UserID: userID, Balance: s.initialBalance}
	if err := tx.Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

// adjustBalance applies delta only if nobody changed the account since it
// was read; otherwise it returns errStaleBalance. Callers check funds.
func adjustBalance(tx *gorm.DB, account *models.Account, delta decimal.Decimal) error {
	balance := account.Balance.Add(delta)
	res := tx.Model(&models.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": account.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errStaleBalance
	}

	account.Balance = balance
	account.Version++
	return nil
}
