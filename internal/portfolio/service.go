package portfolio

import (
	"context"
	"fmt"
	"time"

	"tradesim/internal/models"
	"tradesim/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Positions is the part of the settlement service the summary needs.
type Positions interface {
	Holdings(ctx context.Context, userID uint) (*trading.Holdings, error)
}

// Service serves read-only portfolio projections.
type Service struct {
	db           *gorm.DB
	positions    Positions
	initialStake decimal.Decimal
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a portfolio service.
func NewService(db *gorm.DB, positions Positions, initialStake decimal.Decimal, logger *zap.Logger) *Service {
	return &Service{
		db:           db,
		positions:    positions,
		initialStake: initialStake,
		logger:       logger.Named("portfolio"),
		now:          time.Now,
	}
}

// StatisticsResponse holds statistics for the whole history and the last day.
type StatisticsResponse struct {
	AllTime  Stats `json:"all_time"`
	Since24h Stats `json:"since_24h"`
}

// Stats computes the user's statistics from one snapshot of closed trades.
func (s *Service) Stats(ctx context.Context, userID uint) (*StatisticsResponse, error) {
	trades, err := s.closedTrades(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &StatisticsResponse{
		AllTime:  ComputeStats(trades, s.initialStake, time.Time{}),
		Since24h: ComputeStats(trades, s.initialStake, s.now().Add(-24*time.Hour)),
	}, nil
}

// Summary combines the balance, statistics and open positions.
type Summary struct {
	Balance            decimal.Decimal `json:"account_balance"`
	Stats              Stats           `json:"stats"`
	OpenPositions      int             `json:"open_positions"`
	OpenPositionsValue decimal.Decimal `json:"open_positions_value"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	Equity             decimal.Decimal `json:"equity"`
	// UnpricedPositions counts open positions left out of the totals
	// because no price was available.
	UnpricedPositions int `json:"unpriced_positions"`
}

// Summary builds the user's portfolio summary from one snapshot of the
// account, so equity never mixes pre- and post-settlement reads.
func (s *Service) Summary(ctx context.Context, userID uint) (*Summary, error) {
	h, err := s.positions.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Balance:            h.Balance,
		Stats:              ComputeStats(h.Closed, s.initialStake, time.Time{}),
		OpenPositions:      len(h.Positions),
		OpenPositionsValue: decimal.Zero,
		UnrealizedPnL:      decimal.Zero,
	}
	for _, p := range h.Positions {
		if !p.CurrentValue.Valid {
			sum.UnpricedPositions++
			continue
		}
		sum.OpenPositionsValue = sum.OpenPositionsValue.Add(p.CurrentValue.Decimal)
		sum.UnrealizedPnL = sum.UnrealizedPnL.Add(p.UnrealizedPnL.Decimal)
	}
	sum.Equity = h.Balance.Add(sum.OpenPositionsValue)

	if sum.UnpricedPositions > 0 {
		s.logger.Debug("Summary excludes unpriced positions",
			zap.Uint("user_id", userID), zap.Int("count", sum.UnpricedPositions))
	}
	return sum, nil
}

func (s *Service) closedTrades(ctx context.Context, userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusClosed).
		Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load closed trades: %w", err)
	}
	return trades, nil
}
