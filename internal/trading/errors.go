package trading

import (
	"errors"
	"fmt"

	"tradesim/internal/database"
	"tradesim/internal/pricing"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid trade amount")
	ErrInvalidSide       = errors.New("invalid trade side")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTradeNotFound     = errors.New("trade not found")

	// ErrAssetNotFound is the asset store's error, surfaced unchanged.
	ErrAssetNotFound = database.ErrAssetNotFound
	// ErrPriceUnavailable is the aggregator's error, surfaced unchanged.
	ErrPriceUnavailable = pricing.ErrPriceUnavailable

	// errStaleBalance means another writer changed the account first.
	errStaleBalance = errors.New("account balance changed concurrently")
)

// InsufficientFundsError reports the balance a rejected open was checked against.
type InsufficientFundsError struct {
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, required %s",
		e.Balance.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
