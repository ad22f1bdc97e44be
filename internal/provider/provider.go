// Package provider contains one adapter per upstream market-data source.
// Each adapter maps a canonical asset symbol to its own request format and
// turns the raw response into a decimal price.
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUpstreamUnavailable covers network failures, timeouts and non-2xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrProviderMisconfigured means a required credential is missing.
	ErrProviderMisconfigured = errors.New("provider misconfigured")
	// ErrQuoteNotFound means the symbol is unmapped or the response lacks a usable price.
	ErrQuoteNotFound = errors.New("quote not found")
)

// Provider fetches the current price of a canonical symbol.
type Provider interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// parsePrice converts a provider price string; anything unusable is ErrQuoteNotFound.
func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, ErrQuoteNotFound
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, ErrQuoteNotFound
	}
	return price, nil
}
