package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"tradesim/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// binanceBases lists the crypto assets quoted by the ticker endpoint.
// The pair symbol is the base plus the configured quote asset, e.g. BTCUSDT.
var binanceBases = map[string]struct{}{
	"BTC":  {},
	"ETH":  {},
	"SOL":  {},
	"BNB":  {},
	"XRP":  {},
	"ADA":  {},
	"DOGE": {},
	"LTC":  {},
}

// Binance quotes crypto spot prices from the public ticker endpoint.
type Binance struct {
	rest       *restClient
	quoteAsset string
	logger     *zap.Logger
}

var _ Provider = (*Binance)(nil)

// NewBinance creates a Binance ticker provider.
func NewBinance(cfg config.Binance, logger *zap.Logger) *Binance {
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	logger = logger.Named("binance")
	return &Binance{
		rest:       newRestClient(cfg.Provider, logger),
		quoteAsset: quote,
		logger:     logger,
	}
}

func (b *Binance) Name() string { return "binance" }

// PairSymbol maps a canonical symbol to the exchange pair, or false when unmapped.
func (b *Binance) PairSymbol(symbol string) (string, bool) {
	if _, ok := binanceBases[symbol]; !ok {
		return "", false
	}
	return symbol + b.quoteAsset, true
}

// tickerPrice is the response of /ticker/price for a single symbol.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchPrice returns the latest spot price of symbol against the quote asset.
func (b *Binance) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, ok := b.PairSymbol(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no binance pair for %s", ErrQuoteNotFound, symbol)
	}

	body, err := b.rest.get(ctx, "/ticker/price", map[string]string{"symbol": pair})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get ticker price for %s: %w", pair, err)
	}

	var ticker tickerPrice
	if err := json.Unmarshal(body, &ticker); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed ticker for %s", ErrQuoteNotFound, pair)
	}
	price, err := parsePrice(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ticker for %s has no usable price", err, pair)
	}
	return price, nil
}
