package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"tradesim/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// forexPairs splits the synthetic six letter forex symbols into base and quote.
var forexPairs = map[string][2]string{
	"EURUSD": {"EUR", "USD"},
	"GBPUSD": {"GBP", "USD"},
	"JPYUSD": {"JPY", "USD"},
	"AUDUSD": {"AUD", "USD"},
	"USDCAD": {"USD", "CAD"},
	"USDCHF": {"USD", "CHF"},
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z.]{0,9}$`)

// alphaVantage is the shared client behind the equity and forex providers.
type alphaVantage struct {
	rest   *restClient
	apiKey string
	logger *zap.Logger
}

func newAlphaVantage(cfg config.AlphaVantage, logger *zap.Logger) *alphaVantage {
	return &alphaVantage{
		rest:   newRestClient(cfg.Provider, logger),
		apiKey: cfg.ApiKey,
		logger: logger,
	}
}

func (a *alphaVantage) query(ctx context.Context, params map[string]string) ([]byte, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("%w: alpha vantage api key is not set", ErrProviderMisconfigured)
	}
	params["apikey"] = a.apiKey
	return a.rest.get(ctx, "/query", params)
}

// NewAlphaVantage creates the equity and forex providers sharing one
// client, so both count against the same rate limit.
func NewAlphaVantage(cfg config.AlphaVantage, logger *zap.Logger) (*StockQuotes, *ForexRates) {
	client := newAlphaVantage(cfg, logger.Named("alphavantage"))
	return &StockQuotes{client: client}, &ForexRates{client: client}
}

// StockQuotes prices equities with the GLOBAL_QUOTE function.
type StockQuotes struct {
	client *alphaVantage
}

var _ Provider = (*StockQuotes)(nil)

func (s *StockQuotes) Name() string { return "alphavantage-equity" }

type globalQuoteResponse struct {
	Quote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
}

// FetchPrice returns the last traded price of an equity ticker.
func (s *StockQuotes) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if !tickerPattern.MatchString(symbol) {
		return decimal.Zero, fmt.Errorf("%w: %s is not an equity ticker", ErrQuoteNotFound, symbol)
	}

	body, err := s.client.query(ctx, map[string]string{
		"function": "GLOBAL_QUOTE",
		"symbol":   symbol,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	var resp globalQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed quote for %s", ErrQuoteNotFound, symbol)
	}
	price, err := parsePrice(resp.Quote.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quote for %s has no usable price", err, symbol)
	}
	return price, nil
}

// ForexRates prices currency pairs with the CURRENCY_EXCHANGE_RATE function.
type ForexRates struct {
	client *alphaVantage
}

var _ Provider = (*ForexRates)(nil)

func (f *ForexRates) Name() string { return "alphavantage-forex" }

type exchangeRateResponse struct {
	Rate struct {
		From string `json:"1. From_Currency Code"`
		To   string `json:"3. To_Currency Code"`
		Rate string `json:"5. Exchange Rate"`
	} `json:"Realtime Currency Exchange Rate"`
}

// FetchPrice returns the exchange rate of a mapped six letter pair.
func (f *ForexRates) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, ok := forexPairs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no forex pair for %s", ErrQuoteNotFound, symbol)
	}

	body, err := f.client.query(ctx, map[string]string{
		"function":      "CURRENCY_EXCHANGE_RATE",
		"from_currency": pair[0],
		"to_currency":   pair[1],
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get exchange rate for %s: %w", symbol, err)
	}

	var resp exchangeRateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed exchange rate for %s", ErrQuoteNotFound, symbol)
	}
	rate, err := parsePrice(resp.Rate.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: exchange rate for %s has no usable value", err, symbol)
	}
	return rate, nil
}
