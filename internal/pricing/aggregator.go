// Package pricing routes price lookups to the provider registered for an
// asset's classification and shields providers behind a TTL cache.
package pricing

import (
	"context"
	"errors"
	"time"

	"tradesim/internal/models"
	"tradesim/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrPriceUnavailable means no price can be produced right now. It is never
// a zero price and callers should treat it as retryable.
var ErrPriceUnavailable = errors.New("price unavailable")

const (
	DefaultTTL            = 30 * time.Second
	defaultMaxConcurrency = 8
)

// AssetResolver finds the active asset for a symbol.
type AssetResolver interface {
	ActiveBySymbol(ctx context.Context, symbol string) (models.Asset, error)
}

// Aggregator is the single price lookup entry point.
type Aggregator struct {
	providers      map[models.AssetType]provider.Provider
	assets         AssetResolver
	cache          Cache
	ttl            time.Duration
	maxConcurrency int
	inflight       singleflight.Group
	logger         *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTTL overrides the cache lifetime of fetched prices. Non-positive
// values fall back to DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttl = ttl }
}

// WithMaxConcurrency bounds the upstream calls a bulk lookup runs at once.
func WithMaxConcurrency(n int) Option {
	return func(a *Aggregator) { a.maxConcurrency = n }
}

// NewAggregator creates an Aggregator. providers maps each classification to
// the source that quotes it.
func NewAggregator(providers map[models.AssetType]provider.Provider, assets AssetResolver, cache Cache, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers:      providers,
		assets:         assets,
		cache:          cache,
		ttl:            DefaultTTL,
		maxConcurrency: defaultMaxConcurrency,
		logger:         logger.Named("pricing"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxConcurrency <= 0 {
		a.maxConcurrency = defaultMaxConcurrency
	}
	if a.ttl <= 0 {
		a.logger.Warn("Non-positive price cache TTL, using default",
			zap.Duration("ttl", a.ttl), zap.Duration("default", DefaultTTL))
		a.ttl = DefaultTTL
	}
	return a
}

// GetPrice returns the current price of an active asset by symbol.
func (a *Aggregator) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = models.NormalizeSymbol(symbol)
	if price, ok := a.cache.Get(symbol); ok {
		return price, nil
	}

	asset, err := a.assets.ActiveBySymbol(ctx, symbol)
	if err != nil {
		a.logger.Warn("Cannot resolve asset for price lookup", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero, ErrPriceUnavailable
	}
	return a.PriceForAsset(ctx, asset)
}

// PriceForAsset returns the current price of an already resolved asset.
func (a *Aggregator) PriceForAsset(ctx context.Context, asset models.Asset) (decimal.Decimal, error) {
	if price, ok := a.cache.Get(asset.Symbol); ok {
		return price, nil
	}

	// Concurrent misses on the same symbol share one upstream call. The
	// shared call ignores any one caller's cancellation and is bounded by the
	// provider timeout; each caller stops waiting when its own ctx is done.
	flightCtx := context.WithoutCancel(ctx)
	ch := a.inflight.DoChan(asset.Symbol, func() (interface{}, error) {
		if price, ok := a.cache.Get(asset.Symbol); ok {
			return price, nil
		}
		return a.fetch(flightCtx, asset)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	case <-ctx.Done():
		a.logger.Debug("Price lookup abandoned by caller",
			zap.String("symbol", asset.Symbol), zap.Error(ctx.Err()))
		return decimal.Zero, ErrPriceUnavailable
	}
}

func (a *Aggregator) fetch(ctx context.Context, asset models.Asset) (decimal.Decimal, error) {
	l := a.logger.With(zap.String("symbol", asset.Symbol), zap.String("asset_type", string(asset.Type)))

	p, ok := a.providers[asset.Type]
	if !ok {
		l.Warn("No price provider registered for asset type")
		return decimal.Zero, ErrPriceUnavailable
	}

	price, err := p.FetchPrice(ctx, asset.Symbol)
	if err != nil {
		l.Warn("Price provider failed", zap.String("provider", p.Name()), zap.Error(err))
		return decimal.Zero, ErrPriceUnavailable
	}

	a.cache.Set(asset.Symbol, price, a.ttl)
	l.Debug("Fetched price", zap.String("provider", p.Name()), zap.Stringer("price", price))
	return price, nil
}

// GetPrices resolves each symbol independently. Failed symbols map to an
// invalid NullDecimal; one failure never aborts the batch.
func (a *Aggregator) GetPrices(ctx context.Context, symbols []string) map[string]decimal.NullDecimal {
	result := make(map[string]decimal.NullDecimal, len(symbols))
	assets := make([]models.Asset, 0, len(symbols))

	for _, s := range symbols {
		s = models.NormalizeSymbol(s)
		if _, seen := result[s]; seen {
			continue
		}
		result[s] = decimal.NullDecimal{}
		if price, ok := a.cache.Get(s); ok {
			result[s] = decimal.NewNullDecimal(price)
			continue
		}
		asset, err := a.assets.ActiveBySymbol(ctx, s)
		if err != nil {
			a.logger.Warn("Cannot resolve asset for price lookup", zap.String("symbol", s), zap.Error(err))
			continue
		}
		assets = append(assets, asset)
	}

	for symbol, price := range a.PricesForAssets(ctx, assets) {
		result[symbol] = price
	}
	return result
}

// PricesForAssets fetches prices for resolved assets, answering cache hits
// directly and fanning out the misses concurrently.
func (a *Aggregator) PricesForAssets(ctx context.Context, assets []models.Asset) map[string]decimal.NullDecimal {
	result := make(map[string]decimal.NullDecimal, len(assets))
	var misses []models.Asset

	for _, asset := range assets {
		if _, seen := result[asset.Symbol]; seen {
			continue
		}
		if price, ok := a.cache.Get(asset.Symbol); ok {
			result[asset.Symbol] = decimal.NewNullDecimal(price)
			continue
		}
		result[asset.Symbol] = decimal.NullDecimal{}
		misses = append(misses, asset)
	}

	if len(misses) == 0 {
		return result
	}

	prices := make([]decimal.NullDecimal, len(misses))
	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)
	for i, asset := range misses {
		g.Go(func() error {
			price, err := a.PriceForAsset(ctx, asset)
			if err == nil {
				prices[i] = decimal.NewNullDecimal(price)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, asset := range misses {
		result[asset.Symbol] = prices[i]
	}
	return result
}
