package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tradesim/internal/models"
	"tradesim/internal/portfolio"
	"tradesim/internal/trading"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AssetCatalog lists and resolves tradable assets.
type AssetCatalog interface {
	ActiveBySymbol(ctx context.Context, symbol string) (models.Asset, error)
	ListActive(ctx context.Context) ([]models.Asset, error)
}

// PriceFeed serves current prices.
type PriceFeed interface {
	PriceForAsset(ctx context.Context, asset models.Asset) (decimal.Decimal, error)
	PricesForAssets(ctx context.Context, assets []models.Asset) map[string]decimal.NullDecimal
	GetPrices(ctx context.Context, symbols []string) map[string]decimal.NullDecimal
}

// Trades settles and lists a user's trades.
type Trades interface {
	OpenTrade(ctx context.Context, userID uint, req trading.OpenTradeRequest) (*models.Trade, error)
	CloseTrade(ctx context.Context, userID, tradeID uint) (*trading.CloseResult, error)
	OpenPositions(ctx context.Context, userID uint) ([]trading.Position, error)
	History(ctx context.Context, userID uint) ([]models.Trade, error)
	Balance(ctx context.Context, userID uint) (decimal.Decimal, error)
}

// Portfolio serves a user's statistics.
type Portfolio interface {
	Stats(ctx context.Context, userID uint) (*portfolio.StatisticsResponse, error)
	Summary(ctx context.Context, userID uint) (*portfolio.Summary, error)
}

// Handler holds dependencies for the API endpoints.
type Handler struct {
	assets    AssetCatalog
	prices    PriceFeed
	trades    Trades
	portfolio Portfolio
	log       *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(assets AssetCatalog, prices PriceFeed, trades Trades, pf Portfolio, log *zap.Logger) *Handler {
	return &Handler{assets: assets, prices: prices, trades: trades, portfolio: pf, log: log}
}

// Routes builds the router. Trade and portfolio routes require a bearer token.
func (h *Handler) Routes(verifier *TokenVerifier) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/assets", h.ListAssets)
		r.Get("/prices", h.ListPrices)
		r.Get("/prices/{symbol}", h.GetPrice)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(verifier))
			r.Post("/trades/open", h.OpenTrade)
			r.Post("/trades/close", h.CloseTrade)
			r.Get("/trades/positions", h.Positions)
			r.Get("/trades/history", h.History)
			r.Get("/portfolio", h.Portfolio)
			r.Get("/portfolio/summary", h.Summary)
		})
	})
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListAssets returns the active asset catalog.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.ListActive(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetPrice returns the current price of one asset, or a null price while
// its provider is unavailable.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset, err := h.assets.ActiveBySymbol(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	resp := assetPrice{ID: asset.ID, Symbol: asset.Symbol, Name: asset.Name, AssetType: asset.Type}
	price, err := h.prices.PriceForAsset(r.Context(), asset)
	switch {
	case err == nil:
		resp.Price = decimal.NewNullDecimal(price)
	case !errors.Is(err, trading.ErrPriceUnavailable):
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type assetPrice struct {
	ID        uint                `json:"id"`
	Symbol    string              `json:"symbol"`
	Name      string              `json:"name"`
	AssetType models.AssetType    `json:"asset_type"`
	Price     decimal.NullDecimal `json:"price"`
}

// ListPrices prices every active asset, or those named in ?symbols=A,B.
// Unknown symbols are skipped; failed lookups carry a null price.
func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	catalog, err := h.assets.ListActive(ctx)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	q := r.URL.Query().Get("symbols")
	if q == "" {
		writeJSON(w, http.StatusOK, priceList(catalog, h.prices.PricesForAssets(ctx, catalog)))
		return
	}

	bySymbol := make(map[string]models.Asset, len(catalog))
	for _, a := range catalog {
		bySymbol[a.Symbol] = a
	}
	symbols := strings.Split(q, ",")
	prices := h.prices.GetPrices(ctx, symbols)

	var assets []models.Asset
	for _, s := range symbols {
		a, ok := bySymbol[models.NormalizeSymbol(s)]
		if !ok {
			continue
		}
		delete(bySymbol, a.Symbol)
		assets = append(assets, a)
	}
	writeJSON(w, http.StatusOK, priceList(assets, prices))
}

func priceList(assets []models.Asset, prices map[string]decimal.NullDecimal) []assetPrice {
	out := make([]assetPrice, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetPrice{
			ID:        a.ID,
			Symbol:    a.Symbol,
			Name:      a.Name,
			AssetType: a.Type,
			Price:     prices[a.Symbol],
		})
	}
	return out
}

type openTradeRequest struct {
	AssetID    uint                `json:"asset_id"`
	Amount     decimal.Decimal     `json:"amount"`
	Side       models.TradeSide    `json:"trade_type"`
	StopLoss   decimal.NullDecimal `json:"stop_loss"`
	TakeProfit decimal.NullDecimal `json:"take_profit"`
}

// OpenTrade opens a position for the caller.
func (h *Handler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req openTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	trade, err := h.trades.OpenTrade(r.Context(), userID, trading.OpenTradeRequest{
		AssetID:    req.AssetID,
		Amount:     req.Amount,
		Side:       models.TradeSide(strings.ToUpper(string(req.Side))),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

type closeTradeRequest struct {
	TradeID uint `json:"trade_id"`
}

type closeTradeResponse struct {
	Trade       models.Trade    `json:"trade"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Balance     decimal.Decimal `json:"new_balance"`
}

// CloseTrade settles one of the caller's open trades.
func (h *Handler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req closeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TradeID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.trades.CloseTrade(r.Context(), userID, req.TradeID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, closeTradeResponse{
		Trade:       res.Trade,
		RealizedPnL: res.RealizedPnL,
		Balance:     res.Balance,
	})
}

type positionResponse struct {
	models.Trade
	CurrentPrice         decimal.NullDecimal `json:"current_price"`
	CurrentValue         decimal.NullDecimal `json:"current_value"`
	UnrealizedPnL        decimal.NullDecimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.NullDecimal `json:"unrealized_pnl_percent"`
}

// Positions lists the caller's open trades with unrealized pnl.
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	positions, err := h.trades.OpenPositions(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			Trade:                p.Trade,
			CurrentPrice:         p.CurrentPrice,
			CurrentValue:         p.CurrentValue,
			UnrealizedPnL:        p.UnrealizedPnL,
			UnrealizedPnLPercent: p.UnrealizedPnLPercent,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// History returns all of the caller's trades, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	trades, err := h.trades.History(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

type portfolioResponse struct {
	Balance decimal.Decimal `json:"account_balance"`
	*portfolio.StatisticsResponse
}

// Portfolio returns the caller's balance with all-time and 24h statistics.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	balance, err := h.trades.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	stats, err := h.portfolio.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolioResponse{Balance: balance, StatisticsResponse: stats})
}

// Summary returns the caller's balance, statistics and open position totals.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	sum, err := h.portfolio.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
