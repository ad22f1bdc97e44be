package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradesim/internal/api"
	"tradesim/internal/config"
	"tradesim/internal/database"
	"tradesim/internal/logger"
	"tradesim/internal/models"
	"tradesim/internal/portfolio"
	"tradesim/internal/pricing"
	"tradesim/internal/provider"
	"tradesim/internal/trading"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	if cfg.AlphaVantage.ApiKey == "" {
		log.Warn("No Alpha Vantage API key configured; stock and forex prices are unavailable")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("No JWT secret configured; all trade and portfolio requests will be rejected")
	}

	stocks, forex := provider.NewAlphaVantage(cfg.AlphaVantage, log)
	providers := map[models.AssetType]provider.Provider{
		models.AssetCrypto: provider.NewBinance(cfg.Binance, log),
		models.AssetStock:  stocks,
		models.AssetForex:  forex,
	}

	assets := database.NewAssetStore(db)
	prices := pricing.NewAggregator(providers, assets, pricing.NewMemoryCache(), log,
		pricing.WithTTL(cfg.Pricing.CacheTTL),
		pricing.WithMaxConcurrency(cfg.Pricing.MaxConcurrency),
	)

	trades, err := trading.NewService(db, assets, prices, cfg.Trading, log)
	if err != nil {
		log.Fatal("Invalid trading configuration", zap.Error(err))
	}
	pf := portfolio.NewService(db, trades, trades.InitialBalance(), log)

	handler := api.NewHandler(assets, prices, trades, pf, log)
	server := api.NewServer(cfg.Server, handler.Routes(api.NewTokenVerifier(cfg.Auth.JWTSecret)), log)
	serverErr := server.Start()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigchan:
		log.Info("Shutdown signal received, gracefully shutting down...")
	case err := <-serverErr:
		if err != nil {
			log.Error("Server stopped unexpectedly", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("Server has been shut down.")
}
