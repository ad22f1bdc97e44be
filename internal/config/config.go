package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance      Binance      `mapstructure:"binance"`
	AlphaVantage AlphaVantage `mapstructure:"alphavantage"`
	Pricing      Pricing      `mapstructure:"pricing"`
	Trading      Trading      `mapstructure:"trading"`
	Logger       Logger       `mapstructure:"logger"`
	Server       Server       `mapstructure:"server"`
	Database     Database     `mapstructure:"database"`
	Auth         Auth         `mapstructure:"auth"`
	Assets       []Asset      `mapstructure:"assets"`
}

// Provider holds the settings shared by every upstream price source.
type Provider struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// Binance holds the configuration for the Binance ticker API.
type Binance struct {
	Provider   `mapstructure:",squash"`
	QuoteAsset string `mapstructure:"quote_asset"`
}

// AlphaVantage holds the configuration for the Alpha Vantage quote API.
type AlphaVantage struct {
	Provider `mapstructure:",squash"`
	ApiKey   string `mapstructure:"apiKey"`
}

// Pricing holds the configuration for the price aggregator.
type Pricing struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// Trading holds the configuration for trade settlement.
type Trading struct {
	InitialBalance string `mapstructure:"initial_balance"`
	MinTradeAmount string `mapstructure:"min_trade_amount"`
	SettleRetries  int    `mapstructure:"settle_retries"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Auth holds the shared secret used to verify bearer tokens.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Asset is one entry of the tradeable catalog seeded at start-up.
type Asset struct {
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
	Type   string `mapstructure:"type"`
	Source string `mapstructure:"source"`
	Active *bool  `mapstructure:"active"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory, if any, is loaded first so its
// values take part in the environment overrides.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "tradesim.db")

	v.SetDefault("trading.initial_balance", "10000.00")
	v.SetDefault("trading.min_trade_amount", "1.00")
	v.SetDefault("trading.settle_retries", 3)

	v.SetDefault("pricing.cache_ttl", 30*time.Second)
	v.SetDefault("pricing.max_concurrency", 8)

	v.SetDefault("binance.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("binance.timeout", 10*time.Second)
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.max_retries", 3)
	v.SetDefault("binance.retry_backoff", time.Second)

	v.SetDefault("alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("alphavantage.apiKey", "")
	v.SetDefault("alphavantage.timeout", 10*time.Second)
	v.SetDefault("alphavantage.rate_limit", 1)
	v.SetDefault("alphavantage.rate_limit_burst", 5)
	v.SetDefault("alphavantage.max_retries", 2)
	v.SetDefault("alphavantage.retry_backoff", time.Second)

	v.SetDefault("auth.jwt_secret", "")
}
