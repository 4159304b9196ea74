package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log         Logger      `mapstructure:"logger"`
	Backtest    Backtest    `mapstructure:"backtest"`
	WalkForward WalkForward `mapstructure:"walk_forward"`
	MarketData  MarketData  `mapstructure:"market_data"`
	Cache       Cache       `mapstructure:"cache"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Backtest struct {
	StartingCash   float64 `mapstructure:"starting_cash"`
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct"`
	RiskPerTrade   float64 `mapstructure:"risk_per_trade"`
	PeriodsPerYear int     `mapstructure:"periods_per_year"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
}

type WalkForward struct {
	TrainBars      int `mapstructure:"train_bars"`
	TestBars       int `mapstructure:"test_bars"`
	StepBars       int `mapstructure:"step_bars"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type MarketData struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	CacheDuration       time.Duration `mapstructure:"cache_duration"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

func Load() (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "console")

	viper.SetDefault("backtest.starting_cash", 10000.0)
	viper.SetDefault("backtest.max_drawdown_pct", 0.25)
	viper.SetDefault("backtest.risk_per_trade", 0.02)
	viper.SetDefault("backtest.periods_per_year", 252)
	viper.SetDefault("backtest.risk_free_rate", 0.0)

	viper.SetDefault("walk_forward.train_bars", 252)
	viper.SetDefault("walk_forward.test_bars", 63)
	viper.SetDefault("walk_forward.step_bars", 315)
	viper.SetDefault("walk_forward.max_concurrency", 4)

	viper.SetDefault("market_data.base_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	viper.SetDefault("market_data.timeout", "30s")
	viper.SetDefault("market_data.max_request_per_minute", 30)
	viper.SetDefault("market_data.cache_duration", "15m")

	viper.SetDefault("cache.default_expiration", "15m")
	viper.SetDefault("cache.cleanup_interval", "30m")
}
