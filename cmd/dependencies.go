package cmd

import (
	"golang-backtest/config"
	"golang-backtest/internal/marketdata"
	"golang-backtest/internal/service"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/logger"
)

type AppDependency struct {
	cfg      *config.Config
	log      *logger.Logger
	cache    cache.Cache
	provider marketdata.BarProvider
	services *service.Service
}

// NewAppDependency wires the application. A non-empty dataDir selects
// the local CSV provider; otherwise bars come from Yahoo Finance.
func NewAppDependency(dataDir string) (*AppDependency, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}

	inmemoryCache := cache.NewCache(cfg.Cache.DefaultExpiration, cfg.Cache.CleanupInterval)

	var provider marketdata.BarProvider
	if dataDir != "" {
		provider = marketdata.NewCSVProvider(dataDir, log)
	} else {
		provider = marketdata.NewYahooProvider(cfg, log, inmemoryCache)
	}

	return &AppDependency{
		cfg:      cfg,
		log:      log,
		cache:    inmemoryCache,
		provider: provider,
		services: service.NewService(cfg, log, provider),
	}, nil
}

func (d *AppDependency) Close() error {
	return d.log.Sync()
}
