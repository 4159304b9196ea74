package service

import (
	"golang-backtest/config"
	"golang-backtest/internal/engine"
	"golang-backtest/internal/marketdata"
	"golang-backtest/pkg/logger"
)

type Service struct {
	BacktestService BacktestService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	provider marketdata.BarProvider,
) *Service {
	eng := engine.New(log)
	return &Service{
		BacktestService: NewBacktestService(cfg, log, eng, provider),
	}
}
