// Package marketdata materializes bar series and feature channels from
// external sources. Providers are read-only: the engine never writes
// back through them.
package marketdata

import (
	"context"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/dto"
)

// BarProvider loads one symbol's OHLCV history.
type BarProvider interface {
	GetBars(ctx context.Context, param dto.GetBarsParam) (*domain.Series, error)
}
