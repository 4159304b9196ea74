// Package strategy defines the pluggable decision unit the simulation
// engine drives, plus the confluence reference implementation. Strategies
// are stateless with respect to portfolio data: they receive the bar
// window and feature channels and return a signal, never mutating
// portfolio state.
package strategy

import (
	"github.com/go-playground/validator/v10"

	"golang-backtest/internal/domain"
)

// Strategy decides on the current bar. The window always ends at the bar
// being evaluated, so an implementation cannot look ahead.
type Strategy interface {
	Name() string
	// WarmupBars is the minimum window length before the strategy can
	// produce a meaningful decision. The engine emits HOLD implicitly
	// while the window is shorter.
	WarmupBars() int
	Decide(window []domain.Bar, features domain.FeatureSet) (domain.Signal, error)
}

// BuildFunc constructs a strategy from a parameter set. The walk-forward
// validator uses it to rebuild strategies with re-optimized parameters.
type BuildFunc func(params Params) (Strategy, error)

// Params is the enumerated strategy parameter set exposed to callers and
// iterated by the parameter-grid optimizer.
type Params struct {
	FastMA             int     `json:"fast_ma" validate:"gt=0"`
	SlowMA             int     `json:"slow_ma" validate:"gt=0"`
	RSIPeriod          int     `json:"rsi_period" validate:"gt=1"`
	RSIOversold        float64 `json:"rsi_oversold" validate:"gte=0,lt=100"`
	RSIOverbought      float64 `json:"rsi_overbought" validate:"gt=0,lte=100"`
	VolumePeriod       int     `json:"volume_period" validate:"gt=0"`
	VolumeMultiplier   float64 `json:"volume_multiplier" validate:"gt=0"`
	MinConfirmations   int     `json:"min_confirmations" validate:"gte=1,lte=5"`
	SentimentThreshold float64 `json:"sentiment_threshold"`
}

// DefaultParams mirrors the conventional confluence setup.
func DefaultParams() Params {
	return Params{
		FastMA:             10,
		SlowMA:             50,
		RSIPeriod:          14,
		RSIOversold:        30,
		RSIOverbought:      70,
		VolumePeriod:       20,
		VolumeMultiplier:   1.2,
		MinConfirmations:   3,
		SentimentThreshold: 0.1,
	}
}

var validate = validator.New()

// Validate rejects an invalid parameter set before any bar is processed.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &domain.ConfigError{Field: "params", Reason: err.Error()}
	}
	if p.FastMA >= p.SlowMA {
		return &domain.ConfigError{Field: "fast_ma", Reason: "fast MA length must be below slow MA length"}
	}
	if p.RSIOversold >= p.RSIOverbought {
		return &domain.ConfigError{Field: "rsi_oversold", Reason: "oversold level must be below overbought level"}
	}
	return nil
}
