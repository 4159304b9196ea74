package strategy

import (
	"golang-backtest/internal/domain"
	"golang-backtest/internal/indicators"
)

// Confluence requires a configurable minimum number of independent
// confirmations out of five factors before entering: trend, momentum,
// volume, candlestick pattern and news sentiment. Trend is a mandatory
// gate for entries, not merely one of the five votes. A missing external
// factor counts as non-confirming and never blocks evaluation.
type Confluence struct {
	params Params
}

// NewConfluence validates the parameter set and returns the reference
// confluence strategy.
func NewConfluence(params Params) (*Confluence, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Confluence{params: params}, nil
}

// Build is a BuildFunc for the walk-forward validator.
func Build(params Params) (Strategy, error) {
	return NewConfluence(params)
}

func (c *Confluence) Name() string { return "confluence" }

func (c *Confluence) Params() Params { return c.params }

func (c *Confluence) WarmupBars() int {
	warmup := c.params.SlowMA
	if c.params.RSIPeriod+1 > warmup {
		warmup = c.params.RSIPeriod + 1
	}
	if c.params.VolumePeriod > warmup {
		warmup = c.params.VolumePeriod
	}
	return warmup
}

func (c *Confluence) Decide(window []domain.Bar, features domain.FeatureSet) (domain.Signal, error) {
	if len(window) < c.WarmupBars() {
		return domain.Hold(), nil
	}

	cur := window[len(window)-1]
	closes := indicators.Closes(window)

	fast, _ := indicators.SMA(closes, c.params.FastMA)
	slow, _ := indicators.SMA(closes, c.params.SlowMA)
	trendBullish := fast > slow

	var factors []domain.Factor
	if trendBullish {
		factors = append(factors, domain.FactorTrend)
	}

	if rsi, ok := indicators.RSI(closes, c.params.RSIPeriod); ok {
		if rsi > c.params.RSIOversold && rsi < c.params.RSIOverbought {
			factors = append(factors, domain.FactorMomentum)
		}
	}

	if volMA, ok := indicators.SMA(indicators.Volumes(window), c.params.VolumePeriod); ok && volMA > 0 {
		if cur.Volume > volMA*c.params.VolumeMultiplier {
			factors = append(factors, domain.FactorVolume)
		}
	}

	// External factors: unknown values are neutral, never an error.
	if flag, ok := features.Value(domain.FeaturePattern, cur.Timestamp); ok && flag > 0 {
		factors = append(factors, domain.FactorPattern)
	}
	if score, ok := features.Value(domain.FeatureSentiment, cur.Timestamp); ok && score > c.params.SentimentThreshold {
		factors = append(factors, domain.FactorSentiment)
	}

	confirmations := len(factors)
	sig := domain.Signal{Confirmations: confirmations, Factors: factors}

	switch {
	case trendBullish && confirmations >= c.params.MinConfirmations:
		sig.Action = domain.ActionEnterLong
	case !trendBullish || confirmations < c.params.MinConfirmations:
		sig.Action = domain.ActionExit
	default:
		sig.Action = domain.ActionHold
	}
	return sig, nil
}
