package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/domain"
)

func testParams() Params {
	p := DefaultParams()
	p.FastMA = 2
	p.SlowMA = 3
	p.RSIPeriod = 2
	p.VolumePeriod = 2
	p.MinConfirmations = 1
	return p
}

func mkBars(closes, volumes []float64) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    volumes[i],
		}
	}
	return bars
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(p *Params) {},
		},
		{
			name:    "fast ma above slow ma",
			mutate:  func(p *Params) { p.FastMA = 60 },
			wantErr: true,
		},
		{
			name:    "oversold above overbought",
			mutate:  func(p *Params) { p.RSIOversold = 80 },
			wantErr: true,
		},
		{
			name:    "zero confirmations",
			mutate:  func(p *Params) { p.MinConfirmations = 0 },
			wantErr: true,
		},
		{
			name:    "too many confirmations",
			mutate:  func(p *Params) { p.MinConfirmations = 6 },
			wantErr: true,
		},
		{
			name:    "negative volume multiplier",
			mutate:  func(p *Params) { p.VolumeMultiplier = -1 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, domain.IsConfigError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewConfluenceRejectsInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.FastMA = 100
	_, err := NewConfluence(p)
	assert.Error(t, err)
}

func TestConfluenceWarmupBars(t *testing.T) {
	p := DefaultParams()
	c, err := NewConfluence(p)
	require.NoError(t, err)
	// Slow MA 50 dominates the RSI warmup of 15 and volume period 20.
	assert.Equal(t, 50, c.WarmupBars())

	p.RSIPeriod = 60
	c, err = NewConfluence(p)
	require.NoError(t, err)
	assert.Equal(t, 61, c.WarmupBars())
}

func TestConfluenceHoldsDuringWarmup(t *testing.T) {
	c, err := NewConfluence(testParams())
	require.NoError(t, err)

	bars := mkBars([]float64{10, 11}, []float64{100, 100})
	sig, err := c.Decide(bars, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.Zero(t, sig.Confirmations)
}

func TestConfluenceTrendGate(t *testing.T) {
	c, err := NewConfluence(testParams())
	require.NoError(t, err)

	t.Run("rising trend enters", func(t *testing.T) {
		bars := mkBars([]float64{10, 11, 12, 13}, []float64{100, 100, 100, 100})
		sig, err := c.Decide(bars, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionEnterLong, sig.Action)
		assert.Contains(t, sig.Factors, domain.FactorTrend)
	})

	t.Run("falling trend exits regardless of other factors", func(t *testing.T) {
		// Volume spike confirms, but trend is mandatory.
		bars := mkBars([]float64{13, 12, 11, 10}, []float64{100, 100, 100, 500})
		sig, err := c.Decide(bars, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionExit, sig.Action)
		assert.NotContains(t, sig.Factors, domain.FactorTrend)
	})
}

func TestConfluenceFactorCounting(t *testing.T) {
	p := testParams()
	p.MinConfirmations = 4
	c, err := NewConfluence(p)
	require.NoError(t, err)

	closes := []float64{10, 11, 12, 13}
	volumes := []float64{100, 100, 100, 500}
	bars := mkBars(closes, volumes)
	last := bars[len(bars)-1].Timestamp

	pattern := domain.NewFeatureChannel(domain.FeaturePattern)
	pattern.Set(last, 1)
	sentiment := domain.NewFeatureChannel(domain.FeatureSentiment)
	sentiment.Set(last, 0.8)
	features := domain.FeatureSet{}.Add(pattern).Add(sentiment)

	sig, err := c.Decide(bars, features)
	require.NoError(t, err)
	// Trend, volume, pattern and sentiment confirm; RSI is saturated at
	// 100 on a monotone rise and stays outside the bullish band.
	assert.Equal(t, 4, sig.Confirmations)
	assert.Equal(t, domain.ActionEnterLong, sig.Action)
	assert.ElementsMatch(t, []domain.Factor{
		domain.FactorTrend, domain.FactorVolume, domain.FactorPattern, domain.FactorSentiment,
	}, sig.Factors)
}

func TestConfluenceMissingFeaturesAreNeutral(t *testing.T) {
	p := testParams()
	p.MinConfirmations = 3
	c, err := NewConfluence(p)
	require.NoError(t, err)

	bars := mkBars([]float64{10, 11, 12, 13}, []float64{100, 100, 100, 500})

	// No feature set at all: pattern and sentiment count as
	// non-confirming, evaluation still succeeds.
	sig, err := c.Decide(bars, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sig.Confirmations)
	assert.Equal(t, domain.ActionExit, sig.Action)
}

func TestConfluenceSentimentThreshold(t *testing.T) {
	c, err := NewConfluence(testParams())
	require.NoError(t, err)

	bars := mkBars([]float64{10, 11, 12, 13}, []float64{100, 100, 100, 100})
	last := bars[len(bars)-1].Timestamp

	sentiment := domain.NewFeatureChannel(domain.FeatureSentiment)
	sentiment.Set(last, 0.05) // below the 0.1 threshold
	features := domain.FeatureSet{}.Add(sentiment)

	sig, err := c.Decide(bars, features)
	require.NoError(t, err)
	assert.NotContains(t, sig.Factors, domain.FactorSentiment)
}

func TestBuildIsABuildFunc(t *testing.T) {
	var build BuildFunc = Build
	strat, err := build(DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "confluence", strat.Name())
}
