package engine

import (
	"math"
)

// TradeStats summarizes the closed trades observed so far. The engine
// maintains it and hands it to sizers that scale with historical
// performance (Kelly, optimal f).
type TradeStats struct {
	Trades  int
	Wins    int
	AvgWin  float64 // average winning return, as a fraction of entry notional
	AvgLoss float64 // average losing return, positive fraction
	Returns []float64
}

func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// SizingInput is everything a sizer may consider for one entry.
type SizingInput struct {
	Equity       float64
	Price        float64
	StopDistance float64 // optional; 0 when no stop reference exists
	Stats        TradeStats
}

// PositionSizer converts a directional signal into a quantity. Every
// implementation enforces the hard maximum-position-value constraint
// regardless of the computed size.
type PositionSizer interface {
	Name() string
	Quantity(in SizingInput) float64
}

// capQuantity enforces position value <= maxFraction of equity.
func capQuantity(qty float64, in SizingInput, maxFraction float64) float64 {
	if qty <= 0 || in.Price <= 0 {
		return 0
	}
	maxQty := in.Equity * maxFraction / in.Price
	return math.Min(qty, maxQty)
}

// FixedFractional commits a fixed fraction of equity to each position.
type FixedFractional struct {
	Fraction        float64
	MaxPositionFrac float64
}

func NewFixedFractional(fraction float64) *FixedFractional {
	return &FixedFractional{Fraction: fraction, MaxPositionFrac: 1.0}
}

func (f *FixedFractional) Name() string { return "fixed_fractional" }

func (f *FixedFractional) Quantity(in SizingInput) float64 {
	if in.Price <= 0 {
		return 0
	}
	qty := in.Equity * f.Fraction / in.Price
	return capQuantity(qty, in, f.MaxPositionFrac)
}

// RiskBased sizes so that a stop-out loses at most RiskPerTrade of
// equity. When no stop distance is available it falls back to fixed
// fractional sizing.
type RiskBased struct {
	RiskPerTrade     float64
	FallbackFraction float64
	MaxPositionFrac  float64
}

func NewRiskBased(riskPerTrade, fallbackFraction float64) *RiskBased {
	return &RiskBased{
		RiskPerTrade:     riskPerTrade,
		FallbackFraction: fallbackFraction,
		MaxPositionFrac:  1.0,
	}
}

func (r *RiskBased) Name() string { return "risk_based" }

func (r *RiskBased) Quantity(in SizingInput) float64 {
	if in.StopDistance <= 0 {
		qty := in.Equity * r.FallbackFraction / in.Price
		return capQuantity(qty, in, r.MaxPositionFrac)
	}
	qty := in.Equity * r.RiskPerTrade / in.StopDistance
	return capQuantity(qty, in, r.MaxPositionFrac)
}

// Kelly sizes by the Kelly criterion scaled with a safety fraction. The
// estimate is clamped to MaxFraction of equity because a noisy win-rate
// estimate can otherwise demand runaway leverage.
type Kelly struct {
	KellyFraction   float64 // safety scaling, e.g. 0.5 for half Kelly
	MaxFraction     float64 // clamp on the Kelly estimate itself
	MaxPositionFrac float64
}

func NewKelly(kellyFraction, maxFraction float64) *Kelly {
	return &Kelly{
		KellyFraction:   kellyFraction,
		MaxFraction:     maxFraction,
		MaxPositionFrac: 1.0,
	}
}

func (k *Kelly) Name() string { return "kelly" }

func (k *Kelly) Quantity(in SizingInput) float64 {
	st := in.Stats
	if st.Trades == 0 || st.AvgWin <= 0 || st.AvgLoss <= 0 {
		return 0
	}
	payoff := st.AvgWin / st.AvgLoss
	w := st.WinRate()
	kelly := w - (1-w)/payoff
	if kelly <= 0 {
		return 0
	}
	frac := math.Min(kelly*k.KellyFraction, k.MaxFraction)
	qty := in.Equity * frac / in.Price
	return capQuantity(qty, in, k.MaxPositionFrac)
}

// OptimalF sizes by the fraction that historically maximized geometric
// mean return across the observed trade sample. The fraction is fixed for
// the life of the sizer and recomputed only at walk-forward
// re-optimization boundaries, never bar by bar, to avoid look-ahead.
type OptimalF struct {
	F               float64
	MaxPositionFrac float64
}

func NewOptimalF(f float64) *OptimalF {
	return &OptimalF{F: f, MaxPositionFrac: 1.0}
}

func (o *OptimalF) Name() string { return "optimal_f" }

func (o *OptimalF) Quantity(in SizingInput) float64 {
	if o.F <= 0 {
		return 0
	}
	qty := in.Equity * o.F / in.Price
	return capQuantity(qty, in, o.MaxPositionFrac)
}

// WithRecomputed returns a copy whose fraction maximizes the geometric
// mean holding-period return over the supplied per-trade returns.
func (o *OptimalF) WithRecomputed(returns []float64) *OptimalF {
	return &OptimalF{F: SearchOptimalF(returns), MaxPositionFrac: o.MaxPositionFrac}
}

// SearchOptimalF grid-searches f in [0.01, 0.99]. Returns 0 when no
// non-zero trade returns exist.
func SearchOptimalF(returns []float64) float64 {
	var sample []float64
	for _, r := range returns {
		if r != 0 {
			sample = append(sample, r)
		}
	}
	if len(sample) == 0 {
		return 0
	}

	bestF := 0.0
	bestGMean := math.Inf(-1)
	for f := 0.01; f < 1.0; f += 0.01 {
		logSum := 0.0
		valid := true
		for _, r := range sample {
			hpr := 1 + f*r
			if hpr <= 0 {
				valid = false
				break
			}
			logSum += math.Log(hpr)
		}
		if !valid {
			continue
		}
		gmean := math.Exp(logSum / float64(len(sample)))
		if gmean > bestGMean {
			bestGMean = gmean
			bestF = f
		}
	}
	return bestF
}
