package engine

import (
	"math"

	"golang-backtest/internal/domain"
)

// MarketSnapshot carries the per-bar liquidity and volatility context the
// cost models price against. The engine computes it from the bar window;
// cost models never see portfolio state.
type MarketSnapshot struct {
	AvgVolume float64 // simple moving average of recent volume
	ATR       float64 // current average true range
	ATRAvg    float64 // moving average of the ATR, the volatility baseline
}

// CostModel converts a reference price into a realized fill price. The
// adjustment always moves against the trader: buys fill at or above the
// reference, sells at or below it.
type CostModel interface {
	Name() string
	// Slippage returns the price adjustment as a non-negative fraction of
	// the reference price.
	Slippage(order domain.Order, m MarketSnapshot) float64
}

// FillPrice applies a cost model to an order. Slippage is clamped to be
// non-negative so a fill can never improve on the reference price.
func FillPrice(cm CostModel, order domain.Order, m MarketSnapshot) float64 {
	slip := cm.Slippage(order, m)
	if slip < 0 {
		slip = 0
	}
	if order.Side == domain.SideBuy {
		return order.ReferencePrice * (1 + slip)
	}
	return order.ReferencePrice * (1 - slip)
}

// DynamicSlippage models slippage as base cost plus additive order-size
// and volatility components. The two components scale additively, never
// multiplicatively, so the adjustment stays bounded.
type DynamicSlippage struct {
	BaseSlippage       float64 // e.g. 0.0005 for 5 bps
	VolumeImpactFactor float64 // slippage per unit of order size relative to recent volume
	VolumeImpactCap    float64 // cap on the size component alone
	VolatilityFactor   float64 // scales the excess of ATR over its baseline
	MaxSlippage        float64 // hard cap on total slippage
}

// NewDynamicSlippage returns the model with conventional defaults:
// 5 bps base, size impact capped at 50 bps, 1% total cap.
func NewDynamicSlippage() *DynamicSlippage {
	return &DynamicSlippage{
		BaseSlippage:       0.0005,
		VolumeImpactFactor: 0.1,
		VolumeImpactCap:    0.005,
		VolatilityFactor:   0.5,
		MaxSlippage:        0.01,
	}
}

func (d *DynamicSlippage) Name() string { return "dynamic" }

func (d *DynamicSlippage) Slippage(order domain.Order, m MarketSnapshot) float64 {
	// A dead market gives no liquidity reference. Charge the maximum
	// rather than failing the run.
	if m.AvgVolume <= 0 {
		return d.MaxSlippage
	}

	slip := d.BaseSlippage

	sizeImpact := math.Abs(order.Quantity) / m.AvgVolume * d.VolumeImpactFactor
	slip += math.Min(sizeImpact, d.VolumeImpactCap)

	if m.ATRAvg > 0 {
		volImpact := (m.ATR/m.ATRAvg - 1) * d.VolatilityFactor * d.BaseSlippage
		slip += math.Max(0, volImpact)
	}

	return math.Min(slip, d.MaxSlippage)
}

// MarketImpact models the non-linear cost of large orders with the
// square-root law: impact grows with the square root of order size
// relative to recent volume. Used instead of, not combined with,
// dynamic slippage.
type MarketImpact struct {
	BaseSlippage float64
	ImpactFactor float64
	MaxSlippage  float64
}

func NewMarketImpact() *MarketImpact {
	return &MarketImpact{
		BaseSlippage: 0.0005,
		ImpactFactor: 0.01,
		MaxSlippage:  0.02,
	}
}

func (mi *MarketImpact) Name() string { return "market_impact" }

func (mi *MarketImpact) Slippage(order domain.Order, m MarketSnapshot) float64 {
	if m.AvgVolume <= 0 {
		return mi.MaxSlippage
	}
	relativeSize := math.Abs(order.Quantity) / m.AvgVolume
	impact := mi.ImpactFactor * math.Sqrt(relativeSize)
	return math.Min(mi.BaseSlippage+impact, mi.MaxSlippage)
}

// CommissionSchedule computes the commission charged on one fill. All
// commissions are deducted from cash at fill time, never deferred.
type CommissionSchedule interface {
	Name() string
	Commission(quantity, price float64) float64
}

// PercentCommission charges a flat percentage of traded notional.
type PercentCommission struct {
	Rate float64
}

func (p PercentCommission) Name() string { return "percent" }

func (p PercentCommission) Commission(quantity, price float64) float64 {
	return math.Abs(quantity) * price * p.Rate
}

// PerShareCommission charges per share with a per-trade minimum.
type PerShareCommission struct {
	PerShare float64
	Minimum  float64
}

func (p PerShareCommission) Name() string { return "per_share" }

func (p PerShareCommission) Commission(quantity, price float64) float64 {
	comm := math.Abs(quantity) * p.PerShare
	if comm < p.Minimum {
		comm = p.Minimum
	}
	return comm
}
