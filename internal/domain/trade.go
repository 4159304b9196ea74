package domain

import "time"

// Side of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a request for execution at a reference price. The reference is
// the deciding bar's close or the next bar's open, per configured timing.
type Order struct {
	Side           Side
	Quantity       float64
	ReferencePrice float64
	Timestamp      time.Time
}

// Fill is a realized execution. Fills are owned exclusively by the
// simulation engine and appended to an immutable trade log.
type Fill struct {
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// Trade is a closed round trip built from an entry and an exit fill.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}

// PortfolioState is mutated only by the simulation engine, once per bar,
// in a fixed order: mark-to-market, strategy decision, sizing, cost model,
// fill, state update.
type PortfolioState struct {
	Cash          float64
	PositionQty   float64
	AvgEntryPrice float64
	Equity        float64
	PeakEquity    float64
	TradingPaused bool
}

// MarkToMarket revalues the open position at the given price and updates
// peak equity. It returns the current drawdown as a fraction of the peak.
func (p *PortfolioState) MarkToMarket(price float64) float64 {
	p.Equity = p.Cash + p.PositionQty*price
	if p.Equity > p.PeakEquity {
		p.PeakEquity = p.Equity
	}
	if p.PeakEquity <= 0 {
		return 0
	}
	return (p.PeakEquity - p.Equity) / p.PeakEquity
}

// EquityPoint is one sample of the equity curve, appended once per bar.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}
