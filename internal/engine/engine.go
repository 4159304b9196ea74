// Package engine implements the deterministic bar-by-bar portfolio
// simulator, its execution-cost and position-sizing models, the risk
// metrics computed from a finished run, and the walk-forward validation
// protocol. A single run is strictly sequential: bar order is a
// correctness invariant, so no parallelism exists inside one run.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	goValidator "github.com/go-playground/validator/v10"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/indicators"
	"golang-backtest/internal/strategy"
	"golang-backtest/pkg/logger"
)

// ExecutionTiming selects the reference price for fills.
type ExecutionTiming string

const (
	// TimingCloseSameBar executes on the close of the deciding bar.
	TimingCloseSameBar ExecutionTiming = "close"
	// TimingNextBarOpen queues the decision and executes on the next
	// bar's open.
	TimingNextBarOpen ExecutionTiming = "next_open"
)

// RunConfig is the per-run configuration, validated before any bar is
// processed.
type RunConfig struct {
	StartingCash   float64         `validate:"gt=0"`
	MaxDrawdownPct float64         `validate:"gt=0,lte=1"`
	Timing         ExecutionTiming `validate:"oneof=close next_open"`
	ATRPeriod      int             `validate:"gt=0"`
	VolumePeriod   int             `validate:"gt=0"`
}

// DefaultRunConfig returns a RunConfig with conventional values.
func DefaultRunConfig(startingCash float64) RunConfig {
	return RunConfig{
		StartingCash:   startingCash,
		MaxDrawdownPct: 0.25,
		Timing:         TimingCloseSameBar,
		ATRPeriod:      14,
		VolumePeriod:   20,
	}
}

var validateRun = goValidator.New()

func (c RunConfig) Validate() error {
	if err := validateRun.Struct(c); err != nil {
		return &domain.ConfigError{Field: "run_config", Reason: err.Error()}
	}
	return nil
}

// RunSpec bundles everything one simulation needs. Strategy and cost
// model are stateless with respect to portfolio data; the engine owns
// PortfolioState and the trade log exclusively for the duration of the
// run.
type RunSpec struct {
	Series     *domain.Series
	Strategy   strategy.Strategy
	Sizer      PositionSizer
	Costs      CostModel
	Commission CommissionSchedule
	Config     RunConfig
}

// Result is the raw outcome of one run. Risk metrics are computed from it
// afterwards by ComputeMetrics.
type Result struct {
	StartEquity   float64
	EndEquity     float64
	Trades        []domain.Trade
	Fills         []domain.Fill
	EquityCurve   []domain.EquityPoint
	TotalNotional float64
	Warnings      []string
	// TerminalError is set when a strategy or cost-model fault aborted
	// the run; the equity curve then covers only the processed bars.
	TerminalError string
}

func (r *Result) PnL() float64 { return r.EndEquity - r.StartEquity }

func (r *Result) PnLPct() float64 {
	if r.StartEquity == 0 {
		return 0
	}
	return r.PnL() / r.StartEquity * 100
}

// TradeReturns lists each closed trade's return as a fraction of its
// entry notional, in close order.
func (r *Result) TradeReturns() []float64 {
	out := make([]float64, 0, len(r.Trades))
	for _, t := range r.Trades {
		notional := t.EntryPrice * t.Quantity
		if notional > 0 {
			out = append(out, t.PnL/notional)
		}
	}
	return out
}

// Engine drives the bar-by-bar simulation loop.
type Engine struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Engine {
	return &Engine{log: log}
}

// pendingOrder is a decision queued for the next bar's open, together
// with the market snapshot known when it was made. Pricing the fill from
// anything newer would leak the fill bar's own volume and range.
type pendingOrder struct {
	sig  domain.Signal
	snap MarketSnapshot
}

// runState is the mutable state of one simulation.
type runState struct {
	port      domain.PortfolioState
	stats     TradeStats
	sumWin    float64
	sumLoss   float64
	atrs      []float64
	entryTS   time.Time
	entryComm float64
	pending   *pendingOrder
}

// Run executes one backtest. The series is processed strictly in
// timestamp order; the engine never looks ahead. A strategy or
// cost-model fault aborts the run with a partial result carrying a
// terminal-error marker; missing feature values are tolerated and
// surface only as warnings.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	if err := spec.Config.Validate(); err != nil {
		return nil, err
	}
	if spec.Series == nil {
		return nil, &domain.InputError{Reason: "nil series"}
	}
	if err := spec.Series.Validate(); err != nil {
		return nil, err
	}

	bars := spec.Series.Bars
	res := &Result{
		StartEquity: spec.Config.StartingCash,
		EquityCurve: make([]domain.EquityPoint, 0, len(bars)),
	}
	res.Warnings = seriesWarnings(spec.Series)

	st := &runState{
		port: domain.PortfolioState{
			Cash:       spec.Config.StartingCash,
			Equity:     spec.Config.StartingCash,
			PeakEquity: spec.Config.StartingCash,
		},
	}

	for i := range bars {
		bar := bars[i]
		window := bars[:i+1]
		snap := e.snapshot(st, window, spec.Config)

		// A decision queued on the previous bar executes on this open,
		// priced from the snapshot taken at decision time, unless the
		// breaker tripped in the meantime.
		if st.pending != nil {
			if !st.port.TradingPaused {
				e.execute(res, st, spec, st.pending.sig, bar.Open, bar, st.pending.snap)
			}
			st.pending = nil
		}

		// 1. Mark to market, track peak equity and drawdown.
		drawdown := st.port.MarkToMarket(bar.Close)

		// 2. Trade-level circuit breaker: at or past the limit, the
		// strategy is not even consulted.
		st.port.TradingPaused = drawdown >= spec.Config.MaxDrawdownPct

		if !st.port.TradingPaused {
			// 3. Strategy decision on the window ending at this bar.
			sig, err := spec.Strategy.Decide(window, spec.Series.Features)
			if err != nil {
				return e.abort(res, st, bar, &domain.ComputationFault{Stage: "strategy", Err: err})
			}

			// 4. Act on the signal.
			switch spec.Config.Timing {
			case TimingNextBarOpen:
				if i < len(bars)-1 && sig.Action != domain.ActionHold {
					st.pending = &pendingOrder{sig: sig, snap: snap}
				}
			default:
				e.execute(res, st, spec, sig, bar.Close, bar, snap)
			}
		}

		// 5. Fold any same-bar fill into equity and sample the curve.
		st.port.MarkToMarket(bar.Close)
		res.EquityCurve = append(res.EquityCurve, domain.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    st.port.Equity,
		})
	}

	// A position left open on the final bar is force-closed so PnL
	// always reflects a fully liquidated state.
	if st.port.PositionQty > 0 {
		last := bars[len(bars)-1]
		snap := e.snapshot(st, bars, spec.Config)
		e.exit(res, st, spec, last.Close, last, snap, "end_of_data")
		st.port.MarkToMarket(last.Close)
		res.EquityCurve[len(res.EquityCurve)-1].Equity = st.port.Equity
	}

	res.EndEquity = st.port.Equity
	res.Warnings = append(res.Warnings, costWarnings(res)...)

	if e.log != nil {
		e.log.DebugContext(ctx, "backtest run completed",
			logger.StringField("symbol", spec.Series.Symbol),
			logger.IntField("bars", len(bars)),
			logger.IntField("trades", len(res.Trades)),
		)
	}
	return res, nil
}

// abort closes out a faulted run with the partial equity curve and a
// terminal marker. Backtests never silently continue on internal faults.
func (e *Engine) abort(res *Result, st *runState, bar domain.Bar, fault *domain.ComputationFault) (*Result, error) {
	res.EquityCurve = append(res.EquityCurve, domain.EquityPoint{
		Timestamp: bar.Timestamp,
		Equity:    st.port.Equity,
	})
	res.EndEquity = st.port.Equity
	res.TerminalError = fault.Error()
	if e.log != nil {
		e.log.Error("backtest aborted", logger.ErrorField(fault))
	}
	return res, fault
}

// execute routes a signal to an entry or exit. HOLD performs no state
// change; ENTER_LONG is ignored while a position is open, EXIT while
// flat.
func (e *Engine) execute(res *Result, st *runState, spec RunSpec, sig domain.Signal, refPrice float64, bar domain.Bar, snap MarketSnapshot) {
	switch sig.Action {
	case domain.ActionEnterLong:
		if st.port.PositionQty == 0 {
			e.enter(res, st, spec, refPrice, bar, snap)
		}
	case domain.ActionExit:
		if st.port.PositionQty > 0 {
			e.exit(res, st, spec, refPrice, bar, snap, "signal_exit")
		}
	}
}

func (e *Engine) enter(res *Result, st *runState, spec RunSpec, refPrice float64, bar domain.Bar, snap MarketSnapshot) {
	if refPrice <= 0 {
		return
	}
	qty := spec.Sizer.Quantity(SizingInput{
		Equity:       st.port.Equity,
		Price:        refPrice,
		StopDistance: snap.ATR,
		Stats:        st.stats,
	})
	if qty <= 0 {
		return
	}

	order := domain.Order{Side: domain.SideBuy, Quantity: qty, ReferencePrice: refPrice, Timestamp: bar.Timestamp}
	fillPrice := FillPrice(spec.Costs, order, snap)

	if qty*fillPrice > st.port.Cash {
		qty = st.port.Cash / fillPrice
	}
	// Cash must cover shares plus the commission on them; the commission
	// is repriced as the quantity shrinks. Flat minimum schedules settle
	// on the second pass.
	comm := spec.Commission.Commission(qty, fillPrice)
	for i := 0; i < 3 && qty > 0 && qty*fillPrice+comm > st.port.Cash; i++ {
		qty = (st.port.Cash - comm) / fillPrice
		comm = spec.Commission.Commission(qty, fillPrice)
	}
	if qty <= 0 || qty*fillPrice+comm > st.port.Cash {
		return
	}

	st.port.Cash -= qty*fillPrice + comm
	st.port.PositionQty = qty
	st.port.AvgEntryPrice = fillPrice
	st.entryTS = bar.Timestamp
	st.entryComm = comm

	res.Fills = append(res.Fills, domain.Fill{
		Side: domain.SideBuy, Price: fillPrice, Quantity: qty,
		Commission: comm, Timestamp: bar.Timestamp,
	})
	res.TotalNotional += qty * fillPrice
}

func (e *Engine) exit(res *Result, st *runState, spec RunSpec, refPrice float64, bar domain.Bar, snap MarketSnapshot, reason string) {
	qty := st.port.PositionQty
	order := domain.Order{Side: domain.SideSell, Quantity: qty, ReferencePrice: refPrice, Timestamp: bar.Timestamp}
	fillPrice := FillPrice(spec.Costs, order, snap)
	comm := spec.Commission.Commission(qty, fillPrice)

	st.port.Cash += qty*fillPrice - comm

	trade := domain.Trade{
		EntryTime:  st.entryTS,
		ExitTime:   bar.Timestamp,
		EntryPrice: st.port.AvgEntryPrice,
		ExitPrice:  fillPrice,
		Quantity:   qty,
		Commission: st.entryComm + comm,
		PnL:        (fillPrice-st.port.AvgEntryPrice)*qty - st.entryComm - comm,
		ExitReason: reason,
	}
	res.Trades = append(res.Trades, trade)
	res.Fills = append(res.Fills, domain.Fill{
		Side: domain.SideSell, Price: fillPrice, Quantity: qty,
		Commission: comm, Timestamp: bar.Timestamp,
	})
	res.TotalNotional += qty * fillPrice

	e.recordTrade(st, trade)

	st.port.PositionQty = 0
	st.port.AvgEntryPrice = 0
	st.entryTS = time.Time{}
	st.entryComm = 0
}

func (e *Engine) recordTrade(st *runState, t domain.Trade) {
	st.stats.Trades++
	notional := t.EntryPrice * t.Quantity
	var ret float64
	if notional > 0 {
		ret = t.PnL / notional
	}
	st.stats.Returns = append(st.stats.Returns, ret)
	if t.PnL > 0 {
		st.stats.Wins++
		st.sumWin += ret
		st.stats.AvgWin = st.sumWin / float64(st.stats.Wins)
	} else {
		losses := st.stats.Trades - st.stats.Wins
		st.sumLoss += math.Abs(ret)
		st.stats.AvgLoss = st.sumLoss / float64(losses)
	}
}

// snapshot computes the liquidity and volatility context for the current
// bar from trailing data only.
func (e *Engine) snapshot(st *runState, window []domain.Bar, cfg RunConfig) MarketSnapshot {
	snap := MarketSnapshot{}
	if avgVol, ok := indicators.SMA(indicators.Volumes(window), cfg.VolumePeriod); ok {
		snap.AvgVolume = avgVol
	} else if len(window) > 0 {
		// Not enough bars for the full period yet; fall back to the mean
		// of what exists so early fills are still priced.
		var sum float64
		for _, b := range window {
			sum += b.Volume
		}
		snap.AvgVolume = sum / float64(len(window))
	}

	if atr, ok := indicators.ATR(window, cfg.ATRPeriod); ok {
		snap.ATR = atr
		st.atrs = append(st.atrs, atr)
	}
	if avg, ok := indicators.SMA(st.atrs, cfg.VolumePeriod); ok {
		snap.ATRAvg = avg
	} else if len(st.atrs) > 0 {
		var sum float64
		for _, v := range st.atrs {
			sum += v
		}
		snap.ATRAvg = sum / float64(len(st.atrs))
	}
	return snap
}

// seriesWarnings surfaces data-quality conditions that are tolerated but
// never silently dropped.
func seriesWarnings(s *domain.Series) []string {
	var out []string
	if len(s.Bars) < 50 {
		out = append(out, fmt.Sprintf("limited data: only %d bars available", len(s.Bars)))
	}
	zeroVol := 0
	for _, b := range s.Bars {
		if b.Volume == 0 {
			zeroVol++
		}
	}
	if zeroVol > 0 {
		out = append(out, fmt.Sprintf("%d zero-volume bars: maximal capped slippage applied on fills", zeroVol))
	}
	names := make([]string, 0, len(s.Features))
	for name, ch := range s.Features {
		if ch != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		// Misses are counted per bar timestamp: a shared channel may hold
		// values outside a sliced range, and warning order must not depend
		// on map iteration.
		missing := 0
		for _, b := range s.Bars {
			if _, ok := s.Features.Value(name, b.Timestamp); !ok {
				missing++
			}
		}
		if missing > 0 {
			out = append(out, fmt.Sprintf("feature channel %q has no value on %d bars (treated as neutral)", name, missing))
		}
	}
	return out
}

// costWarnings flags runs whose trade economics look distorted.
func costWarnings(res *Result) []string {
	var out []string
	if n := len(res.Trades); n > 0 && n < 5 {
		out = append(out, fmt.Sprintf("only %d closed trades: Sharpe and win-rate estimates are unreliable", n))
	}
	if len(res.Fills) == 0 || res.TotalNotional == 0 {
		return out
	}
	var totalComm float64
	for _, f := range res.Fills {
		totalComm += f.Commission
	}
	avgNotional := res.TotalNotional / float64(len(res.Fills))
	avgComm := totalComm / float64(len(res.Fills))
	if avgNotional > 0 && avgComm/avgNotional > 0.05 {
		out = append(out, fmt.Sprintf("commission averages %.1f%% of trade notional", avgComm/avgNotional*100))
	}
	return out
}
