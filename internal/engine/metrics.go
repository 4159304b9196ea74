package engine

import (
	"math"

	"golang-backtest/internal/domain"
	"golang-backtest/pkg/utils"
)

// MetricsOptions configures risk-metric computation.
type MetricsOptions struct {
	RiskFreeRate   float64 // annual
	PeriodsPerYear int     // 252 daily equities, 365 crypto
	// Benchmark, when supplied, enables alpha. Its closes are aligned to
	// the equity curve by index.
	Benchmark *domain.Series
}

// Metrics is the full risk-adjusted judgment of one run. Calmar and
// alpha are pointers because both are undefined in legitimate cases
// (zero drawdown, no benchmark) and must report as null, not zero.
type Metrics struct {
	SharpeRatio         float64  `json:"sharpe_ratio"`
	MaxDrawdownPct      float64  `json:"max_drawdown_pct"`
	CalmarRatio         *float64 `json:"calmar_ratio"`
	Alpha               *float64 `json:"alpha"`
	AnnualizedReturnPct float64  `json:"annualized_return_pct"`
	VolatilityPct       float64  `json:"volatility_pct"`
	WinRate             float64  `json:"win_rate"`
	ProfitFactor        float64  `json:"profit_factor"`
	TurnoverRatio       float64  `json:"turnover_ratio"`
	TradeCount          int      `json:"trade_count"`
}

// ComputeMetrics post-processes the equity curve and trade log of a
// finished run. All dispersion statistics use the population standard
// deviation, not the sample one; the two differ materially on short
// samples and mixing them would make ratios incomparable across runs.
func ComputeMetrics(res *Result, opts MetricsOptions) Metrics {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = 252
	}
	m := Metrics{TradeCount: len(res.Trades)}
	if len(res.EquityCurve) == 0 {
		return m
	}

	returns := periodReturns(res.EquityCurve)
	periods := float64(opts.PeriodsPerYear)

	m.MaxDrawdownPct = maxDrawdownPct(res.EquityCurve)
	m.AnnualizedReturnPct = annualizedReturnPct(res, periods)

	if sd := populationStd(returns); sd > 0 {
		excess := mean(returns) - opts.RiskFreeRate/periods
		m.SharpeRatio = excess * math.Sqrt(periods) / sd
		m.VolatilityPct = sd * math.Sqrt(periods) * 100
	}

	if m.MaxDrawdownPct != 0 {
		m.CalmarRatio = utils.ToPointer(m.AnnualizedReturnPct / math.Abs(m.MaxDrawdownPct))
	}

	if opts.Benchmark != nil && len(opts.Benchmark.Bars) > 1 {
		if alpha, ok := capmAlpha(returns, closeReturns(opts.Benchmark.Bars), opts.RiskFreeRate, periods); ok {
			m.Alpha = utils.ToPointer(alpha)
		}
	}

	m.WinRate, m.ProfitFactor = tradeRatios(res.Trades)
	m.TurnoverRatio = turnover(res)
	return m
}

func periodReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func closeReturns(bars []domain.Bar) []float64 {
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (bars[i].Close-prev)/prev)
	}
	return out
}

// maxDrawdownPct is the maximum peak-to-trough percentage decline over
// the full curve.
func maxDrawdownPct(curve []domain.EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func annualizedReturnPct(res *Result, periodsPerYear float64) float64 {
	if res.StartEquity <= 0 || len(res.EquityCurve) == 0 {
		return 0
	}
	years := float64(len(res.EquityCurve)) / periodsPerYear
	if years <= 0 {
		return 0
	}
	ratio := res.EndEquity / res.StartEquity
	if ratio <= 0 {
		return -100
	}
	return (math.Pow(ratio, 1/years) - 1) * 100
}

// capmAlpha computes annualized alpha against the benchmark using the
// CAPM beta. It reports false when the benchmark has no variance.
func capmAlpha(strat, bench []float64, riskFree, periodsPerYear float64) (float64, bool) {
	n := len(strat)
	if len(bench) < n {
		n = len(bench)
	}
	if n < 2 {
		return 0, false
	}
	strat = strat[:n]
	bench = bench[:n]

	benchVar := populationStd(bench)
	if benchVar == 0 {
		return 0, false
	}
	beta := covariance(strat, bench) / (benchVar * benchVar)

	stratAnnual := mean(strat) * periodsPerYear
	benchAnnual := mean(bench) * periodsPerYear
	alpha := (stratAnnual - riskFree) - beta*(benchAnnual-riskFree)
	return alpha * 100, true
}

func tradeRatios(trades []domain.Trade) (winRate, profitFactor float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	winRate = float64(wins) / float64(len(trades))
	if grossLoss == 0 {
		if grossProfit > 0 {
			profitFactor = 999
		}
		return winRate, profitFactor
	}
	return winRate, grossProfit / grossLoss
}

// turnover is total traded notional over average equity, a proxy for
// cost drag.
func turnover(res *Result) float64 {
	if len(res.EquityCurve) == 0 {
		return 0
	}
	var sum float64
	for _, p := range res.EquityCurve {
		sum += p.Equity
	}
	avgEquity := sum / float64(len(res.EquityCurve))
	if avgEquity == 0 {
		return 0
	}
	return res.TotalNotional / avgEquity
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationStd divides by N, not N-1.
func populationStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func covariance(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sum float64
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(n)
}
