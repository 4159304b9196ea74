package dto

import "time"

// Sizing methods accepted in requests.
const (
	SizingFixedFractional = "fixed_fractional"
	SizingRiskBased       = "risk_based"
	SizingKelly           = "kelly"
	SizingOptimalF        = "optimal_f"
)

// Cost models accepted in requests.
const (
	CostDynamicSlippage = "dynamic_slippage"
	CostMarketImpact    = "market_impact"
)

// Commission schedules accepted in requests.
const (
	CommissionPercent  = "percent"
	CommissionPerShare = "per_share"
)

// StrategyParams carries the confluence strategy knobs. Zero values fall
// back to the defaults.
type StrategyParams struct {
	FastMA             int     `json:"fast_ma"`
	SlowMA             int     `json:"slow_ma"`
	RSIPeriod          int     `json:"rsi_period"`
	RSIOversold        float64 `json:"rsi_oversold"`
	RSIOverbought      float64 `json:"rsi_overbought"`
	VolumePeriod       int     `json:"volume_period"`
	VolumeMultiplier   float64 `json:"volume_multiplier"`
	MinConfirmations   int     `json:"min_confirmations"`
	SentimentThreshold float64 `json:"sentiment_threshold"`
}

// BacktestRequest defines the parameters for one backtest run.
type BacktestRequest struct {
	Symbol         string  `json:"symbol" validate:"required"`
	Range          string  `json:"range"`
	Interval       string  `json:"interval"`
	StartingCash   float64 `json:"starting_cash" validate:"omitempty,gt=0"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" validate:"omitempty,gt=0,lte=1"`
	Timing         string  `json:"timing" validate:"omitempty,oneof=close next_open"`

	SizingMethod   string  `json:"sizing_method" validate:"omitempty,oneof=fixed_fractional risk_based kelly optimal_f"`
	SizingFraction float64 `json:"sizing_fraction" validate:"omitempty,gt=0,lte=1"`
	RiskPerTrade   float64 `json:"risk_per_trade" validate:"omitempty,gt=0,lte=1"`
	KellyFraction  float64 `json:"kelly_fraction" validate:"omitempty,gt=0,lte=1"`

	CostModel          string  `json:"cost_model" validate:"omitempty,oneof=dynamic_slippage market_impact"`
	CommissionType     string  `json:"commission_type" validate:"omitempty,oneof=percent per_share"`
	CommissionRate     float64 `json:"commission_rate" validate:"omitempty,gte=0"`
	CommissionPerShare float64 `json:"commission_per_share" validate:"omitempty,gte=0"`
	CommissionMinimum  float64 `json:"commission_minimum" validate:"omitempty,gte=0"`

	Params StrategyParams `json:"params"`

	RiskFreeRate    float64 `json:"risk_free_rate"`
	PeriodsPerYear  int     `json:"periods_per_year" validate:"omitempty,gt=0"`
	BenchmarkSymbol string  `json:"benchmark_symbol"`
}

// TradeLog records one closed round trip.
type TradeLog struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	ProfitLoss float64   `json:"profit_loss"`
	ExitReason string    `json:"exit_reason"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// MetricsResult is the risk-adjusted summary of a run. CalmarRatio and
// Alpha are null when undefined (zero drawdown, no benchmark).
type MetricsResult struct {
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

// BacktestResponse summarizes one finished backtest.
type BacktestResponse struct {
	Symbol        string        `json:"symbol"`
	StartEquity   float64       `json:"start_equity"`
	EndEquity     float64       `json:"end_equity"`
	ProfitLoss    float64       `json:"profit_loss"`
	ProfitLossPct float64       `json:"profit_loss_pct"`
	TotalTrades   int           `json:"total_trades"`
	Trades        []TradeLog    `json:"trades"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	Metrics       MetricsResult `json:"metrics"`
	Warnings      []string      `json:"warnings,omitempty"`
	TerminalError string        `json:"terminal_error,omitempty"`
}

// GridSpec enumerates the parameter combinations searched on each train
// window. Empty dimensions keep the base value.
type GridSpec struct {
	FastMA             []int     `json:"fast_ma"`
	SlowMA             []int     `json:"slow_ma"`
	RSIPeriod          []int     `json:"rsi_period"`
	MinConfirmations   []int     `json:"min_confirmations"`
	VolumeMultiplier   []float64 `json:"volume_multiplier"`
	SentimentThreshold []float64 `json:"sentiment_threshold"`
}

// WalkForwardRequest defines a rolling out-of-sample validation across
// one or more symbols.
type WalkForwardRequest struct {
	Backtest BacktestRequest `json:"backtest" validate:"required"`
	Symbols  []string        `json:"symbols"`

	TrainBars      int    `json:"train_bars" validate:"omitempty,gt=0"`
	TestBars       int    `json:"test_bars" validate:"omitempty,gt=0"`
	StepBars       int    `json:"step_bars" validate:"omitempty,gt=0"`
	MinTrainBars   int    `json:"min_train_bars" validate:"omitempty,gt=0"`
	MinTestBars    int    `json:"min_test_bars" validate:"omitempty,gt=0"`
	MaxConcurrency int    `json:"max_concurrency" validate:"omitempty,gt=0"`
	Mode           string `json:"mode" validate:"omitempty,oneof=aggregate per_symbol"`

	Grid *GridSpec `json:"grid"`
}

// WindowLog is one train/test pair of the walk-forward protocol.
type WindowLog struct {
	Index      int            `json:"index"`
	TrainStart time.Time      `json:"train_start"`
	TrainEnd   time.Time      `json:"train_end"`
	TestStart  time.Time      `json:"test_start"`
	TestEnd    time.Time      `json:"test_end"`
	Params     StrategyParams `json:"params"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	ReturnPct  float64        `json:"return_pct"`
}

// WalkForwardSummary aggregates the out-of-sample windows for one symbol.
type WalkForwardSummary struct {
	Symbol         string      `json:"symbol"`
	Windows        []WindowLog `json:"windows"`
	Completed      int         `json:"completed"`
	Skipped        int         `json:"skipped"`
	Failed         int         `json:"failed"`
	ConsistencyPct float64     `json:"consistency_pct"`
	MeanReturnPct  float64     `json:"mean_return_pct"`
	StdReturnPct   float64     `json:"std_return_pct"`
	BestReturnPct  float64     `json:"best_return_pct"`
	WorstReturnPct float64     `json:"worst_return_pct"`
}

// WalkForwardResponse maps each requested symbol to its summary.
type WalkForwardResponse struct {
	Results []WalkForwardSummary `json:"results"`
}
