package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"golang-backtest/config"
	"golang-backtest/internal/domain"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
	"golang-backtest/internal/marketdata"
	"golang-backtest/internal/strategy"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/utils"
)

// BacktestService orchestrates one request end to end: materialize the
// series, assemble strategy, sizer and cost models, run the engine and
// map the outcome to transport records.
type BacktestService interface {
	Backtest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResponse, error)
	WalkForward(ctx context.Context, req dto.WalkForwardRequest) (*dto.WalkForwardResponse, error)
}

type backtestService struct {
	cfg      *config.Config
	log      *logger.Logger
	engine   *engine.Engine
	provider marketdata.BarProvider
	validate *validator.Validate
}

func NewBacktestService(cfg *config.Config, log *logger.Logger, eng *engine.Engine, provider marketdata.BarProvider) BacktestService {
	return &backtestService{
		cfg:      cfg,
		log:      log,
		engine:   eng,
		provider: provider,
		validate: validator.New(),
	}
}

func (s *backtestService) Backtest(ctx context.Context, req dto.BacktestRequest) (*dto.BacktestResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &domain.InputError{Reason: err.Error()}
	}
	s.applyDefaults(&req)

	series, err := s.provider.GetBars(ctx, dto.GetBarsParam{
		Symbol:   req.Symbol,
		Range:    req.Range,
		Interval: req.Interval,
	})
	if err != nil {
		return nil, err
	}

	spec, err := s.buildSpec(req, series)
	if err != nil {
		return nil, err
	}

	res, runErr := s.engine.Run(ctx, spec)
	if res == nil {
		return nil, runErr
	}
	// A computation fault still yields the partial result; the terminal
	// marker travels in the response instead of failing the request.

	opts := engine.MetricsOptions{
		RiskFreeRate:   req.RiskFreeRate,
		PeriodsPerYear: req.PeriodsPerYear,
	}
	if req.BenchmarkSymbol != "" {
		bench, err := s.provider.GetBars(ctx, dto.GetBarsParam{
			Symbol:   req.BenchmarkSymbol,
			Range:    req.Range,
			Interval: req.Interval,
		})
		if err != nil {
			s.log.WarnContext(ctx, "benchmark unavailable, alpha omitted",
				logger.StringField("benchmark", req.BenchmarkSymbol),
				logger.ErrorField(err),
			)
		} else {
			opts.Benchmark = bench
		}
	}
	metrics := engine.ComputeMetrics(res, opts)

	s.log.InfoContext(ctx, "backtest finished",
		logger.StringField("symbol", req.Symbol),
		logger.IntField("trades", len(res.Trades)),
		logger.Float64Field("pnl_pct", res.PnLPct()),
	)
	return mapBacktestResponse(req.Symbol, res, metrics), nil
}

func (s *backtestService) WalkForward(ctx context.Context, req dto.WalkForwardRequest) (*dto.WalkForwardResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &domain.InputError{Reason: err.Error()}
	}
	s.applyDefaults(&req.Backtest)

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = []string{req.Backtest.Symbol}
	}

	allSeries := make([]*domain.Series, 0, len(symbols))
	for _, sym := range symbols {
		series, err := s.provider.GetBars(ctx, dto.GetBarsParam{
			Symbol:   sym,
			Range:    req.Backtest.Range,
			Interval: req.Backtest.Interval,
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", sym, err)
		}
		allSeries = append(allSeries, series)
	}

	spec, err := s.buildSpec(req.Backtest, nil)
	if err != nil {
		return nil, err
	}

	wfCfg := s.walkForwardConfig(req)
	v, err := engine.NewValidator(s.log, s.engine, wfCfg)
	if err != nil {
		return nil, err
	}

	params := toParams(req.Backtest.Params)
	results, err := v.RunMulti(ctx, allSeries, params, strategy.Build, spec)
	if err != nil {
		return nil, err
	}

	resp := &dto.WalkForwardResponse{}
	for sym, res := range results {
		s.log.InfoContext(ctx, "walk-forward finished",
			logger.StringField("symbol", sym),
			logger.IntField("completed", res.Completed),
			logger.StringField("mean_return", utils.FormatPercentage(res.MeanReturnPct)),
			logger.StringField("consistency", utils.FormatPercentage(res.ConsistencyPct)),
		)
		resp.Results = append(resp.Results, mapWalkForwardSummary(sym, res))
	}
	sort.Slice(resp.Results, func(i, j int) bool {
		return resp.Results[i].Symbol < resp.Results[j].Symbol
	})
	return resp, nil
}

func (s *backtestService) applyDefaults(req *dto.BacktestRequest) {
	if req.StartingCash == 0 {
		req.StartingCash = s.cfg.Backtest.StartingCash
	}
	if req.MaxDrawdownPct == 0 {
		req.MaxDrawdownPct = s.cfg.Backtest.MaxDrawdownPct
	}
	if req.Timing == "" {
		req.Timing = string(engine.TimingCloseSameBar)
	}
	if req.SizingMethod == "" {
		req.SizingMethod = dto.SizingFixedFractional
	}
	if req.SizingFraction == 0 {
		req.SizingFraction = 0.1
	}
	if req.RiskPerTrade == 0 {
		req.RiskPerTrade = s.cfg.Backtest.RiskPerTrade
	}
	if req.KellyFraction == 0 {
		req.KellyFraction = 0.5
	}
	if req.CostModel == "" {
		req.CostModel = dto.CostDynamicSlippage
	}
	if req.CommissionType == "" {
		req.CommissionType = dto.CommissionPercent
	}
	if req.CommissionType == dto.CommissionPercent && req.CommissionRate == 0 {
		req.CommissionRate = 0.001
	}
	if req.PeriodsPerYear == 0 {
		req.PeriodsPerYear = s.cfg.Backtest.PeriodsPerYear
	}
	if req.RiskFreeRate == 0 {
		req.RiskFreeRate = s.cfg.Backtest.RiskFreeRate
	}
	if req.Range == "" {
		req.Range = "1y"
	}
	if req.Interval == "" {
		req.Interval = "1d"
	}
}

// buildSpec assembles everything the engine needs except the series,
// which may be filled per walk-forward window.
func (s *backtestService) buildSpec(req dto.BacktestRequest, series *domain.Series) (engine.RunSpec, error) {
	runCfg := engine.DefaultRunConfig(req.StartingCash)
	runCfg.MaxDrawdownPct = req.MaxDrawdownPct
	runCfg.Timing = engine.ExecutionTiming(req.Timing)

	strat, err := strategy.NewConfluence(toParams(req.Params))
	if err != nil {
		return engine.RunSpec{}, err
	}

	sizer, err := buildSizer(req)
	if err != nil {
		return engine.RunSpec{}, err
	}

	return engine.RunSpec{
		Series:     series,
		Strategy:   strat,
		Sizer:      sizer,
		Costs:      buildCostModel(req),
		Commission: buildCommission(req),
		Config:     runCfg,
	}, nil
}

func buildSizer(req dto.BacktestRequest) (engine.PositionSizer, error) {
	switch req.SizingMethod {
	case dto.SizingFixedFractional:
		return engine.NewFixedFractional(req.SizingFraction), nil
	case dto.SizingRiskBased:
		return engine.NewRiskBased(req.RiskPerTrade, req.SizingFraction), nil
	case dto.SizingKelly:
		return engine.NewKelly(req.KellyFraction, 0.25), nil
	case dto.SizingOptimalF:
		// Starts at zero; the walk-forward validator recomputes f from
		// each train range.
		return engine.NewOptimalF(0), nil
	default:
		return nil, &domain.ConfigError{Field: "sizing_method", Reason: fmt.Sprintf("unknown sizing method %q", req.SizingMethod)}
	}
}

func buildCostModel(req dto.BacktestRequest) engine.CostModel {
	switch req.CostModel {
	case dto.CostMarketImpact:
		return engine.NewMarketImpact()
	default:
		return engine.NewDynamicSlippage()
	}
}

func buildCommission(req dto.BacktestRequest) engine.CommissionSchedule {
	switch req.CommissionType {
	case dto.CommissionPerShare:
		return &engine.PerShareCommission{PerShare: req.CommissionPerShare, Minimum: req.CommissionMinimum}
	default:
		return &engine.PercentCommission{Rate: req.CommissionRate}
	}
}

func (s *backtestService) walkForwardConfig(req dto.WalkForwardRequest) engine.WalkForwardConfig {
	cfg := engine.WalkForwardConfig{
		TrainBars:      req.TrainBars,
		TestBars:       req.TestBars,
		StepBars:       req.StepBars,
		MinTrainBars:   req.MinTrainBars,
		MinTestBars:    req.MinTestBars,
		MaxConcurrency: req.MaxConcurrency,
		Mode:           engine.OptimizeMode(req.Mode),
	}
	if cfg.TrainBars == 0 {
		cfg.TrainBars = s.cfg.WalkForward.TrainBars
	}
	if cfg.TestBars == 0 {
		cfg.TestBars = s.cfg.WalkForward.TestBars
	}
	if cfg.StepBars == 0 {
		cfg.StepBars = s.cfg.WalkForward.StepBars
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = s.cfg.WalkForward.MaxConcurrency
	}
	if req.Grid != nil {
		cfg.Grid = &engine.ParamGrid{
			FastMA:             req.Grid.FastMA,
			SlowMA:             req.Grid.SlowMA,
			RSIPeriod:          req.Grid.RSIPeriod,
			MinConfirmations:   req.Grid.MinConfirmations,
			VolumeMultiplier:   req.Grid.VolumeMultiplier,
			SentimentThreshold: req.Grid.SentimentThreshold,
		}
	}
	return cfg
}

// toParams overlays non-zero request values on the defaults.
func toParams(p dto.StrategyParams) strategy.Params {
	out := strategy.DefaultParams()
	if p.FastMA != 0 {
		out.FastMA = p.FastMA
	}
	if p.SlowMA != 0 {
		out.SlowMA = p.SlowMA
	}
	if p.RSIPeriod != 0 {
		out.RSIPeriod = p.RSIPeriod
	}
	if p.RSIOversold != 0 {
		out.RSIOversold = p.RSIOversold
	}
	if p.RSIOverbought != 0 {
		out.RSIOverbought = p.RSIOverbought
	}
	if p.VolumePeriod != 0 {
		out.VolumePeriod = p.VolumePeriod
	}
	if p.VolumeMultiplier != 0 {
		out.VolumeMultiplier = p.VolumeMultiplier
	}
	if p.MinConfirmations != 0 {
		out.MinConfirmations = p.MinConfirmations
	}
	if p.SentimentThreshold != 0 {
		out.SentimentThreshold = p.SentimentThreshold
	}
	return out
}

func fromParams(p strategy.Params) dto.StrategyParams {
	return dto.StrategyParams{
		FastMA:             p.FastMA,
		SlowMA:             p.SlowMA,
		RSIPeriod:          p.RSIPeriod,
		RSIOversold:        p.RSIOversold,
		RSIOverbought:      p.RSIOverbought,
		VolumePeriod:       p.VolumePeriod,
		VolumeMultiplier:   p.VolumeMultiplier,
		MinConfirmations:   p.MinConfirmations,
		SentimentThreshold: p.SentimentThreshold,
	}
}

func mapBacktestResponse(symbol string, res *engine.Result, metrics engine.Metrics) *dto.BacktestResponse {
	resp := &dto.BacktestResponse{
		Symbol:        symbol,
		StartEquity:   res.StartEquity,
		EndEquity:     res.EndEquity,
		ProfitLoss:    res.PnL(),
		ProfitLossPct: res.PnLPct(),
		TotalTrades:   len(res.Trades),
		Warnings:      res.Warnings,
		TerminalError: res.TerminalError,
		Metrics: dto.MetricsResult{
			SharpeRatio:         metrics.SharpeRatio,
			MaxDrawdownPct:      metrics.MaxDrawdownPct,
			CalmarRatio:         metrics.CalmarRatio,
			Alpha:               metrics.Alpha,
			AnnualizedReturnPct: metrics.AnnualizedReturnPct,
			VolatilityPct:       metrics.VolatilityPct,
			WinRate:             metrics.WinRate,
			ProfitFactor:        metrics.ProfitFactor,
			TurnoverRatio:       metrics.TurnoverRatio,
			TradeCount:          metrics.TradeCount,
		},
	}
	for _, t := range res.Trades {
		resp.Trades = append(resp.Trades, dto.TradeLog{
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			Commission: t.Commission,
			ProfitLoss: t.PnL,
			ExitReason: t.ExitReason,
		})
	}
	for _, p := range res.EquityCurve {
		resp.EquityCurve = append(resp.EquityCurve, dto.EquityPoint{
			Timestamp: p.Timestamp,
			Equity:    p.Equity,
		})
	}
	return resp
}

func mapWalkForwardSummary(symbol string, res *engine.WalkForwardResult) dto.WalkForwardSummary {
	out := dto.WalkForwardSummary{
		Symbol:         symbol,
		Completed:      res.Completed,
		Skipped:        res.Skipped,
		Failed:         res.Failed,
		ConsistencyPct: res.ConsistencyPct,
		MeanReturnPct:  res.MeanReturnPct,
		StdReturnPct:   res.StdReturnPct,
		BestReturnPct:  res.BestReturnPct,
		WorstReturnPct: res.WorstReturnPct,
	}
	for _, w := range res.Windows {
		out.Windows = append(out.Windows, dto.WindowLog{
			Index:      w.Index,
			TrainStart: w.TrainStart,
			TrainEnd:   w.TrainEnd,
			TestStart:  w.TestStart,
			TestEnd:    w.TestEnd,
			Params:     fromParams(w.Params),
			Status:     w.Status,
			Reason:     w.Reason,
			ReturnPct:  w.ReturnPct,
		})
	}
	return out
}
