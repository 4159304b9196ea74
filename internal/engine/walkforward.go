package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/strategy"
	"golang-backtest/pkg/logger"
)

// OptimizeMode selects how parameters are chosen when validating several
// symbols at once.
type OptimizeMode string

const (
	// OptimizeAggregate picks one parameter set per window maximizing
	// the mean train score across all symbols.
	OptimizeAggregate OptimizeMode = "aggregate"
	// OptimizePerSymbol optimizes each symbol independently.
	OptimizePerSymbol OptimizeMode = "per_symbol"
)

// WalkForwardConfig shapes the rolling validation protocol.
type WalkForwardConfig struct {
	TrainBars int `validate:"gt=0"`
	TestBars  int `validate:"gt=0"`
	// StepBars is the distance between consecutive window starts. It
	// must cover a full train+test span so that no train range overlaps
	// a previously tested range.
	StepBars int `validate:"gt=0"`
	// MinTrainBars/MinTestBars let a trailing partial window still run;
	// windows below either minimum are skipped and logged, never
	// zero-filled. Zero means "require the full size".
	MinTrainBars   int
	MinTestBars    int
	MaxConcurrency int
	// Grid enables per-window re-optimization on the train range. Nil
	// runs every window with the base parameters.
	Grid *ParamGrid
	Mode OptimizeMode
}

func (c *WalkForwardConfig) Validate() error {
	if c.TrainBars <= 0 || c.TestBars <= 0 || c.StepBars <= 0 {
		return &domain.ConfigError{Field: "walk_forward", Reason: "train, test and step sizes must be positive"}
	}
	if c.StepBars < c.TrainBars+c.TestBars {
		return &domain.ConfigError{
			Field:  "step_bars",
			Reason: "step must cover train+test so adjacent windows never overlap",
		}
	}
	if c.MinTrainBars <= 0 || c.MinTrainBars > c.TrainBars {
		c.MinTrainBars = c.TrainBars
	}
	if c.MinTestBars <= 0 || c.MinTestBars > c.TestBars {
		c.MinTestBars = c.TestBars
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.Mode == "" {
		c.Mode = OptimizePerSymbol
	}
	return nil
}

// Window statuses.
const (
	WindowCompleted = "completed"
	WindowSkipped   = "skipped"
	WindowFailed    = "failed"
)

// WalkForwardWindow is one train/test pair. It is immutable once its
// test run completes.
type WalkForwardWindow struct {
	Index      int             `json:"index"`
	TrainStart time.Time       `json:"train_start"`
	TrainEnd   time.Time       `json:"train_end"`
	TestStart  time.Time       `json:"test_start"`
	TestEnd    time.Time       `json:"test_end"`
	Params     strategy.Params `json:"params"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	ReturnPct  float64         `json:"return_pct"`
	Result     *Result         `json:"-"`
}

// WalkForwardResult aggregates the out-of-sample windows.
type WalkForwardResult struct {
	Windows        []WalkForwardWindow `json:"windows"`
	Completed      int                 `json:"completed"`
	Skipped        int                 `json:"skipped"`
	Failed         int                 `json:"failed"`
	ConsistencyPct float64             `json:"consistency_pct"`
	MeanReturnPct  float64             `json:"mean_return_pct"`
	StdReturnPct   float64             `json:"std_return_pct"`
	BestReturnPct  float64             `json:"best_return_pct"`
	WorstReturnPct float64             `json:"worst_return_pct"`
}

// Validator runs the walk-forward protocol: slice a train range, choose
// parameters on it, test out-of-sample on the range that follows, roll
// forward, and aggregate. Window runs share no mutable state, so they
// execute on a worker pool; results are collected in window order only
// after all workers complete.
type Validator struct {
	log    *logger.Logger
	engine *Engine
	opt    *Optimizer
	cfg    WalkForwardConfig
}

func NewValidator(log *logger.Logger, engine *Engine, cfg WalkForwardConfig) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{
		log:    log,
		engine: engine,
		opt:    NewOptimizer(log, engine, cfg.MaxConcurrency),
		cfg:    cfg,
	}, nil
}

type windowRange struct {
	index                int
	trainFrom, trainTo   int
	testFrom, testTo     int
	skipReason           string
}

// ranges lays out the windows over n bars. Adjacent windows never
// overlap: each step covers a full train+test span.
func (v *Validator) ranges(n int) []windowRange {
	var out []windowRange
	idx := 0
	for start := 0; start+v.cfg.MinTrainBars+v.cfg.MinTestBars <= n; start += v.cfg.StepBars {
		w := windowRange{index: idx, trainFrom: start}
		idx++

		trainTo := start + v.cfg.TrainBars
		if trainTo > n {
			trainTo = n
		}
		w.trainTo = trainTo
		testTo := trainTo + v.cfg.TestBars
		if testTo > n {
			testTo = n
		}
		w.testFrom = trainTo
		w.testTo = testTo

		if w.trainTo-w.trainFrom < v.cfg.MinTrainBars {
			w.skipReason = fmt.Sprintf("train window has %d bars, need at least %d", w.trainTo-w.trainFrom, v.cfg.MinTrainBars)
		} else if w.testTo-w.testFrom < v.cfg.MinTestBars {
			w.skipReason = fmt.Sprintf("test window has %d bars, need at least %d", w.testTo-w.testFrom, v.cfg.MinTestBars)
		}
		out = append(out, w)
	}
	return out
}

// Run validates one series. The RunSpec template carries sizer, cost model,
// commission schedule and run config; series and strategy are filled per
// window so no data outside a train range can inform its parameters.
func (v *Validator) Run(ctx context.Context, series *domain.Series, base strategy.Params, build strategy.BuildFunc, tmpl RunSpec) (*WalkForwardResult, error) {
	if series == nil {
		return nil, &domain.InputError{Reason: "nil series"}
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}

	ranges := v.ranges(series.Len())
	if len(ranges) == 0 {
		return nil, &domain.InputError{
			Reason: fmt.Sprintf("series has %d bars, need at least %d for one window", series.Len(), v.cfg.MinTrainBars+v.cfg.MinTestBars),
		}
	}

	windows := make([]WalkForwardWindow, len(ranges))
	semaphore := make(chan struct{}, v.cfg.MaxConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, wr := range ranges {
		wr := wr
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			windows[wr.index] = v.runWindow(gctx, series, wr, base, v.cfg.Grid, build, tmpl)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return aggregate(windows), nil
}

func (v *Validator) runWindow(ctx context.Context, series *domain.Series, wr windowRange, base strategy.Params, grid *ParamGrid, build strategy.BuildFunc, tmpl RunSpec) WalkForwardWindow {
	w := WalkForwardWindow{Index: wr.index, Params: base}
	bars := series.Bars
	w.TrainStart = bars[wr.trainFrom].Timestamp
	w.TrainEnd = bars[wr.trainTo-1].Timestamp
	if wr.testTo > wr.testFrom {
		w.TestStart = bars[wr.testFrom].Timestamp
		w.TestEnd = bars[wr.testTo-1].Timestamp
	}

	if wr.skipReason != "" {
		w.Status = WindowSkipped
		w.Reason = wr.skipReason
		v.log.WarnContext(ctx, "walk-forward window skipped",
			logger.IntField("window", wr.index),
			logger.StringField("reason", wr.skipReason),
		)
		return w
	}

	// Re-slicing before every engine invocation is what guarantees the
	// train phase cannot see data outside its range.
	train := series.Slice(wr.trainFrom, wr.trainTo)
	test := series.Slice(wr.testFrom, wr.testTo)

	params := base
	if grid != nil {
		scores, err := v.opt.Search(ctx, train, base, *grid, build, tmpl)
		if err != nil {
			w.Status = WindowFailed
			w.Reason = err.Error()
			return w
		}
		params = scores[0].Params
	}
	w.Params = params

	spec := tmpl
	spec.Strategy = nil
	strat, err := build(params)
	if err != nil {
		w.Status = WindowFailed
		w.Reason = err.Error()
		return w
	}
	spec.Strategy = strat
	spec.Sizer = v.boundarySizer(ctx, tmpl, train, strat)

	spec.Series = test
	res, err := v.engine.Run(ctx, spec)
	if err != nil {
		// A computation fault fails the window, never the whole loop.
		w.Status = WindowFailed
		w.Reason = err.Error()
		w.Result = res
		v.log.WarnContext(ctx, "walk-forward window failed",
			logger.IntField("window", wr.index),
			logger.ErrorField(err),
		)
		return w
	}

	w.Status = WindowCompleted
	w.Result = res
	w.ReturnPct = res.PnLPct()
	return w
}

// boundarySizer recomputes sample-driven sizers (optimal f) from the
// train range only. This is the one place such sizers may update, which
// keeps look-ahead out of the test run.
func (v *Validator) boundarySizer(ctx context.Context, tmpl RunSpec, train *domain.Series, strat strategy.Strategy) PositionSizer {
	of, ok := tmpl.Sizer.(*OptimalF)
	if !ok {
		return tmpl.Sizer
	}
	spec := tmpl
	spec.Series = train
	spec.Strategy = strat
	// Bootstrap the train run with fixed-fractional sizing so a zero
	// initial f still produces trades to estimate from.
	spec.Sizer = NewFixedFractional(0.1)
	res, err := v.engine.Run(ctx, spec)
	if err != nil {
		v.log.WarnContext(ctx, "optimal f recompute failed, keeping previous fraction", logger.ErrorField(err))
		return of
	}
	return of.WithRecomputed(res.TradeReturns())
}

func aggregate(windows []WalkForwardWindow) *WalkForwardResult {
	agg := &WalkForwardResult{Windows: windows}
	var returns []float64
	positive := 0
	for _, w := range windows {
		switch w.Status {
		case WindowCompleted:
			agg.Completed++
			returns = append(returns, w.ReturnPct)
			if w.ReturnPct > 0 {
				positive++
			}
		case WindowSkipped:
			agg.Skipped++
		case WindowFailed:
			agg.Failed++
		}
	}
	if len(returns) == 0 {
		return agg
	}
	agg.ConsistencyPct = float64(positive) / float64(len(returns)) * 100
	agg.MeanReturnPct = mean(returns)
	agg.StdReturnPct = populationStd(returns)
	agg.BestReturnPct = returns[0]
	agg.WorstReturnPct = returns[0]
	for _, r := range returns {
		if r > agg.BestReturnPct {
			agg.BestReturnPct = r
		}
		if r < agg.WorstReturnPct {
			agg.WorstReturnPct = r
		}
	}
	return agg
}

// RunMulti validates several symbols. In per-symbol mode each series is
// optimized and tested independently; in aggregate mode every window
// chooses a single parameter set maximizing the mean train score across
// symbols, which requires the series to be index-aligned.
func (v *Validator) RunMulti(ctx context.Context, series []*domain.Series, base strategy.Params, build strategy.BuildFunc, tmpl RunSpec) (map[string]*WalkForwardResult, error) {
	if len(series) == 0 {
		return nil, &domain.InputError{Reason: "no series supplied"}
	}

	if v.cfg.Mode != OptimizeAggregate || v.cfg.Grid == nil {
		out := make(map[string]*WalkForwardResult, len(series))
		for _, s := range series {
			res, err := v.Run(ctx, s, base, build, tmpl)
			if err != nil {
				return nil, fmt.Errorf("walk-forward for %s: %w", s.Symbol, err)
			}
			out[s.Symbol] = res
		}
		return out, nil
	}

	// Aggregate mode: windows are laid out over the shortest series.
	minLen := series[0].Len()
	for _, s := range series {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("series %s: %w", s.Symbol, err)
		}
		if s.Len() < minLen {
			minLen = s.Len()
		}
	}
	ranges := v.ranges(minLen)
	if len(ranges) == 0 {
		return nil, &domain.InputError{
			Reason: fmt.Sprintf("shortest series has %d bars, need at least %d for one window", minLen, v.cfg.MinTrainBars+v.cfg.MinTestBars),
		}
	}

	perSymbol := make(map[string][]WalkForwardWindow, len(series))
	for _, s := range series {
		perSymbol[s.Symbol] = make([]WalkForwardWindow, len(ranges))
	}

	for _, wr := range ranges {
		params := base
		if wr.skipReason == "" {
			trains := make([]*domain.Series, len(series))
			for i, s := range series {
				trains[i] = s.Slice(wr.trainFrom, wr.trainTo)
			}
			scores, err := v.opt.MeanSearch(ctx, trains, base, *v.cfg.Grid, build, tmpl)
			if err != nil {
				return nil, err
			}
			params = scores[0].Params
		}

		// Test runs per symbol are independent once parameters are
		// fixed.
		semaphore := make(chan struct{}, v.cfg.MaxConcurrency)
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range series {
			s := s
			wr := wr
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case semaphore <- struct{}{}:
				}
				defer func() { <-semaphore }()

				perSymbol[s.Symbol][wr.index] = v.runWindow(gctx, s, wr, params, nil, build, tmpl)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*WalkForwardResult, len(series))
	for sym, windows := range perSymbol {
		out[sym] = aggregate(windows)
	}
	return out, nil
}
