package engine

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/strategy"
	"golang-backtest/pkg/logger"
)

// ParamGrid enumerates the strategy parameter combinations a train
// window is searched over. Empty dimensions keep the base value.
type ParamGrid struct {
	FastMA             []int
	SlowMA             []int
	RSIPeriod          []int
	MinConfirmations   []int
	VolumeMultiplier   []float64
	SentimentThreshold []float64
}

// Enumerate expands the grid into the explicit Cartesian product of
// parameter sets. Combinations with fast MA >= slow MA are dropped since
// they can never validate.
func (g ParamGrid) Enumerate(base strategy.Params) []strategy.Params {
	fast := intsOr(g.FastMA, base.FastMA)
	slow := intsOr(g.SlowMA, base.SlowMA)
	rsi := intsOr(g.RSIPeriod, base.RSIPeriod)
	conf := intsOr(g.MinConfirmations, base.MinConfirmations)
	volMult := floatsOr(g.VolumeMultiplier, base.VolumeMultiplier)
	sent := floatsOr(g.SentimentThreshold, base.SentimentThreshold)

	var out []strategy.Params
	for _, f := range fast {
		for _, s := range slow {
			if f >= s {
				continue
			}
			for _, r := range rsi {
				for _, c := range conf {
					for _, vm := range volMult {
						for _, st := range sent {
							p := base
							p.FastMA = f
							p.SlowMA = s
							p.RSIPeriod = r
							p.MinConfirmations = c
							p.VolumeMultiplier = vm
							p.SentimentThreshold = st
							out = append(out, p)
						}
					}
				}
			}
		}
	}
	return out
}

func intsOr(xs []int, fallback int) []int {
	if len(xs) == 0 {
		return []int{fallback}
	}
	return xs
}

func floatsOr(xs []float64, fallback float64) []float64 {
	if len(xs) == 0 {
		return []float64{fallback}
	}
	return xs
}

// CandidateScore is one evaluated parameter combination.
type CandidateScore struct {
	Params    strategy.Params
	ReturnPct float64
	Turnover  float64
	Err       string
}

// Optimizer evaluates a parameter grid against a train window. Each
// combination is an independent backtest, so candidates run on a worker
// pool; cancellation is cooperative at the granularity of one
// combination — an in-flight run completes rather than being torn down
// mid-bar.
type Optimizer struct {
	log            *logger.Logger
	engine         *Engine
	maxConcurrency int
}

func NewOptimizer(log *logger.Logger, engine *Engine, maxConcurrency int) *Optimizer {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Optimizer{log: log, engine: engine, maxConcurrency: maxConcurrency}
}

// Search scores every grid combination on the train series and returns
// them best-first: highest return, ties broken by lowest turnover to
// prefer simpler, more robust parameter sets.
func (o *Optimizer) Search(ctx context.Context, train *domain.Series, base strategy.Params, grid ParamGrid, build strategy.BuildFunc, tmpl RunSpec) ([]CandidateScore, error) {
	candidates := grid.Enumerate(base)
	if len(candidates) == 0 {
		return nil, &domain.ConfigError{Field: "grid", Reason: "grid enumerates no valid parameter combinations"}
	}

	scores := make([]CandidateScore, len(candidates))
	semaphore := make(chan struct{}, o.maxConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i, params := range candidates {
		i, params := i, params
		g.Go(func() error {
			// Cooperative cancellation: give up before starting the
			// combination, never mid-run.
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			scores[i] = o.evaluate(gctx, train, params, build, tmpl)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(a, b int) bool {
		sa, sb := scores[a], scores[b]
		if (sa.Err == "") != (sb.Err == "") {
			return sa.Err == ""
		}
		if sa.ReturnPct != sb.ReturnPct {
			return sa.ReturnPct > sb.ReturnPct
		}
		return sa.Turnover < sb.Turnover
	})
	if scores[0].Err != "" {
		return scores, &domain.ComputationFault{Stage: "optimizer", Err: errAllCandidatesFailed}
	}
	return scores, nil
}

var errAllCandidatesFailed = &domain.InputError{Reason: "every parameter combination failed on the train window"}

func (o *Optimizer) evaluate(ctx context.Context, train *domain.Series, params strategy.Params, build strategy.BuildFunc, tmpl RunSpec) CandidateScore {
	score := CandidateScore{Params: params}

	strat, err := build(params)
	if err != nil {
		score.Err = err.Error()
		return score
	}

	spec := tmpl
	spec.Series = train
	spec.Strategy = strat
	res, err := o.engine.Run(ctx, spec)
	if err != nil {
		score.Err = err.Error()
		return score
	}
	score.ReturnPct = res.PnLPct()
	score.Turnover = turnover(res)
	return score
}

// MeanSearch scores every combination across several train series and
// ranks by the mean return, for aggregate-mode optimization over
// multiple symbols.
func (o *Optimizer) MeanSearch(ctx context.Context, trains []*domain.Series, base strategy.Params, grid ParamGrid, build strategy.BuildFunc, tmpl RunSpec) ([]CandidateScore, error) {
	candidates := grid.Enumerate(base)
	if len(candidates) == 0 {
		return nil, &domain.ConfigError{Field: "grid", Reason: "grid enumerates no valid parameter combinations"}
	}

	scores := make([]CandidateScore, len(candidates))
	semaphore := make(chan struct{}, o.maxConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i, params := range candidates {
		i, params := i, params
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			agg := CandidateScore{Params: params}
			for _, train := range trains {
				s := o.evaluate(gctx, train, params, build, tmpl)
				if s.Err != "" {
					agg.Err = s.Err
					break
				}
				agg.ReturnPct += s.ReturnPct / float64(len(trains))
				agg.Turnover += s.Turnover / float64(len(trains))
			}
			scores[i] = agg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(a, b int) bool {
		sa, sb := scores[a], scores[b]
		if (sa.Err == "") != (sb.Err == "") {
			return sa.Err == ""
		}
		if sa.ReturnPct != sb.ReturnPct {
			return sa.ReturnPct > sb.ReturnPct
		}
		return sa.Turnover < sb.Turnover
	})
	if scores[0].Err != "" {
		return scores, &domain.ComputationFault{Stage: "optimizer", Err: errAllCandidatesFailed}
	}
	return scores, nil
}
