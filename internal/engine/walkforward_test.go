package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/strategy"
	"golang-backtest/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return log
}

func wfConfig() WalkForwardConfig {
	return WalkForwardConfig{
		TrainBars:      4,
		TestBars:       2,
		StepBars:       6,
		MaxConcurrency: 2,
	}
}

func TestWalkForwardConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WalkForwardConfig)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *WalkForwardConfig) {},
		},
		{
			name:    "zero train",
			mutate:  func(c *WalkForwardConfig) { c.TrainBars = 0 },
			wantErr: true,
		},
		{
			name:    "step smaller than train+test overlaps windows",
			mutate:  func(c *WalkForwardConfig) { c.StepBars = 5 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := wfConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, domain.IsConfigError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWalkForwardConfigDefaults(t *testing.T) {
	cfg := wfConfig()
	cfg.MaxConcurrency = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.TrainBars, cfg.MinTrainBars)
	assert.Equal(t, cfg.TestBars, cfg.MinTestBars)
	assert.Equal(t, 1, cfg.MaxConcurrency)
	assert.Equal(t, OptimizePerSymbol, cfg.Mode)
}

func TestRangesNeverOverlap(t *testing.T) {
	v, err := NewValidator(testLogger(t), New(nil), wfConfig())
	require.NoError(t, err)

	ranges := v.ranges(20)
	require.NotEmpty(t, ranges)
	for i, r := range ranges {
		assert.Equal(t, r.trainTo, r.testFrom)
		if i > 0 {
			prev := ranges[i-1]
			// Out-of-sample data of one window never feeds the next train.
			assert.GreaterOrEqual(t, r.trainFrom, prev.testTo)
		}
	}
}

func TestRangesSkipsPartialTrailingWindow(t *testing.T) {
	cfg := wfConfig()
	cfg.MinTrainBars = 2
	cfg.MinTestBars = 1
	v, err := NewValidator(testLogger(t), New(nil), cfg)
	require.NoError(t, err)

	// 15 bars: the window at 12 has 3 train bars but no test bars left.
	ranges := v.ranges(15)
	require.Len(t, ranges, 3)
	assert.Empty(t, ranges[0].skipReason)
	assert.Empty(t, ranges[1].skipReason)
	assert.NotEmpty(t, ranges[2].skipReason)
}

// earlyEntryParams makes enterAtStrategy enter on the first bar of any
// window, so even two-bar test ranges produce a trade.
func earlyEntryParams() strategy.Params {
	p := strategy.DefaultParams()
	p.FastMA = 0
	return p
}

func TestValidatorRun(t *testing.T) {
	v, err := NewValidator(testLogger(t), New(nil), wfConfig())
	require.NoError(t, err)
	base := earlyEntryParams()

	t.Run("too short series", func(t *testing.T) {
		_, err := v.Run(context.Background(), flatSeries(5, 100), base, enterAtBuild, testSpec(nil, nil))
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("rising series completes with positive windows", func(t *testing.T) {
		res, err := v.Run(context.Background(), risingSeries(20), base, enterAtBuild, testSpec(nil, nil))
		require.NoError(t, err)

		assert.Equal(t, len(res.Windows), res.Completed+res.Skipped+res.Failed)
		assert.Greater(t, res.Completed, 0)
		assert.Equal(t, 100.0, res.ConsistencyPct)
		assert.Greater(t, res.MeanReturnPct, 0.0)
		assert.GreaterOrEqual(t, res.BestReturnPct, res.WorstReturnPct)

		for _, w := range res.Windows {
			if w.Status != WindowCompleted {
				continue
			}
			assert.NotNil(t, w.Result)
			assert.True(t, w.TrainEnd.Before(w.TestStart))
		}
	})

	t.Run("flat series yields zero consistency", func(t *testing.T) {
		res, err := v.Run(context.Background(), flatSeries(20, 100), base, enterAtBuild, testSpec(nil, nil))
		require.NoError(t, err)
		assert.Greater(t, res.Completed, 0)
		// No window is positive on a flat, costless series.
		assert.Zero(t, res.ConsistencyPct)
		assert.Zero(t, res.MeanReturnPct)
	})
}

func TestValidatorRunWithGrid(t *testing.T) {
	cfg := wfConfig()
	cfg.Grid = &ParamGrid{FastMA: []int{1, 3}, SlowMA: []int{50}}
	v, err := NewValidator(testLogger(t), New(nil), cfg)
	require.NoError(t, err)

	res, err := v.Run(context.Background(), risingSeries(20), strategy.DefaultParams(), enterAtBuild, testSpec(nil, nil))
	require.NoError(t, err)

	for _, w := range res.Windows {
		if w.Status != WindowCompleted {
			continue
		}
		// Earlier entries dominate on a rising train range.
		assert.Equal(t, 1, w.Params.FastMA)
	}
}

func TestValidatorRecomputesOptimalFAtBoundaries(t *testing.T) {
	v, err := NewValidator(testLogger(t), New(nil), wfConfig())
	require.NoError(t, err)

	tmpl := testSpec(nil, nil)
	tmpl.Sizer = NewOptimalF(0) // zero f would never trade without a recompute

	res, err := v.Run(context.Background(), risingSeries(20), earlyEntryParams(), enterAtBuild, tmpl)
	require.NoError(t, err)

	traded := false
	for _, w := range res.Windows {
		if w.Status == WindowCompleted && w.Result != nil && len(w.Result.Fills) > 0 {
			traded = true
		}
	}
	assert.True(t, traded, "optimal f recomputed from train trades should size test entries")
}

func TestValidatorRunMulti(t *testing.T) {
	log := testLogger(t)
	base := strategy.DefaultParams()

	t.Run("no series", func(t *testing.T) {
		v, err := NewValidator(log, New(nil), wfConfig())
		require.NoError(t, err)
		_, err = v.RunMulti(context.Background(), nil, base, enterAtBuild, testSpec(nil, nil))
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("per symbol mode", func(t *testing.T) {
		v, err := NewValidator(log, New(nil), wfConfig())
		require.NoError(t, err)

		a := risingSeries(20)
		a.Symbol = "AAA"
		b := risingSeries(26)
		b.Symbol = "BBB"

		out, err := v.RunMulti(context.Background(), []*domain.Series{a, b}, base, enterAtBuild, testSpec(nil, nil))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Greater(t, out["AAA"].Completed, 0)
		// The longer series fits more windows.
		assert.Greater(t, len(out["BBB"].Windows), len(out["AAA"].Windows))
	})

	t.Run("aggregate mode picks one parameter set per window", func(t *testing.T) {
		cfg := wfConfig()
		cfg.Mode = OptimizeAggregate
		cfg.Grid = &ParamGrid{FastMA: []int{1, 3}, SlowMA: []int{50}}
		v, err := NewValidator(log, New(nil), cfg)
		require.NoError(t, err)

		a := risingSeries(20)
		a.Symbol = "AAA"
		b := risingSeries(26)
		b.Symbol = "BBB"

		out, err := v.RunMulti(context.Background(), []*domain.Series{a, b}, base, enterAtBuild, testSpec(nil, nil))
		require.NoError(t, err)
		require.Len(t, out, 2)

		// Windows are laid over the shortest series and shared.
		assert.Equal(t, len(out["AAA"].Windows), len(out["BBB"].Windows))
		for sym := range out {
			for _, w := range out[sym].Windows {
				if w.Status == WindowCompleted {
					assert.Equal(t, 1, w.Params.FastMA)
				}
			}
		}
	})
}
