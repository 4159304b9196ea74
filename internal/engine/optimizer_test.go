package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/strategy"
)

func TestParamGridEnumerate(t *testing.T) {
	base := strategy.DefaultParams()

	t.Run("empty grid keeps the base", func(t *testing.T) {
		got := ParamGrid{}.Enumerate(base)
		require.Len(t, got, 1)
		assert.Equal(t, base, got[0])
	})

	t.Run("drops fast >= slow combinations", func(t *testing.T) {
		grid := ParamGrid{FastMA: []int{5, 60}, SlowMA: []int{50}}
		got := grid.Enumerate(base)
		require.Len(t, got, 1)
		assert.Equal(t, 5, got[0].FastMA)
	})

	t.Run("full cartesian product", func(t *testing.T) {
		grid := ParamGrid{
			FastMA:           []int{5, 10},
			SlowMA:           []int{50},
			MinConfirmations: []int{2, 3},
			VolumeMultiplier: []float64{1.0, 1.5},
		}
		got := grid.Enumerate(base)
		assert.Len(t, got, 8)
	})
}

// enterAtStrategy enters at the bar index given by FastMA and holds to
// the end, so earlier entries ride more of a rising series.
type enterAtStrategy struct {
	enterAt int
}

func (s *enterAtStrategy) Name() string    { return "enter_at" }
func (s *enterAtStrategy) WarmupBars() int { return 1 }

func (s *enterAtStrategy) Decide(window []domain.Bar, _ domain.FeatureSet) (domain.Signal, error) {
	if len(window)-1 == s.enterAt {
		return domain.Signal{Action: domain.ActionEnterLong}, nil
	}
	return domain.Hold(), nil
}

func enterAtBuild(params strategy.Params) (strategy.Strategy, error) {
	return &enterAtStrategy{enterAt: params.FastMA}, nil
}

func risingSeries(n int) *domain.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*10
	}
	return closesSeries(closes)
}

func TestOptimizerSearch(t *testing.T) {
	eng := New(nil)
	opt := NewOptimizer(nil, eng, 2)
	train := risingSeries(12)
	tmpl := testSpec(nil, nil)
	base := strategy.DefaultParams()

	t.Run("ranks earliest entry first on a rising series", func(t *testing.T) {
		grid := ParamGrid{FastMA: []int{1, 4, 8}, SlowMA: []int{50}}
		scores, err := opt.Search(context.Background(), train, base, grid, enterAtBuild, tmpl)
		require.NoError(t, err)
		require.Len(t, scores, 3)

		assert.Equal(t, 1, scores[0].Params.FastMA)
		assert.GreaterOrEqual(t, scores[0].ReturnPct, scores[1].ReturnPct)
		assert.GreaterOrEqual(t, scores[1].ReturnPct, scores[2].ReturnPct)
	})

	t.Run("empty enumeration is a config error", func(t *testing.T) {
		grid := ParamGrid{FastMA: []int{60}, SlowMA: []int{50}}
		_, err := opt.Search(context.Background(), train, base, grid, enterAtBuild, tmpl)
		assert.True(t, domain.IsConfigError(err))
	})

	t.Run("all candidates failing surfaces a fault", func(t *testing.T) {
		failBuild := func(strategy.Params) (strategy.Strategy, error) {
			return nil, errors.New("bad params")
		}
		scores, err := opt.Search(context.Background(), train, base, ParamGrid{}, failBuild, tmpl)
		require.Error(t, err)
		var fault *domain.ComputationFault
		assert.ErrorAs(t, err, &fault)
		require.Len(t, scores, 1)
		assert.NotEmpty(t, scores[0].Err)
	})

	t.Run("cancelled context stops the search", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := opt.Search(ctx, train, base, ParamGrid{FastMA: []int{1, 2, 3}, SlowMA: []int{50}}, enterAtBuild, tmpl)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOptimizerMeanSearch(t *testing.T) {
	eng := New(nil)
	opt := NewOptimizer(nil, eng, 2)
	base := strategy.DefaultParams()
	tmpl := testSpec(nil, nil)

	trains := []*domain.Series{risingSeries(12), risingSeries(16)}
	grid := ParamGrid{FastMA: []int{1, 6}, SlowMA: []int{50}}

	scores, err := opt.MeanSearch(context.Background(), trains, base, grid, enterAtBuild, tmpl)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	// The earlier entry wins on both series, so it wins on the mean.
	assert.Equal(t, 1, scores[0].Params.FastMA)
	assert.Greater(t, scores[0].ReturnPct, scores[1].ReturnPct)
}
