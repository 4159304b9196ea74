package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/dto"
	"golang-backtest/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return log
}

func writeCSV(t *testing.T, dir, symbol, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644))
}

func TestCSVProviderGetBars(t *testing.T) {
	dir := t.TempDir()
	p := NewCSVProvider(dir, testLogger(t))
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "NOPE"})
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("loads bars with rfc3339 timestamps", func(t *testing.T) {
		writeCSV(t, dir, "AAA", `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,10,11,9,10.5,1000
2024-01-02T00:00:00Z,10.5,12,10,11,1200
`)
		series, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "AAA"})
		require.NoError(t, err)
		require.Equal(t, 2, series.Len())
		assert.Equal(t, "AAA", series.Symbol)
		assert.Equal(t, 10.5, series.Bars[0].Close)
		assert.Equal(t, 1200.0, series.Bars[1].Volume)
	})

	t.Run("accepts unix and date-only timestamps", func(t *testing.T) {
		writeCSV(t, dir, "BBB", `timestamp,open,high,low,close,volume
1704067200,10,11,9,10,1000
2024-01-02,10,11,9,10,1000
`)
		series, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "BBB"})
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1704067200, 0).UTC(), series.Bars[0].Timestamp)
	})

	t.Run("loads feature columns as channels", func(t *testing.T) {
		writeCSV(t, dir, "CCC", `timestamp,open,high,low,close,volume,sentiment,pattern
2024-01-01T00:00:00Z,10,11,9,10,1000,0.4,1
2024-01-02T00:00:00Z,10,11,9,10,1000,,
`)
		series, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "CCC"})
		require.NoError(t, err)

		v, ok := series.Features.Value(domain.FeatureSentiment, series.Bars[0].Timestamp)
		require.True(t, ok)
		assert.Equal(t, 0.4, v)

		// Empty cells stay unknown rather than zero-filled.
		_, ok = series.Features.Value(domain.FeatureSentiment, series.Bars[1].Timestamp)
		assert.False(t, ok)

		flag, ok := series.Features.Value(domain.FeaturePattern, series.Bars[0].Timestamp)
		require.True(t, ok)
		assert.Equal(t, 1.0, flag)
	})

	t.Run("missing required column", func(t *testing.T) {
		writeCSV(t, dir, "DDD", `timestamp,open,high,low,close
2024-01-01T00:00:00Z,10,11,9,10
`)
		_, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "DDD"})
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("bad numeric cell", func(t *testing.T) {
		writeCSV(t, dir, "EEE", `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,ten,11,9,10,1000
`)
		_, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "EEE"})
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("malformed series is rejected", func(t *testing.T) {
		writeCSV(t, dir, "FFF", `timestamp,open,high,low,close,volume
2024-01-02T00:00:00Z,10,11,9,10,1000
2024-01-01T00:00:00Z,10,11,9,10,1000
`)
		_, err := p.GetBars(ctx, dto.GetBarsParam{Symbol: "FFF"})
		assert.True(t, domain.IsInputError(err))
	})
}
