package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang-backtest/internal/domain"
	"golang-backtest/internal/dto"
	"golang-backtest/pkg/logger"
)

// CSVProvider reads bar series from local CSV files, one file per
// symbol at <dir>/<symbol>.csv. Required columns are timestamp, open,
// high, low, close, volume; a sentiment or pattern column, when
// present, is loaded as a feature channel. Timestamps are RFC3339 or
// unix seconds.
type CSVProvider struct {
	dir string
	log *logger.Logger
}

func NewCSVProvider(dir string, log *logger.Logger) *CSVProvider {
	return &CSVProvider{dir: dir, log: log}
}

func (p *CSVProvider) GetBars(ctx context.Context, param dto.GetBarsParam) (*domain.Series, error) {
	path := filepath.Join(p.dir, param.Symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.InputError{Reason: fmt.Sprintf("open %s: %v", path, err)}
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, &domain.InputError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	if len(records) < 2 {
		return nil, &domain.InputError{Reason: fmt.Sprintf("%s has no data rows", path)}
	}

	cols, err := mapColumns(records[0])
	if err != nil {
		return nil, err
	}

	series := &domain.Series{Symbol: param.Symbol}
	channels := map[string]*domain.FeatureChannel{}
	for _, name := range []string{domain.FeatureSentiment, domain.FeaturePattern} {
		if _, ok := cols[name]; ok {
			ch := domain.NewFeatureChannel(name)
			channels[name] = ch
			series.Features = series.Features.Add(ch)
		}
	}

	for i, rec := range records[1:] {
		bar, err := parseBar(rec, cols)
		if err != nil {
			return nil, &domain.InputError{Reason: fmt.Sprintf("%s row %d: %v", path, i+2, err)}
		}
		series.Bars = append(series.Bars, bar)

		for name, ch := range channels {
			cell := strings.TrimSpace(rec[cols[name]])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, &domain.InputError{Reason: fmt.Sprintf("%s row %d: bad %s value %q", path, i+2, name, cell)}
			}
			ch.Set(bar.Timestamp, v)
		}
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	p.log.DebugContext(ctx, "loaded csv series",
		logger.StringField("symbol", param.Symbol),
		logger.IntField("bars", len(series.Bars)),
	)
	return series, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, &domain.InputError{Reason: fmt.Sprintf("missing column %q", required)}
		}
	}
	return cols, nil
}

func parseBar(rec []string, cols map[string]int) (domain.Bar, error) {
	ts, err := parseTimestamp(rec[cols["timestamp"]])
	if err != nil {
		return domain.Bar{}, err
	}
	bar := domain.Bar{Timestamp: ts}
	for name, dst := range map[string]*float64{
		"open":   &bar.Open,
		"high":   &bar.High,
		"low":    &bar.Low,
		"close":  &bar.Close,
		"volume": &bar.Volume,
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("bad %s value %q", name, rec[cols[name]])
		}
		*dst = v
	}
	return bar, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
