package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"golang-backtest/config"
	"golang-backtest/internal/domain"
	"golang-backtest/internal/dto"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/httpclient"
	"golang-backtest/pkg/logger"
)

// yahooProvider fetches bar series from the Yahoo Finance chart API.
// Responses are cached so repeated backtests over the same symbol and
// range do not re-hit the API; requests are rate limited.
type yahooProvider struct {
	httpClient     httpclient.HTTPClient
	cfg            *config.Config
	log            *logger.Logger
	cache          cache.Cache
	requestLimiter *rate.Limiter
}

// NewYahooProvider creates a new instance of yahooProvider.
func NewYahooProvider(cfg *config.Config, log *logger.Logger, c cache.Cache) BarProvider {
	secondsPerRequest := time.Minute / time.Duration(cfg.MarketData.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)

	return &yahooProvider{
		httpClient:     httpclient.New(log, cfg.MarketData.BaseURL, cfg.MarketData.Timeout),
		cfg:            cfg,
		log:            log,
		cache:          c,
		requestLimiter: requestLimiter,
	}
}

func (p *yahooProvider) GetBars(ctx context.Context, param dto.GetBarsParam) (*domain.Series, error) {
	cacheKey := fmt.Sprintf("bars:%s:%s:%s", param.Symbol, param.Range, param.Interval)
	if series, ok := cache.GetTyped[*domain.Series](p.cache, cacheKey); ok {
		return series, nil
	}

	if err := p.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	period1, period2 := rangeToUnix(param.Range)
	if period1 == 0 || period2 == 0 {
		return nil, &domain.InputError{Reason: fmt.Sprintf("invalid range %q", param.Range)}
	}

	endpoint := "/" + param.Symbol
	queryParams := map[string]string{
		"period1":        fmt.Sprintf("%d", period1),
		"period2":        fmt.Sprintf("%d", period2),
		"interval":       param.Interval,
		"includePrePost": "false",
		"events":         "div,split",
	}
	headers := map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         "https://finance.yahoo.com/",
	}

	var yahooResp dto.YahooChartResponse
	resp, err := p.httpClient.Get(ctx, endpoint, queryParams, headers, &yahooResp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data from yahoo finance: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.log.Error("Yahoo Finance API returned Non-OK status",
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("body", string(resp.Body)))
		return nil, fmt.Errorf("yahoo finance api returned status: %d", resp.StatusCode)
	}
	if yahooResp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo finance api error: %v", yahooResp.Chart.Error)
	}
	if len(yahooResp.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data returned for symbol: %s", param.Symbol)
	}

	result := yahooResp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote data available for symbol: %s", param.Symbol)
	}
	quote := result.Indicators.Quote[0]

	series := &domain.Series{Symbol: param.Symbol}
	for i, timestamp := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) ||
			i >= len(quote.Close) || i >= len(quote.Volume) {
			continue
		}
		// Rows with a zero price are gaps in the feed, not real bars.
		// Zero volume is kept: the cost model prices it as maximal
		// capped slippage.
		if quote.Open[i] == 0 || quote.High[i] == 0 || quote.Low[i] == 0 || quote.Close[i] == 0 {
			continue
		}
		series.Bars = append(series.Bars, domain.Bar{
			Timestamp: time.Unix(timestamp, 0).UTC(),
			Open:      quote.Open[i],
			High:      quote.High[i],
			Low:       quote.Low[i],
			Close:     quote.Close[i],
			Volume:    quote.Volume[i],
		})
	}
	if len(series.Bars) == 0 {
		return nil, fmt.Errorf("no valid OHLCV data found for symbol: %s", param.Symbol)
	}
	sort.Slice(series.Bars, func(i, j int) bool {
		return series.Bars[i].Timestamp.Before(series.Bars[j].Timestamp)
	})

	if err := series.Validate(); err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, series, p.cfg.MarketData.CacheDuration)
	return series, nil
}

// rangeToUnix converts a lookback range to a period1/period2 pair.
func rangeToUnix(periode string) (int64, int64) {
	now := time.Now()
	switch periode {
	case "1m":
		return now.AddDate(0, 0, -30).Unix(), now.Unix()
	case "3m":
		return now.AddDate(0, 0, -90).Unix(), now.Unix()
	case "6m":
		return now.AddDate(0, 0, -180).Unix(), now.Unix()
	case "1y":
		return now.AddDate(0, 0, -365).Unix(), now.Unix()
	case "2y":
		return now.AddDate(0, 0, -730).Unix(), now.Unix()
	case "5y":
		return now.AddDate(0, 0, -1825).Unix(), now.Unix()
	default:
		return 0, 0
	}
}
