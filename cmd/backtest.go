package cmd

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"golang-backtest/internal/dto"
)

var backtestFlags struct {
	symbol         string
	dataDir        string
	dataRange      string
	interval       string
	cash           float64
	maxDrawdown    float64
	timing         string
	sizing         string
	sizingFraction float64
	costModel      string
	commission     string
	commissionRate float64
	minConf        int
	benchmark      string
	output         string
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one backtest and print the result as JSON",
	Run:   runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&backtestFlags.symbol, "symbol", "", "symbol to backtest (required)")
	f.StringVar(&backtestFlags.dataDir, "data-dir", "", "load bars from <dir>/<symbol>.csv instead of Yahoo Finance")
	f.StringVar(&backtestFlags.dataRange, "range", "1y", "lookback range (1m 3m 6m 1y 2y 5y)")
	f.StringVar(&backtestFlags.interval, "interval", "1d", "bar interval")
	f.Float64Var(&backtestFlags.cash, "cash", 0, "starting cash (0 uses the configured default)")
	f.Float64Var(&backtestFlags.maxDrawdown, "max-drawdown", 0, "circuit-breaker drawdown fraction, e.g. 0.25")
	f.StringVar(&backtestFlags.timing, "timing", "close", "execution timing: close or next_open")
	f.StringVar(&backtestFlags.sizing, "sizing", "fixed_fractional", "sizing method: fixed_fractional, risk_based, kelly, optimal_f")
	f.Float64Var(&backtestFlags.sizingFraction, "sizing-fraction", 0.1, "equity fraction for fixed-fractional sizing")
	f.StringVar(&backtestFlags.costModel, "cost-model", "dynamic_slippage", "cost model: dynamic_slippage or market_impact")
	f.StringVar(&backtestFlags.commission, "commission", "percent", "commission schedule: percent or per_share")
	f.Float64Var(&backtestFlags.commissionRate, "commission-rate", 0.001, "commission rate for the percent schedule")
	f.IntVar(&backtestFlags.minConf, "min-confirmations", 0, "confluence confirmations required to enter (0 uses the default)")
	f.StringVar(&backtestFlags.benchmark, "benchmark", "", "benchmark symbol for alpha")
	f.StringVar(&backtestFlags.output, "output", "", "write the JSON result to a file instead of stdout")
	backtestCmd.MarkFlagRequired("symbol")
}

func runBacktest(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(backtestFlags.dataDir)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	req := dto.BacktestRequest{
		Symbol:          backtestFlags.symbol,
		Range:           backtestFlags.dataRange,
		Interval:        backtestFlags.interval,
		StartingCash:    backtestFlags.cash,
		MaxDrawdownPct:  backtestFlags.maxDrawdown,
		Timing:          backtestFlags.timing,
		SizingMethod:    backtestFlags.sizing,
		SizingFraction:  backtestFlags.sizingFraction,
		CostModel:       backtestFlags.costModel,
		CommissionType:  backtestFlags.commission,
		CommissionRate:  backtestFlags.commissionRate,
		BenchmarkSymbol: backtestFlags.benchmark,
		Params: dto.StrategyParams{
			MinConfirmations: backtestFlags.minConf,
		},
	}

	resp, err := appDep.services.BacktestService.Backtest(ctx, req)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}
	writeJSON(resp, backtestFlags.output)
}

func writeJSON(v interface{}, path string) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	if path == "" {
		os.Stdout.Write(append(out, '\n'))
		return
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}
}
