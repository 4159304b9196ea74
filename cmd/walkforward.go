package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"golang-backtest/internal/dto"
)

var walkForwardFlags struct {
	symbols        []string
	dataDir        string
	dataRange      string
	interval       string
	sizing         string
	trainBars      int
	testBars       int
	stepBars       int
	maxConcurrency int
	mode           string
	optimize       bool
	output         string
}

var walkForwardCmd = &cobra.Command{
	Use:   "walkforward",
	Short: "Run rolling out-of-sample validation across one or more symbols",
	Run:   runWalkForward,
}

func init() {
	f := walkForwardCmd.Flags()
	f.StringSliceVar(&walkForwardFlags.symbols, "symbols", nil, "symbols to validate (required)")
	f.StringVar(&walkForwardFlags.dataDir, "data-dir", "", "load bars from <dir>/<symbol>.csv instead of Yahoo Finance")
	f.StringVar(&walkForwardFlags.dataRange, "range", "5y", "lookback range (1m 3m 6m 1y 2y 5y)")
	f.StringVar(&walkForwardFlags.interval, "interval", "1d", "bar interval")
	f.StringVar(&walkForwardFlags.sizing, "sizing", "fixed_fractional", "sizing method: fixed_fractional, risk_based, kelly, optimal_f")
	f.IntVar(&walkForwardFlags.trainBars, "train", 0, "train window size in bars (0 uses the configured default)")
	f.IntVar(&walkForwardFlags.testBars, "test", 0, "test window size in bars")
	f.IntVar(&walkForwardFlags.stepBars, "step", 0, "distance between window starts, at least train+test")
	f.IntVar(&walkForwardFlags.maxConcurrency, "max-concurrency", 0, "worker pool size for windows and grid candidates")
	f.StringVar(&walkForwardFlags.mode, "mode", "per_symbol", "optimization mode: per_symbol or aggregate")
	f.BoolVar(&walkForwardFlags.optimize, "optimize", false, "re-optimize parameters on each train window")
	f.StringVar(&walkForwardFlags.output, "output", "", "write the JSON result to a file instead of stdout")
	walkForwardCmd.MarkFlagRequired("symbols")
}

func runWalkForward(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(walkForwardFlags.dataDir)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer appDep.Close()

	req := dto.WalkForwardRequest{
		Backtest: dto.BacktestRequest{
			Symbol:       walkForwardFlags.symbols[0],
			Range:        walkForwardFlags.dataRange,
			Interval:     walkForwardFlags.interval,
			SizingMethod: walkForwardFlags.sizing,
		},
		Symbols:        walkForwardFlags.symbols,
		TrainBars:      walkForwardFlags.trainBars,
		TestBars:       walkForwardFlags.testBars,
		StepBars:       walkForwardFlags.stepBars,
		MaxConcurrency: walkForwardFlags.maxConcurrency,
		Mode:           walkForwardFlags.mode,
	}
	if walkForwardFlags.optimize {
		req.Grid = defaultGrid()
	}

	resp, err := appDep.services.BacktestService.WalkForward(ctx, req)
	if err != nil {
		log.Fatalf("Walk-forward validation failed: %v", err)
	}
	writeJSON(resp, walkForwardFlags.output)
}

// defaultGrid is a small sweep around the conventional confluence setup.
func defaultGrid() *dto.GridSpec {
	return &dto.GridSpec{
		FastMA:           []int{5, 10, 20},
		SlowMA:           []int{50, 100},
		MinConfirmations: []int{2, 3, 4},
		VolumeMultiplier: []float64{1.0, 1.2, 1.5},
	}
}
