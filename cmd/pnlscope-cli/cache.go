package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"pnlscope/internal/analysis"
	"pnlscope/internal/app"
	"pnlscope/internal/config"
	"pnlscope/internal/domain"
	"pnlscope/internal/marketdata"
	"pnlscope/internal/store"
	"pnlscope/internal/util"
)

// runCache manages the local Parquet bar cache.
func runCache(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: pnlscope-cli cache list | cache warm -from YYYY-MM-DD -to YYYY-MM-DD [SYMBOL...]")
	}

	cfgPath := "config/pnlscope.yaml"
	if p := os.Getenv("PNLSCOPE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	switch args[0] {
	case "list":
		syms, err := bars.ListSymbols(ctx, "us")
		if err != nil {
			return err
		}
		if len(syms) == 0 {
			fmt.Fprintf(out, "No cached symbols under %s.\n", cfg.Storage.DataDir)
			return nil
		}
		for _, s := range syms {
			fmt.Fprintln(out, s)
		}
		return nil

	case "warm":
		fs := flag.NewFlagSet("cache warm", flag.ContinueOnError)
		from := fs.String("from", "", "first day (YYYY-MM-DD)")
		to := fs.String("to", "", "last day, inclusive (YYYY-MM-DD)")
		csvPath := fs.String("symbols", "", "CSV file whose first column lists symbols")
		workers := fs.Int("workers", 4, "concurrent fetches")
		pos, err := parseArgs(fs, args[1:])
		if err != nil {
			return err
		}
		start, err := analysis.ParseDate(*from)
		if err != nil {
			return err
		}
		last, err := analysis.ParseDate(*to)
		if err != nil {
			return err
		}
		if last.Before(start) {
			return fmt.Errorf("%w: -to is before -from", domain.ErrInvalidDate)
		}

		symbols := pos
		if *csvPath != "" {
			fromFile, err := marketdata.LoadCSVSymbols(*csvPath)
			if err != nil {
				return err
			}
			symbols = append(symbols, fromFile...)
		}
		for i, s := range symbols {
			if symbols[i], err = domain.NormalizeSymbol(s); err != nil {
				return err
			}
		}
		if len(symbols) == 0 {
			return fmt.Errorf("no symbols given")
		}

		logger := util.NewLogger(cfg.Logging.Level, "text")
		util.SetDefault(logger)

		cfg.MarketData.Cache = true
		src, err := app.NewSource(cfg)
		if err != nil {
			return err
		}
		stats, err := marketdata.Warm(ctx, src, symbols, start, last.AddDate(0, 0, 1), *workers, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Warmed %d symbols: %d with bars, %d empty, %d failed, %d bars.\n",
			stats.Symbols, stats.Hits, stats.Empty, stats.Failed, stats.Bars)
		return nil
	}
	return fmt.Errorf("unknown cache command %q", args[0])
}
