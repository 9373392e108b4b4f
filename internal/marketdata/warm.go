package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// WarmStats summarises a Warm run.
type WarmStats struct {
	Symbols int
	Hits    int64 // symbols that returned bars
	Empty   int64 // symbols with no bars in the window
	Failed  int64
	Bars    int64
}

// Warm fetches [start, end) for every symbol through src using up to
// workers goroutines. With a CachedSource this pre-populates the bar cache
// so later analyses of those symbols skip the provider. Per-symbol failures
// are logged and counted, not returned.
func Warm(ctx context.Context, src Source, symbols []string, start, end time.Time, workers int, log *slog.Logger) (WarmStats, error) {
	if log == nil {
		log = slog.Default()
	}
	stats := WarmStats{Symbols: len(symbols)}
	if len(symbols) == 0 {
		return stats, nil
	}

	var (
		hits, empty, failed, total atomic.Int64
		runStart                   = time.Now()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(max(workers, 1), len(symbols)))
	for _, sym := range symbols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			bars, err := src.Fetch(gctx, sym, start, end)
			switch {
			case err != nil:
				failed.Add(1)
				log.Warn("warm fetch failed", "symbol", sym, "error", err)
			case len(bars) == 0:
				empty.Add(1)
			default:
				hits.Add(1)
				total.Add(int64(len(bars)))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Hits, stats.Empty, stats.Failed, stats.Bars = hits.Load(), empty.Load(), failed.Load(), total.Load()
	log.Info("warm complete",
		"symbols", stats.Symbols,
		"hits", stats.Hits,
		"empty", stats.Empty,
		"failed", stats.Failed,
		"bars", stats.Bars,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return stats, ctx.Err()
}

// LoadCSVSymbols reads the first column ("symbol") from a CSV file and
// returns the upper-cased symbols found. The file must have a header row.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(records)-1)
	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[0]))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}
