package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"pnlscope/internal/domain"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pnlscope-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  analyze SYMBOL DATE [-save]     Compute returns for a purchase on DATE\n")
	fmt.Fprintf(os.Stderr, "  sessions                        List saved analyses, newest first\n")
	fmt.Fprintf(os.Stderr, "  show SYMBOL DATE                Print a saved analysis\n")
	fmt.Fprintf(os.Stderr, "  chart SYMBOL DATE -o FILE.png   Render a saved analysis\n")
	fmt.Fprintf(os.Stderr, "  info SYMBOL                     Print the company profile of SYMBOL\n")
	fmt.Fprintf(os.Stderr, "  cache list                      List symbols in the local bar cache\n")
	fmt.Fprintf(os.Stderr, "  cache warm -from D -to D [-symbols FILE.csv] [SYMBOL...]\n")
	fmt.Fprintf(os.Stderr, "                                  Pre-fetch bars into the local bar cache\n")
	fmt.Fprintf(os.Stderr, "  version                         Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "\nEvery command except cache and version accepts -server URL (HTTP) or -grpc ADDR\n")
	fmt.Fprintf(os.Stderr, "to run against a pnlscope-server instead of in-process.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("pnlscope-cli %s\n", version)
		return
	case "analyze":
		err = runAnalyze(ctx, os.Args[2:], os.Stdout)
	case "sessions":
		err = runSessions(ctx, os.Args[2:], os.Stdout)
	case "show":
		err = runShow(ctx, os.Args[2:], os.Stdout)
	case "chart":
		err = runChart(ctx, os.Args[2:], os.Stdout)
	case "info":
		err = runInfo(ctx, os.Args[2:], os.Stdout)
	case "cache":
		err = runCache(ctx, os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the backend selection flags.
func newFlagSet(name string, t *target) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&t.server, "server", "", "pnlscope-server HTTP base URL")
	fs.StringVar(&t.grpc, "grpc", "", "pnlscope-server gRPC address")
	return fs
}

// parseArgs parses flags that may appear before, between or after
// positional arguments and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func symbolAndDate(cmd string, pos []string) (string, string, error) {
	if len(pos) != 2 {
		return "", "", fmt.Errorf("usage: pnlscope-cli %s SYMBOL YYYY-MM-DD", cmd)
	}
	return pos[0], pos[1], nil
}

func runAnalyze(ctx context.Context, args []string, out io.Writer) error {
	var t target
	fs := newFlagSet("analyze", &t)
	save := fs.Bool("save", false, "persist the result")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	symbol, date, err := symbolAndDate("analyze", pos)
	if err != nil {
		return err
	}

	b, err := openBackend(t)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.Analyze(ctx, symbol, date, *save)
	if err != nil {
		return err
	}
	printSession(out, res.session)
	if !res.complete {
		fmt.Fprintf(out, "\nOnly %d trading days available so far.\n", len(res.session.Returns))
	}
	if *save {
		if !res.persisted {
			return fmt.Errorf("%w: analysis computed but not saved: %s", domain.ErrStore, res.persistError)
		}
		fmt.Fprintln(out, "\nSaved.")
	}
	return nil
}

func runSessions(ctx context.Context, args []string, out io.Writer) error {
	var t target
	fs := newFlagSet("sessions", &t)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	b, err := openBackend(t)
	if err != nil {
		return err
	}
	defer b.Close()

	keys, err := b.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No saved analyses.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPURCHASE DATE\tSAVED AT")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Symbol, k.PurchaseDate.Format(domain.DateLayout),
			k.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func runShow(ctx context.Context, args []string, out io.Writer) error {
	var t target
	fs := newFlagSet("show", &t)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	symbol, date, err := symbolAndDate("show", pos)
	if err != nil {
		return err
	}

	b, err := openBackend(t)
	if err != nil {
		return err
	}
	defer b.Close()

	sess, err := b.Show(ctx, symbol, date)
	if err != nil {
		return err
	}
	printSession(out, sess)
	return nil
}

func runChart(ctx context.Context, args []string, out io.Writer) error {
	var t target
	fs := newFlagSet("chart", &t)
	output := fs.String("o", "", "output PNG file (required)")
	kind := fs.String("kind", "price", "chart kind: price or profit")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	symbol, date, err := symbolAndDate("chart", pos)
	if err != nil {
		return err
	}
	if *output == "" {
		return fmt.Errorf("usage: pnlscope-cli chart SYMBOL YYYY-MM-DD -o FILE.png")
	}

	b, err := openBackend(t)
	if err != nil {
		return err
	}
	defer b.Close()

	img, err := b.Chart(ctx, symbol, date, *kind)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, img, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", *output, len(img))
	return nil
}

func runInfo(ctx context.Context, args []string, out io.Writer) error {
	var t target
	fs := newFlagSet("info", &t)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("usage: pnlscope-cli info SYMBOL")
	}

	b, err := openBackend(t)
	if err != nil {
		return err
	}
	defer b.Close()

	info, err := b.Info(ctx, pos[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("unknown symbol %s", strings.ToUpper(pos[0]))
	}
	if err != nil {
		return err
	}
	printStockInfo(out, info)
	return nil
}

// printStockInfo prints the fields the provider reported; zero values are
// left out.
func printStockInfo(out io.Writer, info *domain.StockInfo) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}
	num := func(v float64, format string) string {
		if v == 0 {
			return ""
		}
		return fmt.Sprintf(format, v)
	}
	row("Symbol", info.Symbol)
	row("Name", info.Name)
	row("Exchange", info.Exchange)
	row("Currency", info.Currency)
	row("Sector", info.Sector)
	row("Industry", info.Industry)
	row("Market cap", num(info.MarketCap, "%.0f"))
	row("P/E (trailing)", num(info.PERatio, "%.2f"))
	row("Dividend yield", num(info.DividendYield*100, "%.2f%%"))
	row("52-week high", num(info.FiftyTwoWeekHigh, "%.2f"))
	row("52-week low", num(info.FiftyTwoWeekLow, "%.2f"))
	row("Avg volume", num(float64(info.AvgVolume), "%.0f"))
	tw.Flush()
}

// printSession prints the purchase header and one row per trading day.
func printSession(out io.Writer, sess *domain.Session) {
	fmt.Fprintf(out, "Symbol:         %s\n", sess.Symbol)
	purchase := sess.PurchaseDate.Format(domain.DateLayout)
	if !sess.PurchaseBarDate.IsZero() && !sess.PurchaseBarDate.Equal(sess.PurchaseDate) {
		purchase += " (priced at " + sess.PurchaseBarDate.Format(domain.DateLayout) + " close)"
	}
	fmt.Fprintf(out, "Purchase date:  %s\n", purchase)
	fmt.Fprintf(out, "Purchase price: %.2f\n\n", sess.PurchasePrice)

	if len(sess.Returns) == 0 {
		fmt.Fprintln(out, "No trading days after the purchase yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DATE\tCLOSE\tPROFIT %\t")
	for _, r := range sess.Returns {
		fmt.Fprintf(tw, "%s\t%.2f\t%+.2f\t\n", r.AnalysisDate.Format(domain.DateLayout), r.ClosingPrice, r.ProfitPercentage)
	}
	tw.Flush()
}
