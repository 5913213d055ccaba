// cmd/rsibatch computes RSI signals for the configured tickers in one pass
// and writes a record CSV per ticker.
//
// Usage:
//
//	go run ./cmd/rsibatch --config=config/algo_trader.example.json
//	go run ./cmd/rsibatch --source=csv --input=data/prices.csv --tickers=AAPL
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

type options struct {
	configPath string
	source     string
	tickers    string
	input      string
	outDir     string
	from, to   string
	savePrices bool
	toSQLite   bool
	toRedis    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rsibatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON or YAML config file")
	fs.StringVar(&o.source, "source", "", "Price source: yahoo | csv | sqlite (overrides config)")
	fs.StringVar(&o.tickers, "tickers", "", "Comma-separated tickers (overrides config)")
	fs.StringVar(&o.input, "input", "", "CSV price file to read for every ticker (csv source only)")
	fs.StringVar(&o.outDir, "out", "", "Directory for record CSVs (default: marketDataBasePath)")
	fs.StringVar(&o.from, "from", "", "Start date YYYY-MM-DD (default: now - lookbackDays)")
	fs.StringVar(&o.to, "to", "", "End date YYYY-MM-DD, inclusive (default: now)")
	fs.BoolVar(&o.savePrices, "save-prices", false, "Also write fetched prices as CSV (and to SQLite with --sqlite)")
	fs.BoolVar(&o.toSQLite, "sqlite", false, "Also store records in the configured SQLite database")
	fs.BoolVar(&o.toRedis, "redis", false, "Also publish records to the configured Redis")
	err := fs.Parse(args)
	return o, err
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	code := run(ctx, opts, os.Stdout, os.Stderr)
	if code != 0 {
		fmt.Fprintf(os.Stderr, "rsibatch: exit %d\n", code)
	}
	os.Exit(code)
}
