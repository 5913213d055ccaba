package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var scenarioCloses = []float64{100, 102, 101, 103, 105, 104, 106, 108, 107, 109, 110, 109, 111, 113, 112}

func writeInput(t *testing.T, dir string, closes []float64) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Datetime,Ticker,Open,Close,Volume,TimeInterval\n")
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		fmt.Fprintf(&b, "%s,AAPL,%v,%v,0,1h\n", t0.Add(time.Duration(i)*time.Hour).Format("2006-01-02 15:04:05"), c, c)
	}
	path := filepath.Join(dir, "prices.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseConfig = `
ticker: AAPL
source: csv
baseDataFileName: market_data
period: 14
oversold_threshold: 30
overbought_threshold: 70
logLevel: error
`

func TestRun_ScenarioWritesRecords(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		configPath: writeConfig(t, dir, baseConfig),
		input:      writeInput(t, dir, scenarioCloses),
		outDir:     dir,
		from:       "2025-01-01",
		to:         "2025-01-02",
	}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}

	out, err := os.ReadFile(filepath.Join(dir, "market_data_AAPL_2025-01-02_rsi.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != len(scenarioCloses)+1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if want := "2025-01-01 14:00:00,112,77.2727,SELL"; lines[len(lines)-1] != want {
		t.Errorf("last row = %q, want %q", lines[len(lines)-1], want)
	}
	if !strings.Contains(stdout.String(), "RSI BATCH COMPLETE") || !strings.Contains(stdout.String(), "SELL") {
		t.Errorf("summary:\n%s", stdout.String())
	}
}

func TestRun_RejectedSeriesProducesNoFile(t *testing.T) {
	dir := t.TempDir()
	closes := append([]float64(nil), scenarioCloses...)
	closes[3] = -1
	opts := options{
		configPath: writeConfig(t, dir, baseConfig),
		input:      writeInput(t, dir, closes),
		outDir:     dir,
		from:       "2025-01-01",
		to:         "2025-01-02",
	}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, &stdout, &stderr); code != exitFailed {
		t.Fatalf("exit %d, want %d", code, exitFailed)
	}
	if !strings.Contains(stdout.String(), "rejected point 3") || !strings.Contains(stdout.String(), "close must be positive") {
		t.Errorf("summary should name the failing check and index:\n%s", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "market_data_AAPL_2025-01-02_rsi.csv")); !os.IsNotExist(err) {
		t.Error("a rejected series must not produce an output file")
	}
}

func TestRun_BadParametersExitConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := strings.Replace(baseConfig, "oversold_threshold: 30", "oversold_threshold: 80", 1)
	opts := options{configPath: writeConfig(t, dir, cfg), input: writeInput(t, dir, scenarioCloses), outDir: dir}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, &stdout, &stderr); code != exitConfig {
		t.Fatalf("exit %d, want %d", code, exitConfig)
	}
	if !strings.Contains(stderr.String(), "oversold") {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	from, to, err := window(options{}, 7*24*time.Hour, now)
	if err != nil || !to.Equal(now) || !from.Equal(now.Add(-7*24*time.Hour)) {
		t.Errorf("default window = %v..%v, %v", from, to, err)
	}
	from, to, err = window(options{from: "2025-03-01", to: "2025-03-02"}, time.Hour, now)
	if err != nil || from.Day() != 1 || to.Format(time.DateTime) != "2025-03-02 23:59:59" {
		t.Errorf("explicit window = %v..%v, %v", from, to, err)
	}
	if _, _, err := window(options{from: "2025-03-05", to: "2025-03-02"}, time.Hour, now); err == nil {
		t.Error("inverted window should fail")
	}
}
