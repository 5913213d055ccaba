package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Period != 14 || cfg.OversoldThreshold != 30 || cfg.OverboughtThreshold != 70 {
		t.Errorf("unexpected indicator defaults: %+v", cfg)
	}
	if err := cfg.Pipeline().Validate(); err != nil {
		t.Errorf("default pipeline config should be valid: %v", err)
	}
	if got := cfg.Symbols(); len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("Symbols() = %v", got)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "algo_trader.json", `{
		"ticker": "MSFT",
		"collectInterval": "5m",
		"marketDataBasePath": "out/",
		"baseDataFileName": "md",
		"run_interval": 15,
		"period": 9,
		"oversold_threshold": 25,
		"overbought_threshold": 75,
		"lookbackDays": 3
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ticker != "MSFT" || cfg.CollectInterval != "5m" || cfg.MarketDataBasePath != "out/" || cfg.BaseDataFileName != "md" {
		t.Errorf("market data keys not loaded: %+v", cfg)
	}
	if cfg.RunInterval() != 15*time.Second || cfg.Lookback() != 72*time.Hour {
		t.Errorf("durations: run=%v lookback=%v", cfg.RunInterval(), cfg.Lookback())
	}
	th := cfg.Thresholds()
	if cfg.Period != 9 || th.Oversold != 25 || th.Overbought != 75 {
		t.Errorf("indicator keys not loaded: period=%d th=%+v", cfg.Period, th)
	}
	if cfg.Source != "yahoo" {
		t.Errorf("unset keys should keep defaults, source=%q", cfg.Source)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "rsi.yaml", `
tickers: [AAPL, " NVDA ", AAPL, ""]
period: 21
oversold_threshold: 20
overbought_threshold: 80
logLevel: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	syms := cfg.Symbols()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "NVDA" {
		t.Errorf("Symbols() = %q", syms)
	}
	if cfg.Period != 21 || cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("period=%d level=%v", cfg.Period, cfg.SlogLevel())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "algo_trader.json", `{"ticker": "MSFT", "period": 9}`)
	t.Setenv("TICKERS", "TSLA, AMZN")
	t.Setenv("RSI_PERIOD", "5")
	t.Setenv("RSI_OVERSOLD", "35.5")
	t.Setenv("SQLITE_PATH", "/tmp/rsi.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Period != 5 || cfg.OversoldThreshold != 35.5 || cfg.SQLitePath != "/tmp/rsi.db" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if syms := cfg.Symbols(); len(syms) != 2 || syms[0] != "TSLA" || syms[1] != "AMZN" {
		t.Errorf("Symbols() = %v", syms)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "bad.json", `{"period": "fourteen"}`)); err == nil {
		t.Error("expected error for malformed file")
	}

	t.Setenv("RSI_OVERBOUGHT", "high")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric RSI_OVERBOUGHT")
	}
}

// Loading never rejects out-of-range indicator values; the pipeline does.
func TestLoad_DoesNotValidateIndicatorParams(t *testing.T) {
	t.Setenv("RSI_OVERSOLD", "70")
	t.Setenv("RSI_OVERBOUGHT", "30")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load should not validate thresholds: %v", err)
	}
	if err := cfg.Pipeline().Validate(); err == nil {
		t.Error("pipeline should reject 70/30")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("algo_trader.example.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Symbols()) != 3 || cfg.SQLitePath != "data/rsi.db" {
		t.Errorf("unexpected example config: %+v", cfg)
	}
}
