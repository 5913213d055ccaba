// Package config loads the run configuration for the RSI tools.
//
// Values come from three layers, later layers winning: built-in defaults,
// an optional JSON or YAML file (algo_trader.json key names), then
// environment variables (a .env file in the working directory is loaded
// first if present). Indicator parameters are not validated here; the
// pipeline rejects bad values itself.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/pipeline"
	"signal-systemv1/internal/signal"
)

// Config holds all application configuration.
type Config struct {
	// Market data
	Ticker             string   `json:"ticker" yaml:"ticker"`
	Tickers            []string `json:"tickers,omitempty" yaml:"tickers,omitempty"`
	Source             string   `json:"source" yaml:"source"` // yahoo | csv | sqlite
	CollectInterval    string   `json:"collectInterval" yaml:"collectInterval"`
	LookbackDays       int      `json:"lookbackDays" yaml:"lookbackDays"`
	MarketDataBasePath string   `json:"marketDataBasePath" yaml:"marketDataBasePath"`
	BaseDataFileName   string   `json:"baseDataFileName" yaml:"baseDataFileName"`
	RunIntervalS       int      `json:"run_interval" yaml:"run_interval"`
	YahooBaseURL       string   `json:"yahooBaseURL,omitempty" yaml:"yahooBaseURL,omitempty"`
	YahooRatePerSec    float64  `json:"yahooRatePerSec,omitempty" yaml:"yahooRatePerSec,omitempty"`
	WSURL              string   `json:"wsURL,omitempty" yaml:"wsURL,omitempty"`

	// Indicator
	Period              int     `json:"period" yaml:"period"`
	OversoldThreshold   float64 `json:"oversold_threshold" yaml:"oversold_threshold"`
	OverboughtThreshold float64 `json:"overbought_threshold" yaml:"overbought_threshold"`
	Concurrency         int     `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Infrastructure
	RedisAddr         string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword     string `json:"-" yaml:"-"`
	SQLitePath        string `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty"`
	MetricsAddr       string `json:"metricsAddr" yaml:"metricsAddr"`
	SnapshotIntervalS int    `json:"snapshotInterval" yaml:"snapshotInterval"`
	LogLevel          string `json:"logLevel" yaml:"logLevel"`

	// Notifications
	WebhookURL       string `json:"webhookURL,omitempty" yaml:"webhookURL,omitempty"`
	TelegramBotToken string `json:"-" yaml:"-"`
	TelegramChatID   string `json:"telegramChatID,omitempty" yaml:"telegramChatID,omitempty"`
}

// Default returns the configuration used when no file or env is given.
func Default() *Config {
	return &Config{
		Ticker:              "AAPL",
		Source:              "yahoo",
		CollectInterval:     "1h",
		LookbackDays:        7,
		MarketDataBasePath:  "data/",
		BaseDataFileName:    "market_data",
		RunIntervalS:        60,
		YahooRatePerSec:     2,
		Period:              indicator.DefaultRSIPeriod,
		OversoldThreshold:   signal.DefaultOversold,
		OverboughtThreshold: signal.DefaultOverbought,
		Concurrency:         4,
		MetricsAddr:         ":9090",
		SnapshotIntervalS:   30,
		LogLevel:            "info",
	}
}

// Load builds a Config from defaults, the file at path (skipped when path is
// empty) and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Ticker = getEnv("TICKER", c.Ticker)
	if v := os.Getenv("TICKERS"); v != "" {
		c.Tickers = splitList(v)
	}
	c.Source = getEnv("RSI_SOURCE", c.Source)
	c.CollectInterval = getEnv("COLLECT_INTERVAL", c.CollectInterval)
	c.WSURL = getEnv("WS_URL", c.WSURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)

	var err error
	if c.Period, err = getEnvInt("RSI_PERIOD", c.Period); err != nil {
		return err
	}
	if c.OversoldThreshold, err = getEnvFloat("RSI_OVERSOLD", c.OversoldThreshold); err != nil {
		return err
	}
	if c.OverboughtThreshold, err = getEnvFloat("RSI_OVERBOUGHT", c.OverboughtThreshold); err != nil {
		return err
	}
	if c.RunIntervalS, err = getEnvInt("RUN_INTERVAL", c.RunIntervalS); err != nil {
		return err
	}
	if c.LookbackDays, err = getEnvInt("LOOKBACK_DAYS", c.LookbackDays); err != nil {
		return err
	}
	return nil
}

// Symbols returns Tickers if set, otherwise the single Ticker. Blank and
// repeated entries are dropped.
func (c *Config) Symbols() []string {
	src := c.Tickers
	if len(src) == 0 {
		src = []string{c.Ticker}
	}
	seen := make(map[string]bool, len(src))
	out := make([]string, 0, len(src))
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Thresholds returns the configured signal band.
func (c *Config) Thresholds() signal.Thresholds {
	return signal.Thresholds{Oversold: c.OversoldThreshold, Overbought: c.OverboughtThreshold}
}

// Pipeline returns the indicator parameters.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{Period: c.Period, Thresholds: c.Thresholds()}
}

// RunInterval is the streamer poll period.
func (c *Config) RunInterval() time.Duration {
	return time.Duration(c.RunIntervalS) * time.Second
}

// SnapshotInterval is how often streamer state is checkpointed.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalS) * time.Second
}

// Lookback is the history window fetched for a batch run.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() slog.Level {
	return logger.ParseLevel(c.LogLevel)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return f, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
