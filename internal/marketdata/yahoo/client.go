// Package yahoo fetches closing prices from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"signal-systemv1/internal/model"
)

// DefaultBaseURL is the public chart API host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// ErrNoData is returned when the provider answers with an empty result.
// It wraps model.ErrNoData.
var ErrNoData = fmt.Errorf("yahoo: %w", model.ErrNoData)

// Config for Client.
type Config struct {
	BaseURL string
	// RatePerSec paces outgoing requests across all callers. Zero or
	// negative disables pacing.
	RatePerSec float64
	Timeout    time.Duration
	// DefaultLookback is used when a request has no From. Defaults to 7 days.
	DefaultLookback time.Duration
	// DefaultInterval is used when a request has no Interval. Defaults to 1h.
	DefaultInterval string
}

// Client implements model.PriceSource. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a chart API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DefaultLookback == 0 {
		cfg.DefaultLookback = 7 * 24 * time.Hour
	}
	if cfg.DefaultInterval == "" {
		cfg.DefaultInterval = "1h"
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		now:     time.Now,
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol          string `json:"symbol"`
		DataGranularity string `json:"dataGranularity"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *chartError) Error() string {
	return fmt.Sprintf("yahoo: %s: %s", e.Code, e.Description)
}

// FetchSeries downloads closes for req.Symbol over [From, To]. Bars with a
// null close are skipped. No retries are attempted; on failure the series
// holds whatever was decoded.
func (c *Client) FetchSeries(ctx context.Context, req model.SeriesRequest) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: req.Symbol, Interval: req.Interval}
	if series.Interval == "" {
		series.Interval = c.cfg.DefaultInterval
	}
	if req.Symbol == "" {
		return series, errors.New("yahoo: empty symbol")
	}

	to := req.To
	if to.IsZero() {
		to = c.now()
	}
	from := req.From
	if from.IsZero() {
		from = to.Add(-c.cfg.DefaultLookback)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return series, err
	}

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", series.Interval)
	q.Set("includePrePost", "false")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.cfg.BaseURL, url.PathEscape(req.Symbol), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return series, err
	}
	httpReq.Header.Set("User-Agent", "signal-systemv1/1.0")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return series, fmt.Errorf("yahoo: %s: %w", req.Symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return series, fmt.Errorf("yahoo: read body: %w", err)
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return series, fmt.Errorf("yahoo: %s: HTTP %d", req.Symbol, resp.StatusCode)
		}
		return series, fmt.Errorf("yahoo: decode: %w", err)
	}
	if cr.Chart.Error != nil {
		return series, cr.Chart.Error
	}
	if resp.StatusCode != http.StatusOK {
		return series, fmt.Errorf("yahoo: %s: HTTP %d", req.Symbol, resp.StatusCode)
	}
	if len(cr.Chart.Result) == 0 {
		return series, fmt.Errorf("%w for %s", ErrNoData, req.Symbol)
	}

	res := cr.Chart.Result[0]
	if res.Meta.DataGranularity != "" {
		series.Interval = res.Meta.DataGranularity
	}
	var closes []*float64
	if len(res.Indicators.Quote) > 0 {
		closes = res.Indicators.Quote[0].Close
	}
	if len(closes) != len(res.Timestamp) {
		return series, fmt.Errorf("yahoo: %s: %d timestamps but %d closes", req.Symbol, len(res.Timestamp), len(closes))
	}
	for i, ts := range res.Timestamp {
		if closes[i] == nil {
			continue
		}
		series.Points = append(series.Points, model.PricePoint{TS: time.Unix(ts, 0).UTC(), Close: *closes[i]})
	}
	if len(series.Points) == 0 {
		return series, fmt.Errorf("%w for %s", ErrNoData, req.Symbol)
	}
	return series, nil
}
