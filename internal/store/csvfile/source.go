package csvfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"signal-systemv1/internal/model"
)

// Source reads price files from disk. It implements model.PriceSource.
//
// With Resolve unset it stitches the dated download files
// {BasePath}{BaseName}_{symbol}_{YYYY-MM-DD}.csv whose date falls inside the
// request window, oldest first. Overlapping downloads repeat bars, so a
// stitched series is sorted and coalesced with model.SanitizeSeries (the
// newer file wins). A single file is returned as read.
type Source struct {
	// Resolve maps a request to one file path, bypassing stitching.
	Resolve func(req model.SeriesRequest) string

	BasePath string
	BaseName string
}

// NewSource creates a Source for files named by FilePath.
func NewSource(basePath, baseName string) *Source {
	return &Source{BasePath: basePath, BaseName: baseName}
}

// StaticSource always reads path, whatever symbol is asked for.
func StaticSource(path string) *Source {
	return &Source{Resolve: func(model.SeriesRequest) string { return path }}
}

// datedFiles lists the symbol's download files dated within [from, to],
// compared by calendar day. A zero from is open; a zero to means today.
func (s *Source) datedFiles(symbol string, from, to time.Time) ([]string, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	prefix := s.BaseName + "_" + symbol + "_"
	matches, err := filepath.Glob(s.BasePath + globEscape(prefix) + "*.csv")
	if err != nil {
		return nil, err
	}
	lo, hi := dayOf(from), dayOf(to)
	type dated struct {
		path string
		day  string
	}
	var files []dated
	for _, m := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".csv")
		if _, err := time.Parse("2006-01-02", day); err != nil {
			continue // record files and other suffixes
		}
		if (!from.IsZero() && day < lo) || day > hi {
			continue
		}
		files = append(files, dated{m, day})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].day < files[j].day })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

func globEscape(s string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`).Replace(s)
}

// FetchSeries reads the request's file(s) and keeps points inside
// [From, To]. A zero bound is open.
func (s *Source) FetchSeries(ctx context.Context, req model.SeriesRequest) (model.PriceSeries, error) {
	empty := model.PriceSeries{Symbol: req.Symbol}
	if err := ctx.Err(); err != nil {
		return empty, err
	}

	var paths []string
	if s.Resolve != nil {
		paths = []string{s.Resolve(req)}
	} else {
		var err error
		if paths, err = s.datedFiles(req.Symbol, req.From, req.To); err != nil {
			return empty, fmt.Errorf("list price files: %w", err)
		}
		if len(paths) == 0 {
			return empty, fmt.Errorf("open price file: no %s files for %s between %s and %s: %w",
				s.BaseName, req.Symbol, dayOf(req.From), dayOf(req.To), os.ErrNotExist)
		}
	}

	var series model.PriceSeries
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return empty, err
		}
		part, err := readFile(path, req.Symbol)
		if err != nil {
			return empty, err
		}
		if i == 0 {
			series = part
			continue
		}
		series.Points = append(series.Points, part.Points...)
	}
	if len(paths) > 1 {
		series = model.SanitizeSeries(series)
	}

	if req.Symbol != "" {
		series.Symbol = req.Symbol
	}
	if series.Interval == "" {
		series.Interval = req.Interval
	}
	series.Points = within(series.Points, req.From, req.To)
	return series, nil
}

func readFile(path, symbol string) (model.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PriceSeries{Symbol: symbol}, fmt.Errorf("open price file: %w", err)
	}
	defer f.Close()

	series, err := ReadSeries(f, symbol)
	if err != nil {
		return series, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return series, nil
}

func within(pts []model.PricePoint, from, to time.Time) []model.PricePoint {
	if from.IsZero() && to.IsZero() {
		return pts
	}
	out := pts[:0:0]
	for _, p := range pts {
		if !from.IsZero() && p.TS.Before(from) {
			continue
		}
		if !to.IsZero() && p.TS.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Sink writes one record file per symbol. Each WriteRecords call replaces
// the symbol's file; the data goes to a temp file first so a failed write
// never leaves a partial file behind. It implements model.RecordSink.
type Sink struct {
	Dir  string
	Name func(symbol string) string
}

// NewSink writes {dir}/{baseName}_{symbol}_{date}_rsi.csv files.
func NewSink(dir, baseName string, date time.Time) *Sink {
	return &Sink{
		Dir: dir,
		Name: func(symbol string) string {
			return filepath.Base(FilePath("", baseName, symbol, date, "_rsi"))
		},
	}
}

// PathFor returns the file a symbol's records are written to.
func (s *Sink) PathFor(symbol string) string {
	return filepath.Join(s.Dir, s.Name(symbol))
}

// WriteRecords implements model.RecordSink.
func (s *Sink) WriteRecords(ctx context.Context, symbol string, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".rsi-*.csv.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteRecords(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s records: %w", symbol, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.PathFor(symbol))
}

// Close implements model.RecordSink.
func (s *Sink) Close() error { return nil }
