// Package csvfile reads price files and writes RSI record files.
//
// Two layouts are understood on input: the market-data download layout
// (Datetime,Ticker,Open,Close,Volume,TimeInterval) and the record layout this
// package writes (timestamp,close,rsi,signal). Columns are located by header
// name, so extra columns and ordering do not matter. Rows are parsed, not
// validated: a non-positive or missing close reaches the pipeline as-is and
// is rejected there with its index.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"signal-systemv1/internal/model"
)

// TimeLayout is the timestamp format used when writing.
const TimeLayout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FilePath builds {basePath}{baseName}_{ticker}_{YYYY-MM-DD}{suffix}.csv.
func FilePath(basePath, baseName, ticker string, date time.Time, suffix string) string {
	return fmt.Sprintf("%s%s_%s_%s%s.csv", basePath, baseName, ticker, date.Format("2006-01-02"), suffix)
}

// ParseTime accepts the layouts produced by the download script and by
// WriteRecords. Zone-less values are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReadSeries parses a price CSV. symbol is used when the file has no Ticker
// column. Empty close cells are read as NaN.
func ReadSeries(r io.Reader, symbol string) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: symbol}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return series, nil
		}
		return series, fmt.Errorf("csv header: %w", err)
	}
	cols := indexColumns(header)
	tsCol, ok := cols.find("datetime", "date", "timestamp", "ts")
	if !ok {
		return series, fmt.Errorf("csv header %v: no timestamp column", header)
	}
	closeCol, ok := cols.find("close", "adj close")
	if !ok {
		return series, fmt.Errorf("csv header %v: no close column", header)
	}
	tickerCol, hasTicker := cols.find("ticker", "symbol")
	intervalCol, hasInterval := cols.find("timeinterval", "interval")

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return series, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(row) <= tsCol || len(row) <= closeCol {
			return series, fmt.Errorf("csv line %d: %d fields, need %d", line, len(row), max(tsCol, closeCol)+1)
		}

		ts, err := ParseTime(row[tsCol])
		if err != nil {
			return series, fmt.Errorf("csv line %d: %w", line, err)
		}
		c, err := parseFloat(row[closeCol])
		if err != nil {
			return series, fmt.Errorf("csv line %d: close: %w", line, err)
		}
		series.Points = append(series.Points, model.PricePoint{TS: ts, Close: c})

		if hasTicker && series.Symbol == "" && len(row) > tickerCol {
			series.Symbol = strings.TrimSpace(row[tickerCol])
		}
		if hasInterval && series.Interval == "" && len(row) > intervalCol {
			series.Interval = strings.TrimSpace(row[intervalCol])
		}
	}
	return series, nil
}

// ReadRecords parses a file written by WriteRecords.
func ReadRecords(r io.Reader, symbol string) ([]model.Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(recordHeader, ",") {
		return nil, fmt.Errorf("csv header %v: want %v", header, recordHeader)
	}

	var out []model.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		rec := model.Record{Symbol: symbol}
		if rec.TS, err = ParseTime(row[0]); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if rec.Close, err = parseFloat(row[1]); err != nil {
			return nil, fmt.Errorf("csv line %d: close: %w", line, err)
		}
		if row[2] != "" {
			v, err := parseFloat(row[2])
			if err != nil {
				return nil, fmt.Errorf("csv line %d: rsi: %w", line, err)
			}
			rec.RSI = &v
		}
		if rec.Signal, err = model.ParseSignal(row[3]); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

var recordHeader = []string{"timestamp", "close", "rsi", "signal"}

// WriteRecords writes timestamp,close,rsi,signal rows. Undefined RSI is an
// empty cell.
func WriteRecords(w io.Writer, records []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return err
	}
	row := make([]string, 4)
	for _, r := range records {
		row[0] = r.TS.UTC().Format(TimeLayout)
		row[1] = formatFloat(r.Close)
		row[2] = ""
		if v, ok := r.RSIValue(); ok {
			row[2] = strconv.FormatFloat(v, 'f', 4, 64)
		}
		row[3] = r.Signal.String()
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePrices writes a series in the download layout. Open and Volume are
// not tracked and are written as the close and 0.
func WritePrices(w io.Writer, series model.PriceSeries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Datetime", "Ticker", "Open", "Close", "Volume", "TimeInterval"}); err != nil {
		return err
	}
	for _, p := range series.Points {
		c := formatFloat(p.Close)
		if err := cw.Write([]string{p.TS.UTC().Format(TimeLayout), series.Symbol, c, c, "0", series.Interval}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type columns map[string]int

func indexColumns(header []string) columns {
	cols := make(columns, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

func (c columns) find(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
