package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/signal"
)

var t0 = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func series(symbol string, closes ...float64) model.PriceSeries {
	pts := make([]model.PricePoint, len(closes))
	for i, c := range closes {
		pts[i] = model.PricePoint{TS: t0.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return model.PriceSeries{Symbol: symbol, Points: pts}
}

func randomWalk(seed int64, n int) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := 250.0
	for i := range out {
		price *= 1 + (r.Float64()-0.5)*0.06
		out[i] = price
	}
	return out
}

var scenario = []float64{100, 102, 101, 103, 105, 104, 106, 108, 107, 109, 110, 109, 111, 113, 112}

func TestRunBatch_ReferenceScenario(t *testing.T) {
	recs, err := RunBatch(series("INFY", scenario...), 14, signal.DefaultThresholds())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(recs) != len(scenario) {
		t.Fatalf("expected %d records, got %d", len(scenario), len(recs))
	}
	for i := 0; i < 14; i++ {
		if recs[i].RSI != nil || recs[i].Signal != model.Hold {
			t.Errorf("record %d: expected undefined/Hold, got %+v", i, recs[i])
		}
	}

	last := recs[14]
	v, ok := last.RSIValue()
	if !ok {
		t.Fatal("record 14 should have an RSI")
	}
	if math.Abs(v-100.0*17/22) > 1e-9 {
		t.Errorf("RSI = %.6f, want %.6f", v, 100.0*17/22)
	}
	if last.Signal != model.Sell {
		t.Errorf("signal = %v, want SELL", last.Signal)
	}
	if last.Symbol != "INFY" || last.Close != 112 || !last.TS.Equal(t0.Add(14*time.Hour)) {
		t.Errorf("record metadata wrong: %+v", last)
	}
}

func TestRunBatch_ShortSeriesAllHold(t *testing.T) {
	recs, err := RunBatch(series("X", 10, 11, 12, 13), 14, signal.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range recs {
		if r.RSI != nil || r.Signal != model.Hold {
			t.Errorf("record %d: %+v", i, r)
		}
	}

	empty, err := RunBatch(model.PriceSeries{}, 14, signal.DefaultThresholds())
	if err != nil || len(empty) != 0 {
		t.Errorf("empty series: %v, %d records", err, len(empty))
	}
}

func TestRunBatch_Errors(t *testing.T) {
	good := series("X", scenario...)

	tests := []struct {
		name   string
		series model.PriceSeries
		period int
		th     signal.Thresholds
		want   error
	}{
		{"zero period", good, 0, signal.DefaultThresholds(), model.ErrInvalidParameter},
		{"inverted thresholds", good, 14, signal.Thresholds{Oversold: 70, Overbought: 30}, model.ErrInvalidParameter},
		{"nan close", series("X", 100, 101, math.NaN(), 103), 2, signal.DefaultThresholds(), model.ErrInvalidInput},
		{"negative close", series("X", 100, -1), 2, signal.DefaultThresholds(), model.ErrInvalidInput},
		// Parameters are checked before the series.
		{"bad period and bad series", series("X", math.NaN()), -1, signal.DefaultThresholds(), model.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := RunBatch(tt.series, tt.period, tt.th)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if recs != nil {
				t.Errorf("expected no records, got %d", len(recs))
			}
		})
	}

	_, err := RunBatch(series("X", 100, 101, math.NaN(), 103), 2, signal.DefaultThresholds())
	var ie *model.InputError
	if !errors.As(err, &ie) || ie.Index != 2 {
		t.Errorf("expected InputError at index 2, got %v", err)
	}
}

func TestRunBatch_Deterministic(t *testing.T) {
	s := series("X", randomWalk(3, 500)...)
	a, _ := RunBatch(s, 14, signal.DefaultThresholds())
	b, _ := RunBatch(s, 14, signal.DefaultThresholds())
	for i := range a {
		if !sameRecord(a[i], b[i]) {
			t.Fatalf("record %d differs between runs", i)
		}
	}
}

func TestRunBatchMany(t *testing.T) {
	in := []model.PriceSeries{
		series("A", randomWalk(1, 100)...),
		series("B", 100, 101, 0, 103),
		series("C", scenario...),
		series("D", randomWalk(4, 60)...),
	}

	results, err := RunBatchMany(context.Background(), DefaultConfig(), in, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(in) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Symbol != in[i].Symbol {
			t.Errorf("result %d: symbol %q, want %q", i, r.Symbol, in[i].Symbol)
		}
	}
	if !errors.Is(results[1].Err, model.ErrInvalidInput) || results[1].Records != nil {
		t.Errorf("B should fail with invalid input, got %+v", results[1])
	}
	for _, i := range []int{0, 2, 3} {
		if results[i].Err != nil {
			t.Errorf("%s: %v", results[i].Symbol, results[i].Err)
		}
		want, _ := RunBatch(in[i], 14, signal.DefaultThresholds())
		for j := range want {
			if !sameRecord(results[i].Records[j], want[j]) {
				t.Fatalf("%s record %d differs from RunBatch", results[i].Symbol, j)
			}
		}
	}
}

func TestRunBatchMany_InvalidConfigAndCancel(t *testing.T) {
	in := []model.PriceSeries{series("A", scenario...)}

	if _, err := RunBatchMany(context.Background(), Config{Period: 0, Thresholds: signal.DefaultThresholds()}, in, 1); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := RunBatchMany(ctx, DefaultConfig(), in, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(results) != 1 || !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("unexpected results: %+v", results)
	}
}

// Widening the band never turns a Hold into Buy/Sell, and never flips a
// Buy into a Sell.
func TestRunBatch_WideningMovesTowardHold(t *testing.T) {
	s := series("X", randomWalk(11, 400)...)
	narrow, _ := RunBatch(s, 7, signal.Thresholds{Oversold: 40, Overbought: 60})
	wide, _ := RunBatch(s, 7, signal.Thresholds{Oversold: 25, Overbought: 75})
	for i := range narrow {
		if wide[i].Signal != model.Hold && wide[i].Signal != narrow[i].Signal {
			t.Fatalf("record %d: narrow %v → wide %v", i, narrow[i].Signal, wide[i].Signal)
		}
	}
}

func sameRecord(a, b model.Record) bool {
	av, aok := a.RSIValue()
	bv, bok := b.RSIValue()
	return a.Symbol == b.Symbol && a.TS.Equal(b.TS) && a.Close == b.Close &&
		aok == bok && av == bv && a.Signal == b.Signal && a.Reason == b.Reason
}
