package indicator

import (
	"strings"
	"testing"
	"time"
)

func TestSnapshot_RoundTripContinuesExactly(t *testing.T) {
	s := series(randomWalk(7, 120)...)

	// Cut points before, at and after the seed window completes.
	for _, cut := range []int{0, 1, 5, 14, 15, 60} {
		full, _ := NewRSI(14)
		for _, p := range s.Points[:cut] {
			if _, err := full.Append(p); err != nil {
				t.Fatal(err)
			}
		}

		data, err := MarshalState(full.Snapshot())
		if err != nil {
			t.Fatalf("cut %d: marshal: %v", cut, err)
		}
		st, err := UnmarshalState(data)
		if err != nil {
			t.Fatalf("cut %d: unmarshal: %v", cut, err)
		}
		restored, err := RestoreRSI(st)
		if err != nil {
			t.Fatalf("cut %d: restore: %v", cut, err)
		}
		if restored.SamplesSeen() != cut {
			t.Errorf("cut %d: SamplesSeen=%d", cut, restored.SamplesSeen())
		}

		for i, p := range s.Points[cut:] {
			want, _ := full.Append(p)
			got, err := restored.Append(p)
			if err != nil {
				t.Fatalf("cut %d: restored append %d: %v", cut, i, err)
			}
			if got != want {
				t.Fatalf("cut %d point %d: restored %+v, original %+v", cut, cut+i, got, want)
			}
		}
	}
}

func TestSnapshot_RestoredRejectsStalePoint(t *testing.T) {
	r, _ := NewRSI(3)
	s := series(10, 11, 12)
	for _, p := range s.Points {
		r.Append(p)
	}
	restored, err := RestoreRSI(r.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !restored.LastTS().Equal(s.Points[2].TS) {
		t.Errorf("LastTS=%v, want %v", restored.LastTS(), s.Points[2].TS)
	}
	if _, err := restored.Append(s.Points[2]); err == nil {
		t.Error("expected duplicate timestamp to be rejected after restore")
	}
}

func TestSnapshot_Validate(t *testing.T) {
	good := SmoothingState{
		Version: snapshotVersion, Period: 14, SamplesSeen: 20,
		AvgGain: 0.4, AvgLoss: 0.2, PrevClose: 101, PrevTS: time.Now(),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("good state rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SmoothingState)
		want   string
	}{
		{"version", func(s *SmoothingState) { s.Version = 99 }, "version"},
		{"period", func(s *SmoothingState) { s.Period = 0 }, "period"},
		{"samples", func(s *SmoothingState) { s.SamplesSeen = -1 }, "samples_seen"},
		{"avg_gain", func(s *SmoothingState) { s.AvgGain = -1 }, "avg_gain"},
		{"prev_close", func(s *SmoothingState) { s.PrevClose = 0 }, "prev_close"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := good
			tt.mutate(&st)
			err := st.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUnmarshalState_Malformed(t *testing.T) {
	if _, err := UnmarshalState([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := UnmarshalState([]byte(`{"version":1,"period":-3}`)); err == nil {
		t.Error("expected error for invalid period")
	}
}
