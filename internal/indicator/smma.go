package indicator

// SMMA is Wilder's smoothed moving average over a stream of samples.
// The first value is the simple mean of `period` samples, after which
// avg = (avg*(period-1) + x) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period. period must be > 0.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

// Update feeds one sample.
func (s *SMMA) Update(x float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += x
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
}

// Value returns the current average. Returns 0 until Ready.
func (s *SMMA) Value() float64 { return s.current }

// Ready reports whether the seed window is complete.
func (s *SMMA) Ready() bool { return s.count >= s.period }

// Count returns the number of samples fed so far.
func (s *SMMA) Count() int { return s.count }

// Peek computes what Value() would be after Update(x) without mutating state.
// Before the seed completes it returns the running mean including x.
func (s *SMMA) Peek(x float64) float64 {
	if s.count < s.period {
		return (s.sum + x) / float64(s.count+1)
	}
	return (s.current*float64(s.period-1) + x) / float64(s.period)
}

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}
