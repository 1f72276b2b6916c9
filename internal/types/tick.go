package types

// PriceBasis selects which quote series is used to compute a bar's OHLC.
type PriceBasis string

const (
	// PriceBasisMid uses (bid+ask)/2
	PriceBasisMid PriceBasis = "mid"
	// PriceBasisBid uses the bid quote
	PriceBasisBid PriceBasis = "bid"
	// PriceBasisAsk uses the ask quote
	PriceBasisAsk PriceBasis = "ask"
)

// IsValid reports whether the basis is one of mid/bid/ask.
func (b PriceBasis) IsValid() bool {
	switch b {
	case PriceBasisMid, PriceBasisBid, PriceBasisAsk:
		return true
	default:
		return false
	}
}

// Tick is one bid/ask quote observation. SequenceID is dense and assigned
// only after the stable sort by TimestampNs, so ids are a total order over
// the normalized series.
type Tick struct {
	SequenceID  uint64
	TimestampNs int64 // UTC epoch nanoseconds
	Bid         float64
	Ask         float64
	// Volume is 0 when the input has no volume column
	Volume float64
}

// Mid returns the mid price (bid+ask)/2.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2.0
}

// Spread returns ask-bid. Non-negative for any tick that survived
// normalization.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Price returns the quote selected by the given basis.
func (t Tick) Price(basis PriceBasis) float64 {
	switch basis {
	case PriceBasisBid:
		return t.Bid
	case PriceBasisAsk:
		return t.Ask
	default:
		return t.Mid()
	}
}

// TickSeries is an ordered, immutable sequence of normalized ticks with
// strictly non-decreasing timestamps. Built once per run by the normalizer;
// readers must not mutate the backing slice.
type TickSeries struct {
	ticks []Tick
}

// NewTickSeries wraps an already normalized tick slice. The caller hands
// over ownership of the slice.
func NewTickSeries(ticks []Tick) *TickSeries {
	return &TickSeries{ticks: ticks}
}

// Len returns the number of ticks in the series.
func (s *TickSeries) Len() int {
	return len(s.ticks)
}

// At returns the tick at index i.
func (s *TickSeries) At(i int) Tick {
	return s.ticks[i]
}

// Ticks exposes the backing slice for read-only iteration.
func (s *TickSeries) Ticks() []Tick {
	return s.ticks
}

// First returns the earliest tick, or false for an empty series.
func (s *TickSeries) First() (Tick, bool) {
	if len(s.ticks) == 0 {
		return Tick{}, false
	}

	return s.ticks[0], true
}

// Last returns the latest tick, or false for an empty series.
func (s *TickSeries) Last() (Tick, bool) {
	if len(s.ticks) == 0 {
		return Tick{}, false
	}

	return s.ticks[len(s.ticks)-1], true
}

// SpanNs returns the duration in nanoseconds between the first and last
// tick, 0 for series with fewer than two ticks.
func (s *TickSeries) SpanNs() int64 {
	if len(s.ticks) < 2 {
		return 0
	}

	return s.ticks[len(s.ticks)-1].TimestampNs - s.ticks[0].TimestampNs
}

// GapRecord describes one inter-tick interval above the configured
// threshold. AfterTickID is the sequence id of the tick preceding the gap.
// ExceedsThreshold is false when the whole gap lies inside a configured
// non-trading window and is therefore excluded from coverage accounting.
type GapRecord struct {
	AfterTickID      uint64 `json:"after_tick_id"`
	GapDurationNs    int64  `json:"gap_duration_ns"`
	ExceedsThreshold bool   `json:"exceeds_threshold"`
}
