package types

import (
	"fmt"
	"time"

	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// BarKind distinguishes fixed-time from fixed-count windows.
type BarKind string

const (
	// BarKindTime aggregates ticks into fixed-width wall-clock windows
	BarKindTime BarKind = "time"
	// BarKindTickCount aggregates ticks into fixed-size arrival-order blocks
	BarKindTickCount BarKind = "tick"
)

// BarSpec is one configured bar-generation frame.
type BarSpec struct {
	Kind BarKind
	// Unit is the window width for time frames
	Unit time.Duration
	// Count is the block size for tick-count frames
	Count int
}

// Validate checks the spec for a usable unit or count.
func (s BarSpec) Validate() error {
	switch s.Kind {
	case BarKindTime:
		if s.Unit <= 0 {
			return errors.Newf(errors.ErrCodeBarSpecInvalid, "time frame unit must be positive, got %s", s.Unit)
		}
	case BarKindTickCount:
		if s.Count <= 0 {
			return errors.Newf(errors.ErrCodeBarSpecInvalid, "tick frame count must be positive, got %d", s.Count)
		}
	default:
		return errors.Newf(errors.ErrCodeBarSpecInvalid, "unrecognized frame kind %q", string(s.Kind))
	}

	return nil
}

// Frame returns the frame label used in file names and the bar table,
// e.g. "1m" for one-minute time bars or "100t" for 100-tick bars.
func (s BarSpec) Frame() string {
	if s.Kind == BarKindTickCount {
		return fmt.Sprintf("%dt", s.Count)
	}

	switch {
	case s.Unit%time.Hour == 0:
		return fmt.Sprintf("%dh", s.Unit/time.Hour)
	case s.Unit%time.Minute == 0:
		return fmt.Sprintf("%dm", s.Unit/time.Minute)
	case s.Unit%time.Second == 0:
		return fmt.Sprintf("%ds", s.Unit/time.Second)
	default:
		return s.Unit.String()
	}
}

// BarColumns is the fixed 18-column bar schema, in output order. Every bar
// file carries exactly these columns.
var BarColumns = []string{
	"symbol", "frame", "t_open_ns", "t_close_ns",
	"o", "h", "l", "c",
	"o_bid", "o_ask", "c_bid", "c_ask",
	"spread_mean", "n_ticks", "v_sum",
	"tick_first_id", "tick_last_id", "gap_flag",
}

// Bar is one aggregated OHLC window. For time frames TOpenNs/TCloseNs are
// the epoch-aligned window bounds (close exclusive); for tick-count frames
// they are the first and last tick timestamps of the block.
type Bar struct {
	Symbol      string
	Frame       string
	TOpenNs     int64
	TCloseNs    int64
	O           float64
	H           float64
	L           float64
	C           float64
	OBid        float64
	OAsk        float64
	CBid        float64
	CAsk        float64
	SpreadMean  float64
	NTicks      int64
	VSum        float64
	TickFirstID uint64
	TickLastID  uint64
	GapFlag     int32
}

// Validate checks the bar invariants: l <= min(o,c) <= max(o,c) <= h,
// t_open <= t_close, n_ticks >= 1, tick_first_id <= tick_last_id.
func (b Bar) Validate() error {
	lo, hi := b.O, b.C
	if lo > hi {
		lo, hi = hi, lo
	}

	if b.L > lo {
		return fmt.Errorf("bar %s@%d: low %v above min(open, close) %v", b.Frame, b.TOpenNs, b.L, lo)
	}

	if b.H < hi {
		return fmt.Errorf("bar %s@%d: high %v below max(open, close) %v", b.Frame, b.TOpenNs, b.H, hi)
	}

	if b.TOpenNs > b.TCloseNs {
		return fmt.Errorf("bar %s@%d: open time after close time %d", b.Frame, b.TOpenNs, b.TCloseNs)
	}

	if b.NTicks < 1 {
		return fmt.Errorf("bar %s@%d: n_ticks %d below 1", b.Frame, b.TOpenNs, b.NTicks)
	}

	if b.TickFirstID > b.TickLastID {
		return fmt.Errorf("bar %s@%d: tick_first_id %d above tick_last_id %d", b.Frame, b.TOpenNs, b.TickFirstID, b.TickLastID)
	}

	return nil
}
