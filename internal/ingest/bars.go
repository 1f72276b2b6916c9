package ingest

import (
	"github.com/rxtech-lab/tickbar/internal/types"
)

// FrameResult is the output of building one configured frame.
type FrameResult struct {
	Spec types.BarSpec
	Bars []types.Bar
	// PartialTailTicks is the size of the dropped trailing block for
	// tick-count frames; always 0 for time frames.
	PartialTailTicks int64
}

// BarBuilder aggregates the annotated series into OHLC bars. State is
// bounded by one open window per frame regardless of tick count, and the
// shared series is only read, so frames can build concurrently.
type BarBuilder struct {
	symbol      string
	basis       types.PriceBasis
	trimWeekend bool
}

// NewBarBuilder builds a bar builder from the resolved config.
func NewBarBuilder(cfg Config) *BarBuilder {
	return &BarBuilder{
		symbol:      cfg.Symbol,
		basis:       cfg.Basis(),
		trimWeekend: cfg.TrimWeekendEnabled(),
	}
}

// Build aggregates the series for one frame. gapStarts marks ticks that
// open a flagged gap's following window; any window containing one carries
// gap_flag=1. Bars come out in ascending t_open_ns order.
func (b *BarBuilder) Build(series *types.TickSeries, spec types.BarSpec, gapStarts map[uint64]bool) (*FrameResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if spec.Kind == types.BarKindTickCount {
		return b.buildCountBars(series, spec, gapStarts), nil
	}

	return b.buildTimeBars(series, spec, gapStarts), nil
}

// buildTimeBars emits fixed-width, left-closed/right-open windows aligned
// to absolute epoch boundaries. Windows with zero ticks are not emitted.
func (b *BarBuilder) buildTimeBars(series *types.TickSeries, spec types.BarSpec, gapStarts map[uint64]bool) *FrameResult {
	result := &FrameResult{Spec: spec}

	width := int64(spec.Unit)
	frame := spec.Frame()

	var acc *barAccum

	curStart := int64(0)

	flush := func() {
		if acc == nil {
			return
		}

		if !(b.trimWeekend && windowWithinWeekend(curStart, curStart+width)) {
			result.Bars = append(result.Bars, acc.finish())
		}

		acc = nil
	}

	for _, tick := range series.Ticks() {
		windowStart := floorDiv(tick.TimestampNs, width) * width
		if acc == nil || windowStart != curStart {
			flush()

			curStart = windowStart
			acc = newBarAccum(b.symbol, frame, windowStart, windowStart+width, b.basis, tick)
		} else {
			acc.update(tick)
		}

		if gapStarts[tick.SequenceID] {
			acc.gapFlag = 1
		}
	}

	flush()

	return result
}

// buildCountBars partitions the series by arrival order into blocks of N
// ticks. A trailing block smaller than N is dropped and its size recorded,
// so every emitted bar has exactly N ticks.
func (b *BarBuilder) buildCountBars(series *types.TickSeries, spec types.BarSpec, gapStarts map[uint64]bool) *FrameResult {
	result := &FrameResult{Spec: spec}

	ticks := series.Ticks()
	n := spec.Count
	frame := spec.Frame()

	full := (len(ticks) / n) * n
	result.PartialTailTicks = int64(len(ticks) - full)

	for start := 0; start+n <= len(ticks); start += n {
		block := ticks[start : start+n]

		acc := newBarAccum(b.symbol, frame, block[0].TimestampNs, block[0].TimestampNs, b.basis, block[0])
		if gapStarts[block[0].SequenceID] {
			acc.gapFlag = 1
		}

		for _, tick := range block[1:] {
			acc.update(tick)

			if gapStarts[tick.SequenceID] {
				acc.gapFlag = 1
			}
		}

		// Count windows span their first to last tick timestamps
		acc.closeNs = block[len(block)-1].TimestampNs

		result.Bars = append(result.Bars, acc.finish())
	}

	return result
}

// barAccum is the open-window state for one bar under construction.
type barAccum struct {
	symbol  string
	frame   string
	openNs  int64
	closeNs int64
	basis   types.PriceBasis

	o, h, l, c             float64
	oBid, oAsk, cBid, cAsk float64
	spreadSum              float64
	nTicks                 int64
	vSum                   float64
	firstID, lastID        uint64
	gapFlag                int32
}

func newBarAccum(symbol, frame string, openNs, closeNs int64, basis types.PriceBasis, first types.Tick) *barAccum {
	price := first.Price(basis)

	return &barAccum{
		symbol:    symbol,
		frame:     frame,
		openNs:    openNs,
		closeNs:   closeNs,
		basis:     basis,
		o:         price,
		h:         price,
		l:         price,
		c:         price,
		oBid:      first.Bid,
		oAsk:      first.Ask,
		cBid:      first.Bid,
		cAsk:      first.Ask,
		spreadSum: first.Spread(),
		nTicks:    1,
		vSum:      first.Volume,
		firstID:   first.SequenceID,
		lastID:    first.SequenceID,
	}
}

func (a *barAccum) update(tick types.Tick) {
	price := tick.Price(a.basis)

	if price > a.h {
		a.h = price
	}

	if price < a.l {
		a.l = price
	}

	a.c = price
	a.cBid = tick.Bid
	a.cAsk = tick.Ask
	a.spreadSum += tick.Spread()
	a.nTicks++
	a.vSum += tick.Volume
	a.lastID = tick.SequenceID
}

func (a *barAccum) finish() types.Bar {
	return types.Bar{
		Symbol:      a.symbol,
		Frame:       a.frame,
		TOpenNs:     a.openNs,
		TCloseNs:    a.closeNs,
		O:           a.o,
		H:           a.h,
		L:           a.l,
		C:           a.c,
		OBid:        a.oBid,
		OAsk:        a.oAsk,
		CBid:        a.cBid,
		CAsk:        a.cAsk,
		SpreadMean:  a.spreadSum / float64(a.nTicks),
		NTicks:      a.nTicks,
		VSum:        a.vSum,
		TickFirstID: a.firstID,
		TickLastID:  a.lastID,
		GapFlag:     a.gapFlag,
	}
}

// windowWithinWeekend reports whether a half-open window lies entirely
// inside one Saturday/Sunday UTC window.
func windowWithinWeekend(startNs, endNs int64) bool {
	wStart, wEnd, ok := weekendWindow(startNs)
	if !ok {
		return false
	}

	return startNs >= wStart && endNs <= wEnd
}

// floorDiv divides rounding toward negative infinity, so pre-epoch
// timestamps still align to absolute window boundaries.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}

	return q
}
