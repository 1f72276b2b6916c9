package ingest

import (
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/tickbar/internal/logger"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// GapAnalysis is the result of scanning the normalized series for
// excessive inter-tick intervals.
type GapAnalysis struct {
	Records              []types.GapRecord
	FlaggedGapDurationNs int64
	CoveragePercent      float64
	// GapStartTickIDs marks the first tick after each flagged gap; the
	// bar window containing such a tick carries gap_flag=1.
	GapStartTickIDs map[uint64]bool
}

// GapAnalyzer measures inter-tick intervals against the configured
// threshold and computes duration-weighted coverage.
type GapAnalyzer struct {
	log         *logger.Logger
	thresholdNs int64
	fatalRatio  float64
	trimWeekend bool
}

// NewGapAnalyzer builds an analyzer from the resolved config.
func NewGapAnalyzer(cfg Config, log *logger.Logger) *GapAnalyzer {
	return &GapAnalyzer{
		log:         log,
		thresholdNs: cfg.GapThresholdNs(),
		fatalRatio:  cfg.MaxFlaggedGapRatio,
		trimWeekend: cfg.TrimWeekendEnabled(),
	}
}

// Analyze scans consecutive tick pairs. Gaps above the threshold produce a
// GapRecord; a record whose whole span lies inside the weekend window is
// excluded from coverage accounting (ExceedsThreshold=false). Returns
// GAP_EXCESS when the flagged proportion exceeds the fatal ratio.
func (g *GapAnalyzer) Analyze(series *types.TickSeries) (*GapAnalysis, error) {
	analysis := &GapAnalysis{
		Records:         []types.GapRecord{},
		GapStartTickIDs: map[uint64]bool{},
	}

	ticks := series.Ticks()

	for i := 0; i+1 < len(ticks); i++ {
		gap := ticks[i+1].TimestampNs - ticks[i].TimestampNs
		if gap <= g.thresholdNs {
			continue
		}

		excluded := g.trimWeekend && withinWeekend(ticks[i].TimestampNs, ticks[i+1].TimestampNs)

		analysis.Records = append(analysis.Records, types.GapRecord{
			AfterTickID:      ticks[i].SequenceID,
			GapDurationNs:    gap,
			ExceedsThreshold: !excluded,
		})

		if !excluded {
			analysis.FlaggedGapDurationNs += gap
			analysis.GapStartTickIDs[ticks[i+1].SequenceID] = true
		}
	}

	total := series.SpanNs()

	analysis.CoveragePercent = 100.0
	if total > 0 && analysis.FlaggedGapDurationNs > 0 {
		analysis.CoveragePercent = 100.0 * (1.0 - float64(analysis.FlaggedGapDurationNs)/float64(total))
	}

	if total > 0 {
		ratio := float64(analysis.FlaggedGapDurationNs) / float64(total)
		if ratio > g.fatalRatio {
			return nil, errors.Newf(errors.ErrCodeGapExcess,
				"flagged gap ratio %.4f exceeds allowed %.4f (flagged %s of %s)",
				ratio, g.fatalRatio,
				time.Duration(analysis.FlaggedGapDurationNs), time.Duration(total))
		}
	}

	g.log.Info("gap analysis complete",
		zap.Int("gap_records", len(analysis.Records)),
		zap.Int64("flagged_gap_ns", analysis.FlaggedGapDurationNs),
		zap.Float64("coverage_percent", analysis.CoveragePercent),
	)

	return analysis, nil
}

// weekendWindow returns the [Saturday 00:00, Monday 00:00) UTC window
// containing ns, with ok=false when ns falls on a weekday.
func weekendWindow(ns int64) (startNs, endNs int64, ok bool) {
	t := time.Unix(0, ns).UTC()

	var satStart time.Time

	switch t.Weekday() {
	case time.Saturday:
		satStart = t.Truncate(24 * time.Hour)
	case time.Sunday:
		satStart = t.Truncate(24 * time.Hour).Add(-24 * time.Hour)
	default:
		return 0, 0, false
	}

	return satStart.UnixNano(), satStart.Add(48 * time.Hour).UnixNano(), true
}

// withinWeekend reports whether the interval [startNs, endNs] lies entirely
// inside one Saturday/Sunday UTC window.
func withinWeekend(startNs, endNs int64) bool {
	wStart, wEnd, ok := weekendWindow(startNs)
	if !ok {
		return false
	}

	return startNs >= wStart && endNs <= wEnd
}
