package ingest

import (
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// QualityReporter aggregates normalization, gap, and bar statistics into
// one report. Pure aggregation; the only side effect lives in
// WriteQualityReport.
type QualityReporter struct {
	symbol string
}

// NewQualityReporter builds a reporter from the resolved config.
func NewQualityReporter(cfg Config) *QualityReporter {
	return &QualityReporter{symbol: cfg.Symbol}
}

// Build assembles the quality report from the stage outputs.
func (q *QualityReporter) Build(stats *NormalizeStats, series *types.TickSeries, gaps *GapAnalysis, frames []*FrameResult) types.QualityReport {
	report := types.QualityReport{
		Symbol:               q.symbol,
		NRawRows:             stats.NRawRows,
		NNormalizedRows:      int64(series.Len()),
		Drops:                stats.Dropped,
		InputReordered:       stats.Reordered,
		Gaps:                 gaps.Records,
		FlaggedGapDurationNs: gaps.FlaggedGapDurationNs,
		GapCoveragePercent:   gaps.CoveragePercent,
		SpreadStats:          spreadStats(series),
		Frames:               make([]types.FrameStats, 0, len(frames)),
	}

	for _, frame := range frames {
		report.Frames = append(report.Frames, types.FrameStats{
			Frame:            frame.Spec.Frame(),
			NBars:            int64(len(frame.Bars)),
			PartialTailTicks: frame.PartialTailTicks,
		})
	}

	return report
}

// spreadStats summarizes ask-bid spreads. The mean is accumulated with
// decimals so the reported value does not depend on platform float
// summation quirks; p95 uses the nearest-rank method.
func spreadStats(series *types.TickSeries) types.SpreadStats {
	if series.Len() == 0 {
		return types.SpreadStats{}
	}

	spreads := make([]float64, 0, series.Len())
	sum := decimal.Zero
	minSpread := math.Inf(1)
	maxSpread := math.Inf(-1)

	for _, tick := range series.Ticks() {
		spread := tick.Spread()
		spreads = append(spreads, spread)
		sum = sum.Add(decimal.NewFromFloat(spread))

		if spread < minSpread {
			minSpread = spread
		}

		if spread > maxSpread {
			maxSpread = spread
		}
	}

	sort.Float64s(spreads)

	rank := int(math.Ceil(0.95*float64(len(spreads)))) - 1
	if rank < 0 {
		rank = 0
	}

	mean := sum.Div(decimal.NewFromInt(int64(len(spreads)))).InexactFloat64()

	return types.SpreadStats{
		Mean: mean,
		Min:  minSpread,
		Max:  maxSpread,
		P95:  spreads[rank],
	}
}

// WriteQualityReport serializes the report as indented JSON.
func WriteQualityReport(path string, report types.QualityReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to marshal quality report", err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeIO, err, "failed to write quality report %s", path)
	}

	return nil
}
