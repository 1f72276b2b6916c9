package ingest

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/tickbar/internal/logger"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// NormalizeStats captures what happened to the raw rows on their way into
// the normalized series.
type NormalizeStats struct {
	NRawRows  int64
	Dropped   map[string]int64
	Reordered bool
}

// Normalizer validates, sorts, and deduplicates raw ticks and assigns dense
// sequence ids. The raw row strings are never retained; rows stream into
// compact Tick values as they are decoded.
type Normalizer struct {
	log                   *logger.Logger
	strictSorted          bool
	dedup                 bool
	abortOnNegativeSpread bool
}

// NewNormalizer builds a normalizer from the resolved config.
func NewNormalizer(cfg Config, log *logger.Logger) *Normalizer {
	return &Normalizer{
		log:                   log,
		strictSorted:          cfg.StrictSortedInput,
		dedup:                 cfg.DedupEnabled(),
		abortOnNegativeSpread: cfg.NegativeSpreadPolicy == NegativeSpreadAbort,
	}
}

// Normalize consumes the row source and produces the immutable normalized
// series. The stable sort keeps the arrival order of equal timestamps, so
// the output is deterministic regardless of input ordering.
func (n *Normalizer) Normalize(source RowSource) (*types.TickSeries, *NormalizeStats, error) {
	stats := &NormalizeStats{
		Dropped: map[string]int64{
			types.DropReasonDuplicate:      0,
			types.DropReasonNegativeSpread: 0,
		},
	}

	var ticks []types.Tick

	prevTs := int64(0)
	reordered := false

	err := source.Each(func(row RawRow) error {
		stats.NRawRows++

		ts, err := parseTimestampNs(row.Timestamp)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeTimezone, err, "row %d: timestamp %q is not ISO-8601 UTC", row.Index, row.Timestamp)
		}

		if row.Ask < row.Bid {
			if n.abortOnNegativeSpread {
				return errors.Newf(errors.ErrCodeNegativeSpread,
					"row %d: ask %v below bid %v", row.Index, row.Ask, row.Bid)
			}

			stats.Dropped[types.DropReasonNegativeSpread]++

			return nil
		}

		if len(ticks) > 0 && ts < prevTs {
			reordered = true
		}

		prevTs = ts

		ticks = append(ticks, types.Tick{
			TimestampNs: ts,
			Bid:         row.Bid,
			Ask:         row.Ask,
			Volume:      row.Volume,
		})

		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	stats.Reordered = reordered

	if reordered && n.strictSorted {
		return nil, stats, errors.New(errors.ErrCodeUnsortedInput,
			"input rows are not sorted by timestamp and strict_sorted_input is set")
	}

	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].TimestampNs < ticks[j].TimestampNs
	})

	if n.dedup {
		before := len(ticks)
		ticks = dedupeExact(ticks)
		stats.Dropped[types.DropReasonDuplicate] = int64(before - len(ticks))
	}

	// Sequence ids are assigned only now, after sort and dedup, so they
	// are dense from 0 over the final series.
	for i := range ticks {
		ticks[i].SequenceID = uint64(i)
	}

	n.log.Info("normalized tick series",
		zap.Int64("raw_rows", stats.NRawRows),
		zap.Int("normalized_rows", len(ticks)),
		zap.Int64("dropped_duplicates", stats.Dropped[types.DropReasonDuplicate]),
		zap.Int64("dropped_negative_spread", stats.Dropped[types.DropReasonNegativeSpread]),
		zap.Bool("reordered", reordered),
	)

	return types.NewTickSeries(ticks), stats, nil
}

// parseTimestampNs parses an ISO-8601 timestamp with explicit offset and
// converts it to UTC epoch nanoseconds.
func parseTimestampNs(value string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, err
	}

	return t.UTC().UnixNano(), nil
}

// dedupeExact removes exact (timestamp,bid,ask) duplicates, keeping the
// first occurrence. The series is already sorted, so duplicates can only
// live inside a run of equal timestamps.
func dedupeExact(ticks []types.Tick) []types.Tick {
	out := ticks[:0]

	for i := 0; i < len(ticks); {
		j := i
		for j < len(ticks) && ticks[j].TimestampNs == ticks[i].TimestampNs {
			j++
		}

		seen := make(map[[2]float64]bool, j-i)

		for k := i; k < j; k++ {
			key := [2]float64{ticks[k].Bid, ticks[k].Ask}
			if seen[key] {
				continue
			}

			seen[key] = true

			out = append(out, ticks[k])
		}

		i = j
	}

	return out
}
