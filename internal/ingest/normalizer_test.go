package ingest

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/tickbar/internal/logger"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// rowsSource feeds a fixed slice of rows, for tests that do not need a file.
type rowsSource struct {
	rows []RawRow
}

func (s rowsSource) Each(fn func(RawRow) error) error {
	for _, row := range s.rows {
		if err := fn(row); err != nil {
			return err
		}
	}

	return nil
}

func row(index int, ts string, bid, ask float64) RawRow {
	return RawRow{Index: index, Timestamp: ts, Bid: bid, Ask: ask}
}

type NormalizerTestSuite struct {
	suite.Suite
	cfg Config
}

func TestNormalizerSuite(t *testing.T) {
	suite.Run(t, new(NormalizerTestSuite))
}

func (suite *NormalizerTestSuite) SetupTest() {
	suite.cfg = DefaultConfig()
	suite.cfg.Symbol = "EURUSD"
}

func (suite *NormalizerTestSuite) normalize(rows []RawRow) (*types.TickSeries, *NormalizeStats, error) {
	return NewNormalizer(suite.cfg, logger.NewNopLogger()).Normalize(rowsSource{rows: rows})
}

func (suite *NormalizerTestSuite) TestSortsOutOfOrderInput() {
	series, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:03Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:01Z", 1.1001, 1.1003),
		row(2, "2024-01-02T00:00:02Z", 1.1002, 1.1004),
	})
	suite.Require().NoError(err)

	suite.Equal(int64(3), stats.NRawRows)
	suite.True(stats.Reordered)
	suite.Equal(3, series.Len())

	for i := 0; i < series.Len(); i++ {
		suite.Equal(uint64(i), series.At(i).SequenceID)

		if i > 0 {
			suite.LessOrEqual(series.At(i-1).TimestampNs, series.At(i).TimestampNs)
		}
	}

	suite.Equal(1.1001, series.At(0).Bid)
	suite.Equal(1.1000, series.At(2).Bid)
}

func (suite *NormalizerTestSuite) TestStableSortKeepsArrivalOrderForEqualTimestamps() {
	series, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:01Z", 1.2000, 1.2002),
		row(2, "2024-01-02T00:00:01Z", 1.3000, 1.3002),
	})
	suite.Require().NoError(err)

	suite.False(stats.Reordered)
	suite.Require().Equal(3, series.Len())
	suite.Equal(1.1000, series.At(0).Bid)
	suite.Equal(1.2000, series.At(1).Bid)
	suite.Equal(1.3000, series.At(2).Bid)
}

func (suite *NormalizerTestSuite) TestDedupDropsExactDuplicates() {
	series, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(2, "2024-01-02T00:00:01Z", 1.1001, 1.1003),
		row(3, "2024-01-02T00:00:02Z", 1.1000, 1.1002),
	})
	suite.Require().NoError(err)

	suite.Equal(3, series.Len())
	suite.Equal(int64(1), stats.Dropped[types.DropReasonDuplicate])

	// ids stay dense after the drop
	for i := 0; i < series.Len(); i++ {
		suite.Equal(uint64(i), series.At(i).SequenceID)
	}
}

func (suite *NormalizerTestSuite) TestDedupDisabledKeepsDuplicates() {
	dedup := false
	suite.cfg.Dedup = &dedup

	series, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
	})
	suite.Require().NoError(err)

	suite.Equal(2, series.Len())
	suite.Equal(int64(0), stats.Dropped[types.DropReasonDuplicate])
}

func (suite *NormalizerTestSuite) TestNegativeSpreadAborts() {
	_, _, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:02Z", 1.1005, 1.1001),
	})
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeNegativeSpread, errors.GetCode(err))
	suite.Contains(err.Error(), "row 1")
}

func (suite *NormalizerTestSuite) TestNegativeSpreadDropPolicy() {
	suite.cfg.NegativeSpreadPolicy = NegativeSpreadDrop

	series, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:02Z", 1.1005, 1.1001),
		row(2, "2024-01-02T00:00:03Z", 1.1001, 1.1003),
	})
	suite.Require().NoError(err)

	suite.Equal(2, series.Len())
	suite.Equal(int64(1), stats.Dropped[types.DropReasonNegativeSpread])
	suite.Equal(int64(3), stats.NRawRows)
}

func (suite *NormalizerTestSuite) TestZeroSpreadIsKept() {
	series, _, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1000),
	})
	suite.Require().NoError(err)
	suite.Equal(1, series.Len())
	suite.Equal(0.0, series.At(0).Spread())
}

func (suite *NormalizerTestSuite) TestStrictSortedInputFails() {
	suite.cfg.StrictSortedInput = true

	_, stats, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:02Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:01Z", 1.1001, 1.1003),
	})
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeUnsortedInput, errors.GetCode(err))
	suite.True(stats.Reordered)
}

func (suite *NormalizerTestSuite) TestStrictSortedInputPassesOnSortedRows() {
	suite.cfg.StrictSortedInput = true

	series, _, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T00:00:01Z", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:02Z", 1.1001, 1.1003),
	})
	suite.Require().NoError(err)
	suite.Equal(2, series.Len())
}

func (suite *NormalizerTestSuite) TestMalformedTimestampFails() {
	_, _, err := suite.normalize([]RawRow{
		row(0, "02/01/2024 00:00:01", 1.1000, 1.1002),
	})
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeTimezone, errors.GetCode(err))
	suite.Contains(err.Error(), "row 0")
}

func (suite *NormalizerTestSuite) TestOffsetTimestampsNormalizeToUTC() {
	series, _, err := suite.normalize([]RawRow{
		row(0, "2024-01-02T01:00:00+01:00", 1.1000, 1.1002),
		row(1, "2024-01-02T00:00:00Z", 1.1000, 1.1002),
	})
	suite.Require().NoError(err)

	// Same instant in different offsets collapses to one dedup key
	suite.Equal(1, series.Len())
}

func (suite *NormalizerTestSuite) TestEmptyInput() {
	series, stats, err := suite.normalize(nil)
	suite.Require().NoError(err)
	suite.Equal(0, series.Len())
	suite.Equal(int64(0), stats.NRawRows)
}
