package ingest

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

var errTestStop = stderrors.New("stop")

type DemoSourceTestSuite struct {
	suite.Suite
	config DemoConfig
}

func TestDemoSourceSuite(t *testing.T) {
	suite.Run(t, new(DemoSourceTestSuite))
}

func (suite *DemoSourceTestSuite) SetupTest() {
	suite.config = DefaultDemoConfig()
	suite.config.Count = 200
}

func (suite *DemoSourceTestSuite) collect(seed int64) []RawRow {
	var rows []RawRow

	err := NewDemoSourceWithConfig(seed, suite.config).Each(func(row RawRow) error {
		rows = append(rows, row)

		return nil
	})
	suite.Require().NoError(err)

	return rows
}

func (suite *DemoSourceTestSuite) TestSameSeedSameStream() {
	first := suite.collect(42)
	second := suite.collect(42)

	suite.Equal(first, second)
}

func (suite *DemoSourceTestSuite) TestDifferentSeedDifferentStream() {
	suite.NotEqual(suite.collect(42), suite.collect(43))
}

func (suite *DemoSourceTestSuite) TestStreamShape() {
	rows := suite.collect(42)
	suite.Require().Len(rows, suite.config.Count)

	prev := time.Time{}

	for i, row := range rows {
		suite.Equal(i, row.Index)
		suite.Greater(row.Ask, row.Bid, "row %d", i)

		ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
		suite.Require().NoError(err, "row %d", i)

		if i > 0 {
			suite.True(ts.After(prev), "row %d arrives after row %d", i, i-1)

			interval := ts.Sub(prev)
			suite.GreaterOrEqual(interval, suite.config.IntervalMean/2)
			suite.LessOrEqual(interval, suite.config.IntervalMean*3/2)
		}

		prev = ts
	}

	suite.Equal(suite.config.StartTime.Format(time.RFC3339Nano), rows[0].Timestamp)
}

func (suite *DemoSourceTestSuite) TestPricesStayNearInitialMid() {
	rows := suite.collect(42)

	for i, row := range rows {
		mid := (row.Bid + row.Ask) / 2
		suite.InDelta(suite.config.InitialMid, mid, 0.05, "row %d", i)
	}
}

func (suite *DemoSourceTestSuite) TestCallbackErrorStopsGeneration() {
	calls := 0

	err := NewDemoSourceWithConfig(42, suite.config).Each(func(RawRow) error {
		calls++
		if calls == 3 {
			return errTestStop
		}

		return nil
	})
	suite.Require().ErrorIs(err, errTestStop)
	suite.Equal(3, calls)
}
