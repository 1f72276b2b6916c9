package ingest

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/tickbar/pkg/errors"
)

type ProgressLoggerTestSuite struct {
	suite.Suite
	path string
}

func TestProgressLoggerSuite(t *testing.T) {
	suite.Run(t, new(ProgressLoggerTestSuite))
}

func (suite *ProgressLoggerTestSuite) SetupTest() {
	suite.path = filepath.Join(suite.T().TempDir(), ProgressLogFile)
}

func (suite *ProgressLoggerTestSuite) readEvents() []ProgressEvent {
	file, err := os.Open(suite.path)
	suite.Require().NoError(err)
	defer file.Close()

	var events []ProgressEvent

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event ProgressEvent
		suite.Require().NoError(json.Unmarshal(scanner.Bytes(), &event))

		events = append(events, event)
	}

	suite.Require().NoError(scanner.Err())

	return events
}

func (suite *ProgressLoggerTestSuite) TestAppendsOneJSONObjectPerLine() {
	progress, err := NewProgressLogger(suite.path, "run-1", nil)
	suite.Require().NoError(err)
	defer progress.Close()

	suite.Require().NoError(progress.StageStart(StageNormalize))
	suite.Require().NoError(progress.StageComplete(StageNormalize, 120*time.Millisecond, map[string]int64{
		"raw_rows": 100,
	}))
	suite.Require().NoError(progress.StageStart(StageGapAnalysis))

	events := suite.readEvents()
	suite.Require().Len(events, 3)

	suite.Equal(EventStart, events[0].Event)
	suite.Equal(StageNormalize, events[0].Stage)
	suite.Equal("run-1", events[0].RunID)
	suite.False(events[0].Timestamp.IsZero())

	suite.Equal(EventComplete, events[1].Event)
	suite.Equal(int64(120), events[1].ElapsedMs)
	suite.Equal(int64(100), events[1].Counters["raw_rows"])

	suite.Equal(StageGapAnalysis, events[2].Stage)
}

func (suite *ProgressLoggerTestSuite) TestFailedEventCarriesErrorCode() {
	progress, err := NewProgressLogger(suite.path, "run-1", nil)
	suite.Require().NoError(err)
	defer progress.Close()

	suite.Require().NoError(progress.StageStart(StageGapAnalysis))
	suite.Require().NoError(progress.Failed(StageGapAnalysis, 50*time.Millisecond, errors.ErrCodeGapExcess))

	events := suite.readEvents()
	suite.Require().Len(events, 2)

	failed := events[1]
	suite.Equal(EventFailed, failed.Event)
	suite.Equal("GAP_EXCESS", failed.ErrorCode)
	suite.Equal(int64(50), failed.ElapsedMs)
}

func (suite *ProgressLoggerTestSuite) TestSinkReceivesEveryEvent() {
	var seen []ProgressEvent

	progress, err := NewProgressLogger(suite.path, "run-1", func(event ProgressEvent) {
		seen = append(seen, event)
	})
	suite.Require().NoError(err)
	defer progress.Close()

	suite.Require().NoError(progress.StageStart(StageNormalize))
	suite.Require().NoError(progress.StageComplete(StageNormalize, time.Millisecond, nil))

	suite.Require().Len(seen, 2)
	suite.Equal(EventStart, seen[0].Event)
	suite.Equal(EventComplete, seen[1].Event)
	suite.Equal("run-1", seen[0].RunID)
}

func (suite *ProgressLoggerTestSuite) TestCloseIsIdempotent() {
	progress, err := NewProgressLogger(suite.path, "run-1", nil)
	suite.Require().NoError(err)

	suite.Require().NoError(progress.Close())
	suite.Require().NoError(progress.Close())
}
