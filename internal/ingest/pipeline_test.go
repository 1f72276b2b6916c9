package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/tickbar/internal/ingest/datasource"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

const (
	runIDOne = "11111111-1111-1111-1111-111111111111"
	runIDTwo = "22222222-2222-2222-2222-222222222222"
)

type PipelineTestSuite struct {
	suite.Suite
	base time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (suite *PipelineTestSuite) SetupTest() {
	// Tuesday, far from any weekend window
	suite.base = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
}

// writeTicks writes a CSV with one tick per offset, constant quotes.
func (suite *PipelineTestSuite) writeTicks(dir string, offsets []time.Duration) string {
	var b strings.Builder

	b.WriteString("timestamp,bid,ask,volume\n")

	for i, offset := range offsets {
		fmt.Fprintf(&b, "%s,%.5f,%.5f,%d\n",
			suite.base.Add(offset).Format(time.RFC3339Nano),
			1.1000+float64(i%10)*0.0001,
			1.1002+float64(i%10)*0.0001,
			1,
		)
	}

	path := filepath.Join(dir, "ticks.csv")
	suite.Require().NoError(os.WriteFile(path, []byte(b.String()), 0o644))

	return path
}

func cadence(step time.Duration, count int, start time.Duration) []time.Duration {
	offsets := make([]time.Duration, count)
	for i := range offsets {
		offsets[i] = start + time.Duration(i)*step
	}

	return offsets
}

func (suite *PipelineTestSuite) config(dir, csvPath, runID string, frames ...FrameConfig) Config {
	return Config{
		Symbol:    "EURUSD",
		OutDir:    filepath.Join(dir, "out"),
		CSV:       &CSVInput{Path: csvPath},
		BarFrames: frames,
		RunID:     runID,
	}
}

func (suite *PipelineTestSuite) run(cfg Config) (*Result, error) {
	return NewPipeline(cfg, nil).Run(context.Background())
}

func (suite *PipelineTestSuite) readReport(path string) types.QualityReport {
	data, err := os.ReadFile(path)
	suite.Require().NoError(err)

	var report types.QualityReport
	suite.Require().NoError(json.Unmarshal(data, &report))

	return report
}

func (suite *PipelineTestSuite) readBars(path string) []types.Bar {
	source, err := datasource.NewBarSource(path)
	suite.Require().NoError(err)
	defer source.Close()

	var bars []types.Bar

	for bar, err := range source.ReadAll() {
		suite.Require().NoError(err)

		bars = append(bars, bar)
	}

	return bars
}

func (suite *PipelineTestSuite) countBars(path string) int {
	source, err := datasource.NewBarSource(path)
	suite.Require().NoError(err)
	defer source.Close()

	count, err := source.Count(optional.None[int64](), optional.None[int64]())
	suite.Require().NoError(err)

	return count
}

func (suite *PipelineTestSuite) readProgress(path string) []ProgressEvent {
	file, err := os.Open(path)
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

func (suite *PipelineTestSuite) TestRegularStream() {
	dir := suite.T().TempDir()

	// Two hours of 10s-spaced ticks
	csvPath := suite.writeTicks(dir, cadence(10*time.Second, 720, 0))
	cfg := suite.config(dir, csvPath, runIDOne,
		FrameConfig{Type: "time", Unit: "1m"},
		FrameConfig{Type: "time", Unit: "5m"},
	)

	result, err := suite.run(cfg)
	suite.Require().NoError(err)

	suite.Equal(runIDOne, result.RunID)
	suite.Equal(filepath.Join(cfg.OutDir, runIDOne), result.RunDir)
	suite.Equal(120, suite.countBars(result.FramePaths["1m"]))
	suite.Equal(24, suite.countBars(result.FramePaths["5m"]))

	// Every tick lands in exactly one bar per frame
	var total int64

	bars := suite.readBars(result.FramePaths["1m"])
	for _, bar := range bars {
		suite.Require().NoError(bar.Validate())
		suite.Equal(int64(6), bar.NTicks)
		suite.InDelta(6.0, bar.VSum, 1e-9)
		suite.Zero(bar.GapFlag)

		total += bar.NTicks
	}

	suite.Equal(int64(720), total)

	report := suite.readReport(result.QualityReportPath)
	suite.Equal(int64(720), report.NRawRows)
	suite.Equal(int64(720), report.NNormalizedRows)
	suite.Empty(report.Gaps)
	suite.Equal(100.0, report.GapCoveragePercent)
	suite.False(report.InputReordered)

	names, err := VerifyRun(result.ManifestPath)
	suite.Require().NoError(err)
	suite.Contains(names, "bars_1m.parquet")
	suite.Contains(names, "bars_5m.parquet")
	suite.Contains(names, QualityReportFile)

	events := suite.readProgress(result.ProgressLogPath)
	suite.Require().Len(events, 10)

	wantStages := []string{StageNormalize, StageGapAnalysis, StageBuildBars, StageQuality, StageManifest}
	for i, stage := range wantStages {
		suite.Equal(stage, events[2*i].Stage)
		suite.Equal(EventStart, events[2*i].Event)
		suite.Equal(EventComplete, events[2*i+1].Event)
	}
}

func (suite *PipelineTestSuite) TestNegativeSpreadAbortsRun() {
	dir := suite.T().TempDir()

	csvPath := filepath.Join(dir, "ticks.csv")
	content := "timestamp,bid,ask\n" +
		suite.base.Format(time.RFC3339Nano) + ",1.1000,1.1002\n" +
		suite.base.Add(time.Second).Format(time.RFC3339Nano) + ",1.1005,1.1001\n"
	suite.Require().NoError(os.WriteFile(csvPath, []byte(content), 0o644))

	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})

	_, err := suite.run(cfg)
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeNegativeSpread, errors.GetCode(err))

	runDir := filepath.Join(cfg.OutDir, runIDOne)

	// The aborted run leaves a trail but no manifest
	events := suite.readProgress(filepath.Join(runDir, ProgressLogFile))
	suite.Require().Len(events, 2)
	suite.Equal(EventFailed, events[1].Event)
	suite.Equal(StageNormalize, events[1].Stage)
	suite.Equal("NEGATIVE_SPREAD", events[1].ErrorCode)

	_, statErr := os.Stat(filepath.Join(runDir, ManifestFile))
	suite.True(os.IsNotExist(statErr))
}

func (suite *PipelineTestSuite) TestNegativeSpreadDropPolicyCompletes() {
	dir := suite.T().TempDir()

	csvPath := filepath.Join(dir, "ticks.csv")
	content := "timestamp,bid,ask\n" +
		suite.base.Format(time.RFC3339Nano) + ",1.1000,1.1002\n" +
		suite.base.Add(time.Second).Format(time.RFC3339Nano) + ",1.1005,1.1001\n" +
		suite.base.Add(2*time.Second).Format(time.RFC3339Nano) + ",1.1001,1.1003\n"
	suite.Require().NoError(os.WriteFile(csvPath, []byte(content), 0o644))

	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})
	cfg.NegativeSpreadPolicy = NegativeSpreadDrop

	result, err := suite.run(cfg)
	suite.Require().NoError(err)

	report := suite.readReport(result.QualityReportPath)
	suite.Equal(int64(3), report.NRawRows)
	suite.Equal(int64(2), report.NNormalizedRows)
	suite.Equal(int64(1), report.Drops[types.DropReasonNegativeSpread])
}

func (suite *PipelineTestSuite) TestTinyStreamWithOversizedCountFrames() {
	dir := suite.T().TempDir()

	csvPath := suite.writeTicks(dir, cadence(400*time.Millisecond, 6, 0))
	cfg := suite.config(dir, csvPath, runIDOne,
		FrameConfig{Type: "time", Unit: "1m"},
		FrameConfig{Type: "tick", Count: 100},
		FrameConfig{Type: "tick", Count: 1000},
	)

	result, err := suite.run(cfg)
	suite.Require().NoError(err)

	suite.Equal(1, suite.countBars(result.FramePaths["1m"]))
	suite.Equal(0, suite.countBars(result.FramePaths["100t"]))
	suite.Equal(0, suite.countBars(result.FramePaths["1000t"]))

	bars := suite.readBars(result.FramePaths["1m"])
	suite.Require().Len(bars, 1)
	suite.Equal(int64(6), bars[0].NTicks)

	report := suite.readReport(result.QualityReportPath)
	suite.Require().Len(report.Frames, 3)

	for _, frame := range report.Frames {
		if frame.Frame == "1m" {
			suite.Equal(int64(1), frame.NBars)
			suite.Equal(int64(0), frame.PartialTailTicks)
		} else {
			suite.Equal(int64(0), frame.NBars)
			suite.Equal(int64(6), frame.PartialTailTicks)
		}
	}

	// Empty bar files still carry the full schema
	_, err = VerifyRun(result.ManifestPath)
	suite.Require().NoError(err)
}

func (suite *PipelineTestSuite) TestGapFlagsExactlyOneBar() {
	dir := suite.T().TempDir()

	// 1s cadence with one 91s hole
	offsets := cadence(time.Second, 120, 0)
	offsets = append(offsets, cadence(time.Second, 120, 210*time.Second)...)

	csvPath := suite.writeTicks(dir, offsets)
	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})

	result, err := suite.run(cfg)
	suite.Require().NoError(err)

	report := suite.readReport(result.QualityReportPath)
	suite.Require().Len(report.Gaps, 1)
	suite.Equal(uint64(119), report.Gaps[0].AfterTickID)
	suite.Equal(int64(91*time.Second), report.Gaps[0].GapDurationNs)
	suite.True(report.Gaps[0].ExceedsThreshold)
	suite.Less(report.GapCoveragePercent, 100.0)

	bars := suite.readBars(result.FramePaths["1m"])
	suite.Require().Len(bars, 5)

	var flagged []int64

	for _, bar := range bars {
		if bar.GapFlag == 1 {
			flagged = append(flagged, bar.TOpenNs)
		}
	}

	// Only the window receiving the first tick after the gap is flagged
	suite.Require().Len(flagged, 1)
	suite.Equal(suite.base.Add(180*time.Second).UnixNano(), flagged[0])
}

func (suite *PipelineTestSuite) TestRepeatedRunsProduceIdenticalArtifacts() {
	dir := suite.T().TempDir()

	csvPath := suite.writeTicks(dir, cadence(10*time.Second, 360, 0))
	frames := []FrameConfig{
		{Type: "time", Unit: "1m"},
		{Type: "tick", Count: 50},
	}

	first, err := suite.run(suite.config(dir, csvPath, runIDOne, frames...))
	suite.Require().NoError(err)

	second, err := suite.run(suite.config(dir, csvPath, runIDTwo, frames...))
	suite.Require().NoError(err)

	firstManifest, err := ReadManifest(first.ManifestPath)
	suite.Require().NoError(err)

	secondManifest, err := ReadManifest(second.ManifestPath)
	suite.Require().NoError(err)

	// Same input and config, different run ids: byte-identical artifacts
	suite.Equal(firstManifest.Files, secondManifest.Files)
}

func (suite *PipelineTestSuite) TestExistingRunDirRejected() {
	dir := suite.T().TempDir()

	csvPath := suite.writeTicks(dir, cadence(time.Second, 5, 0))
	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})

	suite.Require().NoError(os.MkdirAll(filepath.Join(cfg.OutDir, runIDOne), 0o755))

	_, err := suite.run(cfg)
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeIO, errors.GetCode(err))
}

func (suite *PipelineTestSuite) TestStrictSortedInputAborts() {
	dir := suite.T().TempDir()

	csvPath := suite.writeTicks(dir, []time.Duration{
		2 * time.Second, 1 * time.Second, 3 * time.Second,
	})

	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})
	cfg.StrictSortedInput = true

	_, err := suite.run(cfg)
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeUnsortedInput, errors.GetCode(err))
}

func (suite *PipelineTestSuite) TestInvalidConfigFailsBeforeAnyOutput() {
	dir := suite.T().TempDir()

	cfg := suite.config(dir, filepath.Join(dir, "ticks.csv"), runIDOne)

	_, err := suite.run(cfg)
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeConfig, errors.GetCode(err))

	_, statErr := os.Stat(cfg.OutDir)
	suite.True(os.IsNotExist(statErr))
}

func (suite *PipelineTestSuite) TestDemoRun() {
	dir := suite.T().TempDir()

	cfg := Config{
		Symbol: "EURUSD",
		OutDir: filepath.Join(dir, "out"),
		Demo:   true,
		Seed:   7,
		RunID:  runIDOne,
		BarFrames: []FrameConfig{
			{Type: "time", Unit: "1m"},
			{Type: "tick", Count: 100},
		},
	}

	var events []ProgressEvent

	result, err := NewPipeline(cfg, nil, WithProgressSink(func(event ProgressEvent) {
		events = append(events, event)
	})).Run(context.Background())
	suite.Require().NoError(err)

	report := suite.readReport(result.QualityReportPath)
	suite.Equal(int64(5000), report.NRawRows)
	suite.Equal(100.0, report.GapCoveragePercent)

	suite.Positive(suite.countBars(result.FramePaths["1m"]))
	suite.Equal(50, suite.countBars(result.FramePaths["100t"]))

	_, err = VerifyRun(result.ManifestPath)
	suite.Require().NoError(err)

	suite.Len(events, 10)
}

func (suite *PipelineTestSuite) TestCancelledContextAborts() {
	dir := suite.T().TempDir()

	csvPath := suite.writeTicks(dir, cadence(time.Second, 5, 0))
	cfg := suite.config(dir, csvPath, runIDOne, FrameConfig{Type: "time", Unit: "1m"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(cfg, nil).Run(ctx)
	suite.Require().Error(err)
}
