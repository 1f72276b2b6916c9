package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/tickbar/internal/ingest/writer"
	"github.com/rxtech-lab/tickbar/internal/logger"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// Artifact file names inside a run directory.
const (
	QualityReportFile = "quality_report.json"
	ManifestFile      = "manifest.json"
	ProgressLogFile   = "progress.jsonl"
	lockFile          = ".lock"
)

// Pipeline stage names as they appear in the progress log.
const (
	StageNormalize   = "normalize"
	StageGapAnalysis = "gap_analysis"
	StageBuildBars   = "build_bars"
	StageQuality     = "quality_report"
	StageManifest    = "manifest"
)

// Result names every artifact of a successful run. On error, callers must
// treat the whole run directory as untrusted.
type Result struct {
	RunID             string
	RunDir            string
	FramePaths        map[string]string
	QualityReportPath string
	ManifestPath      string
	ProgressLogPath   string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProgressSink forwards every progress event to sink in addition to
// the progress log file.
func WithProgressSink(sink ProgressSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// Pipeline is one batch tick-to-bar run. It owns its run directory
// exclusively from acquisition until completion or failure.
type Pipeline struct {
	cfg  Config
	log  *logger.Logger
	sink ProgressSink
}

// NewPipeline builds a pipeline for the given config. A nil logger falls
// back to a no-op logger.
func NewPipeline(cfg Config, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.NewNopLogger()
	}

	pipeline := &Pipeline{cfg: cfg, log: log}

	for _, opt := range opts {
		opt(pipeline)
	}

	return pipeline
}

// Run executes the full pipeline: normalize, gap analysis, per-frame bar
// building, quality report, manifest. Configuration and schema errors fail
// before anything is written; once the run directory exists, every abort
// appends a final failed progress event before the error propagates.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	// Fail fast on config problems, before any I/O
	p.cfg.ApplyDefaults()

	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	specs, err := p.cfg.BarSpecs()
	if err != nil {
		return nil, err
	}

	runID := p.cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	runDir, release, err := acquireRunDir(p.cfg.OutDir, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	progress, err := NewProgressLogger(filepath.Join(runDir, ProgressLogFile), runID, p.sink)
	if err != nil {
		return nil, err
	}
	defer progress.Close()

	p.log.Info("run started",
		zap.String("run_id", runID),
		zap.String("run_dir", runDir),
		zap.String("symbol", p.cfg.Symbol),
	)

	runStage := func(stage string, fn func() (map[string]int64, error)) error {
		if err := progress.StageStart(stage); err != nil {
			return err
		}

		started := time.Now()

		counters, err := fn()
		if err != nil {
			// The trail must show the abort even though the error
			// propagates; a logging failure here cannot mask it.
			_ = progress.Failed(stage, time.Since(started), errors.GetCode(err))

			return err
		}

		return progress.StageComplete(stage, time.Since(started), counters)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, "run aborted before start", err)
	}

	// Normalize
	var series *types.TickSeries

	var normStats *NormalizeStats

	err = runStage(StageNormalize, func() (map[string]int64, error) {
		var source RowSource
		if p.cfg.Demo {
			source = NewDemoSource(p.cfg.Seed)
		} else {
			source = NewCSVSource(p.cfg.CSV.Path)
		}

		var err error

		series, normStats, err = NewNormalizer(p.cfg, p.log).Normalize(source)
		if err != nil {
			return nil, err
		}

		return map[string]int64{
			"raw_rows":                normStats.NRawRows,
			"normalized_rows":         int64(series.Len()),
			"dropped_duplicates":      normStats.Dropped[types.DropReasonDuplicate],
			"dropped_negative_spread": normStats.Dropped[types.DropReasonNegativeSpread],
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// Gap analysis
	var gaps *GapAnalysis

	err = runStage(StageGapAnalysis, func() (map[string]int64, error) {
		var err error

		gaps, err = NewGapAnalyzer(p.cfg, p.log).Analyze(series)
		if err != nil {
			return nil, err
		}

		return map[string]int64{
			"gap_records":     int64(len(gaps.Records)),
			"flagged_gap_ns":  gaps.FlaggedGapDurationNs,
			"coverage_x10000": int64(gaps.CoveragePercent * 100),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// Bar building: the series is immutable now, frames run in parallel
	frames := make([]*FrameResult, len(specs))
	framePaths := make(map[string]string, len(specs))

	err = runStage(StageBuildBars, func() (map[string]int64, error) {
		builder := NewBarBuilder(p.cfg)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)

		for i, spec := range specs {
			wg.Add(1)

			go func(i int, spec types.BarSpec) {
				defer wg.Done()

				result, path, err := p.buildFrame(builder, series, spec, gaps.GapStartTickIDs, runDir)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					if firstErr == nil {
						firstErr = err
					}

					return
				}

				frames[i] = result
				framePaths[spec.Frame()] = path
			}(i, spec)
		}

		wg.Wait()

		if firstErr != nil {
			return nil, firstErr
		}

		counters := make(map[string]int64, len(frames))
		for _, frame := range frames {
			counters["bars_"+frame.Spec.Frame()] = int64(len(frame.Bars))
		}

		return counters, nil
	})
	if err != nil {
		return nil, err
	}

	// Quality report
	qualityPath := filepath.Join(runDir, QualityReportFile)

	err = runStage(StageQuality, func() (map[string]int64, error) {
		report := NewQualityReporter(p.cfg).Build(normStats, series, gaps, frames)
		if err := WriteQualityReport(qualityPath, report); err != nil {
			return nil, err
		}

		return map[string]int64{"frames": int64(len(report.Frames))}, nil
	})
	if err != nil {
		return nil, err
	}

	// Manifest
	manifestPath := filepath.Join(runDir, ManifestFile)

	err = runStage(StageManifest, func() (map[string]int64, error) {
		artifacts := map[string]string{
			QualityReportFile: qualityPath,
		}
		for frame, path := range framePaths {
			artifacts[barFileName(frame)] = path
		}

		manifest, err := NewManifestWriter(runID, p.cfg.Seed).Build(p.cfg, artifacts, time.Now())
		if err != nil {
			return nil, err
		}

		if err := WriteManifest(manifestPath, manifest); err != nil {
			return nil, err
		}

		return map[string]int64{"files": int64(len(manifest.Files))}, nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("frames", len(framePaths)),
	)

	return &Result{
		RunID:             runID,
		RunDir:            runDir,
		FramePaths:        framePaths,
		QualityReportPath: qualityPath,
		ManifestPath:      manifestPath,
		ProgressLogPath:   filepath.Join(runDir, ProgressLogFile),
	}, nil
}

// buildFrame aggregates one frame and writes its bar file. A file is
// written even for frames that produced zero bars, so every configured
// frame has an artifact with the fixed schema.
func (p *Pipeline) buildFrame(builder *BarBuilder, series *types.TickSeries, spec types.BarSpec, gapStarts map[uint64]bool, runDir string) (*FrameResult, string, error) {
	result, err := builder.Build(series, spec, gapStarts)
	if err != nil {
		return nil, "", err
	}

	barWriter := writer.NewDuckDBWriter(filepath.Join(runDir, barFileName(spec.Frame())))
	defer barWriter.Close()

	if err := barWriter.Initialize(); err != nil {
		return nil, "", err
	}

	for _, bar := range result.Bars {
		if err := barWriter.WriteBar(bar); err != nil {
			return nil, "", err
		}
	}

	path, err := barWriter.Finalize()
	if err != nil {
		return nil, "", err
	}

	return result, path, nil
}

// barFileName returns the artifact name for a frame's bar file.
func barFileName(frame string) string {
	return fmt.Sprintf("bars_%s.parquet", frame)
}

// acquireRunDir creates the per-run directory and takes the exclusive
// lock. Run directories are append-only: an existing directory for the
// same run id fails instead of being reused.
func acquireRunDir(outDir, runID string) (string, func(), error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", nil, errors.Wrapf(errors.ErrCodeIO, err, "failed to create output directory %s", outDir)
	}

	runDir := filepath.Join(outDir, runID)

	if err := os.Mkdir(runDir, 0o755); err != nil {
		return "", nil, errors.Wrapf(errors.ErrCodeIO, err, "run directory %s already exists or cannot be created", runDir)
	}

	lockPath := filepath.Join(runDir, lockFile)

	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", nil, errors.Wrapf(errors.ErrCodeIO, err, "failed to acquire run lock %s", lockPath)
	}

	release := func() {
		lock.Close()
		os.Remove(lockPath)
	}

	return runDir, release, nil
}
