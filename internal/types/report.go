package types

import (
	"encoding/json"
	"time"
)

// Drop reasons recorded in the quality report.
const (
	DropReasonDuplicate      = "duplicate"
	DropReasonNegativeSpread = "negative_spread"
)

// SpreadStats summarizes ask-bid spreads over the normalized series.
type SpreadStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P95  float64 `json:"p95"`
}

// FrameStats is the per-frame slice of the quality report.
type FrameStats struct {
	Frame string `json:"frame"`
	NBars int64  `json:"n_bars"`
	// PartialTailTicks is the size of the dropped trailing block for
	// tick-count frames, always 0 for time frames.
	PartialTailTicks int64 `json:"partial_tail_ticks"`
}

// QualityReport aggregates normalization, gap, and bar statistics for one
// run. Pure data; serialized as quality_report.json.
type QualityReport struct {
	Symbol               string           `json:"symbol"`
	NRawRows             int64            `json:"n_raw_rows"`
	NNormalizedRows      int64            `json:"n_normalized_rows"`
	Drops                map[string]int64 `json:"drops"`
	InputReordered       bool             `json:"input_reordered"`
	Gaps                 []GapRecord      `json:"gaps"`
	FlaggedGapDurationNs int64            `json:"flagged_gap_duration_ns"`
	GapCoveragePercent   float64          `json:"gap_coverage_percent"`
	SpreadStats          SpreadStats      `json:"spread_stats"`
	Frames               []FrameStats     `json:"frames"`
}

// Manifest is the provenance record binding a run's artifacts to the exact
// configuration and versions that produced them. Downstream modules verify
// the per-file hashes and schema version before trusting any artifact.
type Manifest struct {
	RunID         string    `json:"run_id"`
	Seed          int64     `json:"seed"`
	ModuleVersion string    `json:"module_version"`
	SchemaVersion string    `json:"schema_version"`
	BarRulesID    string    `json:"bar_rules_id"`
	CreatedAt     time.Time `json:"created_at"`
	// Config is the fully resolved configuration snapshot
	Config json.RawMessage `json:"config"`
	// Files maps artifact file name to its sha256 hex digest
	Files map[string]string `json:"files"`
}
