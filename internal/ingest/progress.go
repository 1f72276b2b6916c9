package ingest

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// Progress event kinds.
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventFailed   = "failed"
)

// ProgressEvent is one line of the append-only progress log.
type ProgressEvent struct {
	Timestamp time.Time        `json:"ts"`
	RunID     string           `json:"run_id"`
	Stage     string           `json:"stage"`
	Event     string           `json:"event"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Counters  map[string]int64 `json:"counters,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
}

// ProgressSink receives every event in-process, in addition to the file.
// Used by the CLI to render a progress bar.
type ProgressSink func(event ProgressEvent)

// ProgressLogger appends structured events to progress.jsonl, one JSON
// object per line. Events are synced to disk as they are written so the
// audit trail survives an aborted run.
type ProgressLogger struct {
	mu    sync.Mutex
	file  *os.File
	runID string
	sink  ProgressSink
}

// NewProgressLogger opens (or creates) the progress log for appending.
func NewProgressLogger(path, runID string, sink ProgressSink) (*ProgressLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeIO, err, "failed to open progress log %s", path)
	}

	return &ProgressLogger{file: file, runID: runID, sink: sink}, nil
}

// StageStart records the beginning of a pipeline stage.
func (p *ProgressLogger) StageStart(stage string) error {
	return p.append(ProgressEvent{
		Stage: stage,
		Event: EventStart,
	})
}

// StageComplete records a finished stage with its counters.
func (p *ProgressLogger) StageComplete(stage string, elapsed time.Duration, counters map[string]int64) error {
	return p.append(ProgressEvent{
		Stage:     stage,
		Event:     EventComplete,
		ElapsedMs: elapsed.Milliseconds(),
		Counters:  counters,
	})
}

// Failed records the final event of an aborted run, carrying the error
// code that is about to propagate.
func (p *ProgressLogger) Failed(stage string, elapsed time.Duration, code errors.ErrorCode) error {
	return p.append(ProgressEvent{
		Stage:     stage,
		Event:     EventFailed,
		ElapsedMs: elapsed.Milliseconds(),
		ErrorCode: string(code),
	})
}

func (p *ProgressLogger) append(event ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.RunID = p.runID

	line, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to marshal progress event", err)
	}

	line = append(line, '\n')

	if _, err := p.file.Write(line); err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to append progress event", err)
	}

	// Flush every event; aborted runs must leave a complete trail
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to sync progress log", err)
	}

	if p.sink != nil {
		p.sink(event)
	}

	return nil
}

// Close closes the underlying file.
func (p *ProgressLogger) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil

	return err
}
