package writer

import "github.com/rxtech-lab/tickbar/internal/types"

// BarWriter persists one frame's bars as a columnar file.
type BarWriter interface {
	// Initialize sets up the writer's backing store.
	Initialize() error
	// WriteBar buffers a single bar.
	WriteBar(bar types.Bar) error
	// Finalize flushes everything and returns the output path.
	Finalize() (string, error)
	// Close releases the writer's resources.
	Close() error
}
