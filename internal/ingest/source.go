package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// RawRow is one undecoded tick observation in arrival order. Index is the
// 0-based data row position (header excluded) used in error detail.
type RawRow struct {
	Index     int
	Timestamp string
	Bid       float64
	Ask       float64
	Volume    float64
	HasVolume bool
}

// RowSource streams raw rows to the normalizer. Implementations must call
// fn once per row in arrival order and stop on the first error.
type RowSource interface {
	Each(fn func(RawRow) error) error
}

// Required input columns. volume is optional.
var requiredColumns = []string{"timestamp", "bid", "ask"}

// csvTickRow is the gocsv row mapping for raw tick files.
type csvTickRow struct {
	Timestamp string   `csv:"timestamp"`
	Bid       float64  `csv:"bid"`
	Ask       float64  `csv:"ask"`
	Volume    *float64 `csv:"volume"`
}

// CSVSource streams a delimited tick file. The header is checked for the
// required columns before any row is decoded, so a missing column fails the
// run before output exists.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source for the given file path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Each implements RowSource.
func (s *CSVSource) Each(fn func(RawRow) error) error {
	file, err := os.Open(s.path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeIO, err, "failed to open csv %s", s.path)
	}
	defer file.Close()

	if err := checkHeader(file); err != nil {
		return err
	}

	// Rewind so gocsv sees the header again
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to rewind csv", err)
	}

	index := 0

	err = gocsv.UnmarshalToCallback(file, func(row csvTickRow) error {
		raw := RawRow{
			Index:     index,
			Timestamp: row.Timestamp,
			Bid:       row.Bid,
			Ask:       row.Ask,
		}
		if row.Volume != nil {
			raw.Volume = *row.Volume
			raw.HasVolume = true
		}

		index++

		return fn(raw)
	})
	if err != nil {
		// Callback errors carry their own code; decode failures are I/O
		if errors.GetCode(err) != errors.ErrCodeUnknown {
			return err
		}

		return errors.Wrapf(errors.ErrCodeIO, err, "failed to decode csv %s", s.path)
	}

	return nil
}

func checkHeader(file *os.File) error {
	header, err := csv.NewReader(file).Read()
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to read csv header", err)
	}

	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[strings.TrimSpace(strings.ToLower(name))] = true
	}

	var missing []string

	for _, name := range requiredColumns {
		if !present[name] {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return errors.Newf(errors.ErrCodeMissingColumn, "missing required columns: %s", strings.Join(missing, ", "))
	}

	return nil
}
