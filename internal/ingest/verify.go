package ingest

import (
	"path/filepath"
	"strings"

	"github.com/rxtech-lab/tickbar/internal/ingest/datasource"
	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// VerifyRun checks a finished run the way a downstream consumer must:
// schema version compatibility, per-artifact content hashes, and the fixed
// 18-column schema of every bar file. Returns the verified artifact names.
func VerifyRun(manifestPath string) ([]string, error) {
	names, err := VerifyManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(manifestPath)

	for _, name := range names {
		if !strings.HasPrefix(name, "bars_") || !strings.HasSuffix(name, ".parquet") {
			continue
		}

		if err := verifyBarSchema(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}

	return names, nil
}

func verifyBarSchema(path string) error {
	source, err := datasource.NewBarSource(path)
	if err != nil {
		return err
	}
	defer source.Close()

	columns, err := source.Columns()
	if err != nil {
		return err
	}

	if len(columns) != len(types.BarColumns) {
		return errors.Newf(errors.ErrCodeIO,
			"bar file %s has %d columns, expected %d", path, len(columns), len(types.BarColumns))
	}

	for i, column := range columns {
		if column != types.BarColumns[i] {
			return errors.Newf(errors.ErrCodeIO,
				"bar file %s column %d is %q, expected %q", path, i, column, types.BarColumns[i])
		}
	}

	return nil
}
