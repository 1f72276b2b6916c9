package writer

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// DuckDBWriter implements BarWriter on an in-memory DuckDB table that is
// exported to a Parquet file on Finalize. Bars accumulate inside one
// transaction so a failed run leaves no partial file behind.
type DuckDBWriter struct {
	db         *sql.DB
	tx         *sql.Tx
	stmt       *sql.Stmt
	sq         squirrel.StatementBuilderType
	outputPath string
}

// NewDuckDBWriter creates a writer that will export to outputPath.
func NewDuckDBWriter(outputPath string) *DuckDBWriter {
	return &DuckDBWriter{
		outputPath: outputPath,
		sq:         squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// Initialize opens the DuckDB connection, creates the bar table with the
// fixed 18-column schema, begins a transaction, and prepares the insert.
func (w *DuckDBWriter) Initialize() (err error) {
	w.db, err = sql.Open("duckdb", ":memory:")
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to open DuckDB connection", err)
	}

	_, err = w.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT,
			frame TEXT,
			t_open_ns BIGINT,
			t_close_ns BIGINT,
			o DOUBLE,
			h DOUBLE,
			l DOUBLE,
			c DOUBLE,
			o_bid DOUBLE,
			o_ask DOUBLE,
			c_bid DOUBLE,
			c_ask DOUBLE,
			spread_mean DOUBLE,
			n_ticks BIGINT,
			v_sum DOUBLE,
			tick_first_id BIGINT,
			tick_last_id BIGINT,
			gap_flag INTEGER
		)
	`)
	if err != nil {
		w.db.Close()

		return errors.Wrap(errors.ErrCodeIO, "failed to create bar table", err)
	}

	w.tx, err = w.db.Begin()
	if err != nil {
		w.db.Close()

		return errors.Wrap(errors.ErrCodeIO, "failed to begin transaction", err)
	}

	insertSQL, _, err := w.sq.Insert("bars").
		Columns(types.BarColumns...).
		Values(placeholderArgs(len(types.BarColumns))...).
		ToSql()
	if err != nil {
		w.tx.Rollback()
		w.db.Close()

		return errors.Wrap(errors.ErrCodeIO, "failed to build insert statement", err)
	}

	w.stmt, err = w.tx.Prepare(insertSQL)
	if err != nil {
		w.tx.Rollback()
		w.db.Close()

		return errors.Wrap(errors.ErrCodeIO, "failed to prepare insert statement", err)
	}

	return nil
}

// WriteBar buffers a single bar inside the open transaction.
func (w *DuckDBWriter) WriteBar(bar types.Bar) error {
	if w.stmt == nil {
		return errors.New(errors.ErrCodeIO, "writer not initialized")
	}

	_, err := w.stmt.Exec(
		bar.Symbol,
		bar.Frame,
		bar.TOpenNs,
		bar.TCloseNs,
		bar.O,
		bar.H,
		bar.L,
		bar.C,
		bar.OBid,
		bar.OAsk,
		bar.CBid,
		bar.CAsk,
		bar.SpreadMean,
		bar.NTicks,
		bar.VSum,
		int64(bar.TickFirstID),
		int64(bar.TickLastID),
		bar.GapFlag,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to insert bar", err)
	}

	return nil
}

// Finalize commits the transaction and exports the bars to Parquet in
// ascending t_open_ns order.
func (w *DuckDBWriter) Finalize() (string, error) {
	if w.tx == nil {
		return "", errors.New(errors.ErrCodeIO, "writer not initialized or transaction is nil")
	}

	if err := w.tx.Commit(); err != nil {
		w.tx.Rollback()

		return "", errors.Wrap(errors.ErrCodeIO, "failed to commit bars", err)
	}

	w.tx = nil

	_, err := w.db.Exec(fmt.Sprintf(
		`COPY (SELECT * FROM bars ORDER BY t_open_ns) TO '%s' (FORMAT PARQUET)`,
		w.outputPath))
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeIO, err, "failed to export bars to %s", w.outputPath)
	}

	return w.outputPath, nil
}

// Close cleans up the statement, any still-open transaction, and the
// database connection.
func (w *DuckDBWriter) Close() error {
	var closeErrors []string

	if w.stmt != nil {
		if err := w.stmt.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Sprintf("failed to close statement: %v", err))
		}

		w.stmt = nil
	}

	// Roll back if Finalize was never reached
	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Sprintf("failed to close db connection: %v", err))
		}

		w.db = nil
	}

	if len(closeErrors) > 0 {
		return errors.Newf(errors.ErrCodeIO, "errors occurred during close: %s", strings.Join(closeErrors, "; "))
	}

	return nil
}

func placeholderArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = squirrel.Expr("?")
	}

	return args
}
