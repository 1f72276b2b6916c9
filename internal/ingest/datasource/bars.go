// Package datasource reads bar files written by a finished run back out of
// their Parquet form, for verification and downstream consumption.
package datasource

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// BarSource exposes one written bar file through a DuckDB read_parquet
// view.
type BarSource struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewBarSource opens the given Parquet bar file.
func NewBarSource(path string) (*BarSource, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, "failed to open DuckDB connection", err)
	}

	// squirrel does not support CREATE VIEW, raw SQL here
	_, err = db.Exec(fmt.Sprintf(`CREATE VIEW bars AS SELECT * FROM read_parquet('%s')`, path))
	if err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeIO, err, "failed to open bar file %s", path)
	}

	return &BarSource{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Columns returns the bar file's column names in file order. Callers use
// this to verify the fixed 18-column schema.
func (s *BarSource) Columns() ([]string, error) {
	rows, err := s.db.Query(`SELECT * FROM bars LIMIT 0`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, "failed to query bar columns", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, "failed to read bar columns", err)
	}

	return columns, nil
}

// Count returns the number of bars whose t_open_ns falls inside the
// optional bounds.
func (s *BarSource) Count(start optional.Option[int64], end optional.Option[int64]) (int, error) {
	query := s.sq.Select("COUNT(*)").From("bars")

	if start.IsSome() {
		query = query.Where(squirrel.GtOrEq{"t_open_ns": start.Unwrap()})
	}

	if end.IsSome() {
		query = query.Where(squirrel.LtOrEq{"t_open_ns": end.Unwrap()})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeIO, "failed to build count query", err)
	}

	var count int
	if err := s.db.QueryRow(sqlStr, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeIO, "failed to count bars", err)
	}

	return count, nil
}

// ReadAll iterates every bar in ascending t_open_ns order.
func (s *BarSource) ReadAll() func(yield func(types.Bar, error) bool) {
	return func(yield func(types.Bar, error) bool) {
		sqlStr, _, err := s.sq.Select(types.BarColumns...).
			From("bars").
			OrderBy("t_open_ns").
			ToSql()
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeIO, "failed to build bar query", err))

			return
		}

		rows, err := s.db.Query(sqlStr)
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeIO, "failed to query bars", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var bar types.Bar

			var firstID, lastID int64

			err := rows.Scan(
				&bar.Symbol,
				&bar.Frame,
				&bar.TOpenNs,
				&bar.TCloseNs,
				&bar.O,
				&bar.H,
				&bar.L,
				&bar.C,
				&bar.OBid,
				&bar.OAsk,
				&bar.CBid,
				&bar.CAsk,
				&bar.SpreadMean,
				&bar.NTicks,
				&bar.VSum,
				&firstID,
				&lastID,
				&bar.GapFlag,
			)
			if err != nil {
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeIO, "failed to scan bar", err))

				return
			}

			bar.TickFirstID = uint64(firstID)
			bar.TickLastID = uint64(lastID)

			if !yield(bar, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeIO, "failed to iterate bars", err))
		}
	}
}

// Close releases the database connection.
func (s *BarSource) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}
