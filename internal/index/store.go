package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/couchcryptid/grib-index-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
  id                INTEGER PRIMARY KEY,
  product           TEXT NOT NULL,
  file_path         TEXT NOT NULL,
  run_time_utc      TEXT NOT NULL,
  forecast_time_utc TEXT NOT NULL,
  lead_hours        INTEGER NOT NULL,
  var               TEXT NOT NULL,
  level_type        TEXT,
  level_value       REAL
);

-- Natural key. ifnull() folds NULL level fields into sentinel values so
-- re-indexing summary rows stays idempotent (bare NULLs never collide in a
-- SQLite unique index).
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_natural
  ON records(file_path, var, ifnull(level_type,''), ifnull(level_value,-1), forecast_time_utc);

CREATE INDEX IF NOT EXISTS idx_records_core
  ON records(product, var, forecast_time_utc);

CREATE INDEX IF NOT EXISTS idx_records_level
  ON records(var, level_type, level_value, forecast_time_utc);

CREATE INDEX IF NOT EXISTS idx_records_run
  ON records(var, product, run_time_utc);
`

// files is the optional spatial side table, one row per source file. It is
// created only when spatial indexing is enabled; a globally-covering corpus
// drops it as dead weight.
const spatialSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
  file_path TEXT PRIMARY KEY,
  product   TEXT NOT NULL,
  lat_min   REAL NOT NULL,
  lat_max   REAL NOT NULL,
  lon_min   REAL NOT NULL,
  lon_max   REAL NOT NULL,
  variables TEXT NOT NULL
);
`

// StoreOptions configures Open. The database path is always explicit; the
// store never consults process-wide state.
type StoreOptions struct {
	Path        string
	Spatial     bool
	Create      bool // create schema if missing (write path); read path demands an existing file
	BusyTimeout time.Duration
	BusyRetries int
	Logger      *slog.Logger
}

// Store is the persistent record index. Reads are concurrent; writes are
// expected to come from one batch indexer at a time, guarded by the busy
// timeout rather than application-level locking.
type Store struct {
	db          *sql.DB
	path        string
	spatial     bool
	busyRetries int
	logger      *slog.Logger
}

// Open opens (and for the write path, initializes) the SQLite index at
// opts.Path. A read-path open against a missing file fails with
// ErrIndexUnavailable so callers can rebuild and retry.
func Open(opts StoreOptions) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 8 * time.Second
	}
	if opts.BusyRetries <= 0 {
		opts.BusyRetries = 3
	}

	if !opts.Create && opts.Path != ":memory:" {
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrIndexUnavailable, opts.Path)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	if opts.Path == ":memory:" {
		// Each connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	pragmas := fmt.Sprintf(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = %d;
	`, opts.BusyTimeout.Milliseconds())
	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if opts.Create {
		if _, err := db.Exec(schemaSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		if opts.Spatial {
			if _, err := db.Exec(spatialSchemaSQL); err != nil {
				db.Close()
				return nil, fmt.Errorf("ensure spatial schema: %w", err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	return &Store{
		db:          db,
		path:        opts.Path,
		spatial:     opts.Spatial,
		busyRetries: opts.BusyRetries,
		logger:      opts.Logger,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Spatial reports whether the bounding-box side table is maintained.
func (s *Store) Spatial() bool { return s.spatial }

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// InsertRecords writes records with insert-or-ignore semantics and returns
// the number of new rows. Duplicate natural keys are silently skipped, which
// makes re-indexing the same file idempotent.
func (s *Store) InsertRecords(ctx context.Context, records []domain.Record) (int, error) {
	inserted := 0
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO records
			  (product, file_path, run_time_utc, forecast_time_utc, lead_hours, var, level_type, level_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		inserted = 0
		for _, r := range records {
			if r.ForecastTime.Before(r.RunTime) {
				return fmt.Errorf("record %s %s: forecast time before run time", r.FilePath, r.Variable)
			}
			res, err := stmt.ExecContext(ctx,
				strings.ToLower(r.Product),
				r.FilePath,
				fmtTime(r.RunTime),
				fmtTime(r.ForecastTime),
				r.LeadHours,
				r.Variable,
				nullString(r.LevelType),
				nullFloat(r.LevelValue),
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert records: %w", err)
	}
	return inserted, nil
}

// UpsertFileBounds maintains the spatial side table row for one source file.
// No-op when spatial indexing is off.
func (s *Store) UpsertFileBounds(ctx context.Context, meta domain.FileMeta, bounds domain.Region, variables []string) error {
	if !s.spatial {
		return nil
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files (file_path, product, lat_min, lat_max, lon_min, lon_max, variables)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_path) DO UPDATE SET
			  product = excluded.product,
			  lat_min = excluded.lat_min, lat_max = excluded.lat_max,
			  lon_min = excluded.lon_min, lon_max = excluded.lon_max,
			  variables = excluded.variables`,
			meta.Path, strings.ToLower(meta.Product),
			bounds.LatMin, bounds.LatMax,
			domain.NormalizeLon(bounds.LonMin), domain.NormalizeLonMax(bounds.LonMax),
			strings.Join(variables, ","),
		)
		return err
	})
}

// DeleteFile removes every record (and spatial row) belonging to a source
// file. An index refresh is delete-then-insert; rows are never mutated in
// place.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE file_path = ?`, path); err != nil {
			return err
		}
		if s.spatial {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE file_path = ?`, path); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query runs the planner-compiled predicate set and returns de-duplicated
// candidates per the requested grouping.
func (s *Store) Query(ctx context.Context, p domain.QueryParams) ([]domain.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	query, args := buildQuery(p, s.spatial)

	var out []domain.Record
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanRecords(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	out = domain.DedupeByKey(out)
	if p.GroupBy == domain.GroupByForecast {
		out = domain.LatestPerForecast(out)
	}
	return out, nil
}

// Nearest returns the single record for (variable, levelType) whose forecast
// time is closest to target, ties broken by the newest run. maxDelta <= 0
// disables the distance guard. ok is false when nothing matches.
func (s *Store) Nearest(ctx context.Context, target time.Time, variable, levelType string, maxDelta time.Duration) (domain.Record, bool, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT id, product, file_path, run_time_utc, forecast_time_utc, lead_hours, var, level_type, level_value,
		       ABS((julianday(forecast_time_utc) - julianday(?)) * 24.0) AS delta_hours
		FROM records
		WHERE var = ?`)
	args = append(args, fmtTime(target), variable)
	appendLevelType(&sb, &args, levelType)
	if maxDelta > 0 {
		sb.WriteString(` AND ABS((julianday(forecast_time_utc) - julianday(?)) * 24.0) <= ?`)
		args = append(args, fmtTime(target), maxDelta.Hours())
	}
	sb.WriteString(` ORDER BY delta_hours ASC, run_time_utc DESC LIMIT 1`)

	var rec domain.Record
	found := false
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, sb.String(), args...)
		var delta float64
		r, err := scanRecordRow(row, &delta)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("nearest record: %w", err)
	}
	return rec, found, nil
}

// LatestPerForecast returns, for every distinct forecast time in
// [start, end] (inclusive), the newest-run record for (variable, levelType),
// ordered by forecast time ascending.
func (s *Store) LatestPerForecast(ctx context.Context, start, end time.Time, variable, levelType string) ([]domain.Record, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		WITH ranked AS (
		  SELECT id, product, file_path, run_time_utc, forecast_time_utc, lead_hours, var, level_type, level_value,
		         ROW_NUMBER() OVER (
		           PARTITION BY var, level_type, forecast_time_utc
		           ORDER BY run_time_utc DESC
		         ) AS rn
		  FROM records
		  WHERE var = ?`)
	args = append(args, variable)
	appendLevelType(&sb, &args, levelType)
	sb.WriteString(`
		    AND forecast_time_utc >= ?
		    AND forecast_time_utc <= ?
		)
		SELECT id, product, file_path, run_time_utc, forecast_time_utc, lead_hours, var, level_type, level_value
		FROM ranked
		WHERE rn = 1
		ORDER BY forecast_time_utc ASC`)
	args = append(args, fmtTime(start), fmtTime(end))

	var out []domain.Record
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanRecords(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("latest per forecast: %w", err)
	}
	return out, nil
}

func appendLevelType(sb *strings.Builder, args *[]any, levelType string) {
	if levelType == "" {
		sb.WriteString(` AND level_type IS NULL`)
		return
	}
	sb.WriteString(` AND level_type = ?`)
	*args = append(*args, levelType)
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		var (
			r     domain.Record
			runS  string
			fcstS string
			lt    sql.NullString
			lv    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Product, &r.FilePath, &runS, &fcstS, &r.LeadHours, &r.Variable, &lt, &lv); err != nil {
			return nil, err
		}
		if err := fillRecordTimes(&r, runS, fcstS); err != nil {
			return nil, err
		}
		if lt.Valid {
			r.LevelType = lt.String
		}
		if lv.Valid {
			v := lv.Float64
			r.LevelValue = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecordRow(row *sql.Row, extra ...any) (domain.Record, error) {
	var (
		r     domain.Record
		runS  string
		fcstS string
		lt    sql.NullString
		lv    sql.NullFloat64
	)
	dest := []any{&r.ID, &r.Product, &r.FilePath, &runS, &fcstS, &r.LeadHours, &r.Variable, &lt, &lv}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Record{}, err
	}
	if err := fillRecordTimes(&r, runS, fcstS); err != nil {
		return domain.Record{}, err
	}
	if lt.Valid {
		r.LevelType = lt.String
	}
	if lv.Valid {
		v := lv.Float64
		r.LevelValue = &v
	}
	return r, nil
}

func fillRecordTimes(r *domain.Record, runS, fcstS string) error {
	run, err := parseTime(runS)
	if err != nil {
		return fmt.Errorf("stored run time %q: %w", runS, err)
	}
	fcst, err := parseTime(fcstS)
	if err != nil {
		return fmt.Errorf("stored forecast time %q: %w", fcstS, err)
	}
	r.RunTime = run
	r.ForecastTime = fcst
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// withRetry runs op, retrying a bounded number of times with exponential
// backoff when the database reports busy/locked. Anything else surfaces
// immediately. After the budget is exhausted the busy error is wrapped in
// ErrStoreBusy.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	backoff := 200 * time.Millisecond
	const maxBackoff = 2 * time.Second

	var err error
	for attempt := 0; attempt <= s.busyRetries; attempt++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == s.busyRetries {
			break
		}
		s.logger.Warn("store busy, retrying", "attempt", attempt+1, "backoff", backoff)
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreBusy, err)
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
