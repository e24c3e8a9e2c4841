package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/temperature"
)

// SQLiteRecorder mirrors decision rows into a queryable table.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(path string, log *applog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the HTTP history endpoint read while a cycle writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("sqlite audit opened: %s", path)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id  TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			price     REAL,
			threshold REAL,
			hours     REAL,
			action    TEXT NOT NULL,
			code      INTEGER NOT NULL,
			temp_in   REAL,
			temp_ga   REAL,
			temp_out  REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(timestamp)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, row Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO decisions
		(cycle_id, timestamp, price, threshold, hours, action, code, temp_in, temp_ga, temp_out)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		row.CycleID, row.Time.Unix(),
		nullFloat(row.Price), nullFloat(row.Threshold), row.Hours,
		row.Action, row.Code,
		nullReading(row.Inside), nullReading(row.Garage), nullReading(row.Outside),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Recent returns up to n rows, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, n int) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
		cycle_id, timestamp, price, threshold, hours, action, code, temp_in, temp_ga, temp_out
		FROM decisions ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row                 Row
			ts                  int64
			price, threshold    sql.NullFloat64
			in, garage, outside sql.NullFloat64
		)
		if err := rows.Scan(&row.CycleID, &ts, &price, &threshold, &row.Hours, &row.Action, &row.Code,
			&in, &garage, &outside); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		row.Time = time.Unix(ts, 0).UTC()
		row.Price = math.NaN()
		if price.Valid {
			row.Price = price.Float64
		}
		row.Threshold = math.Inf(1)
		if threshold.Valid {
			row.Threshold = threshold.Float64
		}
		row.Inside = reading(in)
		row.Garage = reading(garage)
		row.Outside = reading(outside)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error { return r.db.Close() }

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullReading(r temperature.Reading) sql.NullFloat64 {
	if !r.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r.Value, Valid: true}
}

func reading(v sql.NullFloat64) temperature.Reading {
	if !v.Valid {
		return temperature.Reading{}
	}
	return temperature.Celsius(v.Float64)
}
