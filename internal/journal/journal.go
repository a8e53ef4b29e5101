package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"microcap_portfolio/internal/models"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"
)

// Journal is an append-only SQLite record of every cycle and the orders it produced.
// The JSON state file stays the source of truth; the journal is history.
type Journal struct {
	db *sql.DB
}

// CycleRecord is what one run writes.
type CycleRecord struct {
	RunDate     string // YYYY-MM-DD in exchange time
	At          time.Time
	Capital     float64
	MTM         float64
	Cash        float64
	AssumeFills bool
	Warnings    []string
	Orders      []models.OrderSuggestion
	Fills       map[string]decimal.Decimal // order ID -> executed price
}

// OrderRow is a journaled order.
type OrderRow struct {
	RunID   int64
	RunDate string
	models.OrderSuggestion
	Filled    bool
	ExecPrice *decimal.Decimal
}

// RunRow summarizes one journaled cycle.
type RunRow struct {
	ID          int64
	RunDate     string
	At          time.Time
	Capital     float64
	MTM         float64
	Cash        float64
	AssumeFills bool
	Warnings    []string
	Orders      int
}

// Open creates or opens the journal at path with WAL mode enabled.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer per process
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_date TEXT NOT NULL,
			at TEXT NOT NULL,
			capital REAL NOT NULL,
			mtm REAL NOT NULL,
			cash REAL NOT NULL,
			assume_fills INTEGER NOT NULL,
			warnings TEXT NOT NULL
		);`, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			run_date TEXT NOT NULL,
			at TEXT NOT NULL,
			ticker TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			shares INTEGER NOT NULL,
			price_hint REAL,
			reason TEXT NOT NULL,
			exec_price TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_run_date ON orders(run_date);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	return &Journal{db: db}, nil
}

// RecordCycle stores the run and its orders in one transaction and returns the run ID.
func (j *Journal) RecordCycle(ctx context.Context, rec CycleRecord) (int64, error) {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return 0, err
	}
	if rec.Warnings == nil {
		warnings = []byte("[]")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (run_date, at, capital, mtm, cash, assume_fills, warnings) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.RunDate, rec.At.UTC().Format(time.RFC3339Nano), rec.Capital, rec.MTM, rec.Cash, rec.AssumeFills, string(warnings),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, o := range rec.Orders {
		var hint sql.NullFloat64
		if o.PriceHint != nil {
			hint = sql.NullFloat64{Float64: *o.PriceHint, Valid: true}
		}
		var exec sql.NullString
		if px, ok := rec.Fills[o.ID]; ok {
			exec = sql.NullString{String: px.String(), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO orders (id, run_id, run_date, at, ticker, side, type, shares, price_hint, reason, exec_price) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			o.ID, runID, rec.RunDate, o.Time.UTC().Format(time.RFC3339Nano), o.Ticker, string(o.Side), o.Type, o.Shares, hint, o.Reason, exec,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert order %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// OrdersForDate returns the orders journaled for a run date, oldest run first.
func (j *Journal) OrdersForDate(ctx context.Context, runDate string) ([]OrderRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, run_date, id, at, ticker, side, type, shares, price_hint, reason, exec_price
		FROM orders WHERE run_date = ? ORDER BY run_id ASC, rowid ASC`, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var r OrderRow
		var at, side string
		var hint sql.NullFloat64
		var exec sql.NullString
		if err := rows.Scan(&r.RunID, &r.RunDate, &r.ID, &at, &r.Ticker, &side, &r.Type, &r.Shares, &hint, &r.Reason, &exec); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		r.Side = models.Side(side)
		if r.Time, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("order %s: bad time %q: %w", r.ID, at, err)
		}
		if hint.Valid {
			r.PriceHint = models.Float(hint.Float64)
		}
		if exec.Valid {
			px, err := decimal.NewFromString(exec.String)
			if err != nil {
				return nil, fmt.Errorf("order %s: bad exec price: %w", r.ID, err)
			}
			r.Filled = true
			r.ExecPrice = &px
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// RecentRuns lists the latest runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.run_date, r.at, r.capital, r.mtm, r.cash, r.assume_fills, r.warnings,
		       (SELECT COUNT(*) FROM orders o WHERE o.run_id = r.id)
		FROM runs r ORDER BY r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var at, warnings string
		if err := rows.Scan(&r.ID, &r.RunDate, &at, &r.Capital, &r.MTM, &r.Cash, &r.AssumeFills, &warnings, &r.Orders); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("run %d: bad time %q: %w", r.ID, at, err)
		}
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return nil, fmt.Errorf("run %d: bad warnings: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
