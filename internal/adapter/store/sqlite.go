// Package store persists simulation results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/metrics"
)

// Run is one stored simulation run.
type Run struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Seed      int64           `json:"seed"`
	Flights   int             `json:"flights"`
	Ticks     int             `json:"ticks"`
	Done      bool            `json:"done"`
	Batch     string          `json:"batch,omitempty"`
	Iteration int             `json:"iteration"`
	Totals    metrics.Totals  `json:"totals"`
	Summary   metrics.Summary `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// TickTotals is a sample of the run totals after one tick.
type TickTotals struct {
	Tick   int            `json:"tick"`
	Totals metrics.Totals `json:"totals"`
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	Method string
	Batch  string
	Limit  int
}

// SQLiteRunStore stores runs, their per-flight results and tick samples.
// It is safe for concurrent use.
type SQLiteRunStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteRunStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	// One writer at a time; batch workers queue on the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run db: %w", err)
	}
	return &SQLiteRunStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), // #nosec G404 -- id entropy only
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			method     TEXT NOT NULL,
			seed       INTEGER NOT NULL,
			flights    INTEGER NOT NULL,
			ticks      INTEGER NOT NULL,
			done       INTEGER NOT NULL,
			batch      TEXT NOT NULL DEFAULT '',
			iteration  INTEGER NOT NULL DEFAULT 0,
			totals     TEXT NOT NULL,
			summary    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_batch ON runs (batch, iteration);

		CREATE TABLE IF NOT EXISTS flight_results (
			run_id     TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
			flight     INTEGER NOT NULL,
			behavior   TEXT NOT NULL,
			arrived    INTEGER NOT NULL,
			deal_value REAL NOT NULL,
			counters   TEXT NOT NULL,
			PRIMARY KEY (run_id, flight)
		);

		CREATE TABLE IF NOT EXISTS tick_totals (
			run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
			tick   INTEGER NOT NULL,
			totals TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// NewID returns a fresh sortable run id.
func (s *SQLiteRunStore) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := time.Now()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// SaveRun stores run with its flights and tick samples in one transaction.
// An empty run.ID is filled in.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *Run, flights []metrics.FlightResult, series []TickTotals) (err error) {
	if run.ID == "" {
		run.ID = s.NewID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, method, seed, flights, ticks, done, batch, iteration, totals, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Method, run.Seed, run.Flights, run.Ticks, run.Done, run.Batch, run.Iteration,
		string(totals), string(summary), run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	fstmt, err := tx.PrepareContext(ctx,
		"INSERT INTO flight_results (run_id, flight, behavior, arrived, deal_value, counters) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare flight insert: %w", err)
	}
	defer fstmt.Close()
	for _, f := range flights {
		counters, err := json.Marshal(f.Counters)
		if err != nil {
			return fmt.Errorf("marshal counters: %w", err)
		}
		if _, err := fstmt.ExecContext(ctx, run.ID, int(f.Flight), string(f.Behavior), f.Arrived, f.Deal, string(counters)); err != nil {
			return fmt.Errorf("insert %s: %w", f.Flight, err)
		}
	}

	tstmt, err := tx.PrepareContext(ctx, "INSERT INTO tick_totals (run_id, tick, totals) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare tick insert: %w", err)
	}
	defer tstmt.Close()
	for _, tt := range series {
		data, err := json.Marshal(tt.Totals)
		if err != nil {
			return fmt.Errorf("marshal tick totals: %w", err)
		}
		if _, err := tstmt.ExecContext(ctx, run.ID, tt.Tick, string(data)); err != nil {
			return fmt.Errorf("insert tick %d: %w", tt.Tick, err)
		}
	}

	return tx.Commit()
}

const runColumns = "id, method, seed, flights, ticks, done, batch, iteration, totals, summary, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                        Run
		totals, summary, created string
	)
	if err := row.Scan(&r.ID, &r.Method, &r.Seed, &r.Flights, &r.Ticks, &r.Done, &r.Batch, &r.Iteration,
		&totals, &summary, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(totals), &r.Totals); err != nil {
		return nil, fmt.Errorf("unmarshal totals: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.CreatedAt = t
	return &r, nil
}

// GetRun returns the run with id or domain.ErrRunNotFound.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteRunStore.GetRun", domain.ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, f ListFilter) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1 = 1"
	var args []any
	if f.Method != "" {
		query += " AND method = ?"
		args = append(args, f.Method)
	}
	if f.Batch != "" {
		query += " AND batch = ?"
		args = append(args, f.Batch)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FlightResults returns the per-flight indicators of a run in flight order.
func (s *SQLiteRunStore) FlightResults(ctx context.Context, runID string) ([]metrics.FlightResult, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT flight, behavior, arrived, deal_value, counters FROM flight_results WHERE run_id = ? ORDER BY flight", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metrics.FlightResult
	for rows.Next() {
		var (
			fr       metrics.FlightResult
			id       int
			behavior string
			counters string
		)
		if err := rows.Scan(&id, &behavior, &fr.Arrived, &fr.Deal, &counters); err != nil {
			return nil, err
		}
		fr.Flight = domain.FlightID(id)
		fr.Behavior = domain.Behavior(behavior)
		if err := json.Unmarshal([]byte(counters), &fr.Counters); err != nil {
			return nil, fmt.Errorf("unmarshal counters: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// Series returns the tick samples of a run in tick order.
func (s *SQLiteRunStore) Series(ctx context.Context, runID string) ([]TickTotals, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT tick, totals FROM tick_totals WHERE run_id = ? ORDER BY tick", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickTotals
	for rows.Next() {
		var (
			tt   TickTotals
			data string
		)
		if err := rows.Scan(&tt.Tick, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &tt.Totals); err != nil {
			return nil, fmt.Errorf("unmarshal tick totals: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("SQLiteRunStore.DeleteRun", domain.ErrRunNotFound, id)
	}
	return nil
}

func (s *SQLiteRunStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewDomainError("SQLiteRunStore", domain.ErrRunNotFound, id)
	}
	return err
}
