// Package ledger keeps a sqlite record of every run and the outcome of each
// of its tasks, so repeated splits of a fleet of bags can be audited.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger is an open run database.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: closing it would close l.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (l *Ledger) Version() (uint, error) {
	var version uint
	err := l.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&version)
	return version, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Run is one row of the runs table.
type Run struct {
	ID          string
	Bag         string
	OutputDir   string
	Started     time.Time
	Finished    time.Time
	Status      string
	Error       string
	Images      int
	Pointclouds int
	Misc        int
	Ignored     int
}

// Task is one row of the tasks table.
type Task struct {
	Pipeline string
	Task     string
	Status   string
	Error    string
	Started  time.Time
	Finished time.Time
	Duration time.Duration
}

// Record writes a finished run, its tasks and its warnings in one
// transaction.
func (l *Ledger) Record(ctx context.Context, r *pipeline.Report) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errText := ""
	if err := r.Err(); err != nil {
		errText = err.Error()
	}
	sel := r.Selection
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, bag, output_dir, started_at, finished_at, status, error, images, pointclouds, misc, ignored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Bag, r.OutputDir, formatTime(r.Started), formatTime(r.Finished), r.Status(), errText,
		len(sel.Images), len(sel.Pointclouds), len(sel.Misc), len(sel.Ignored))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (run_id, pipeline, task, status, error, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range r.Records() {
		taskErr := ""
		if rec.Err != nil {
			taskErr = rec.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, rec.Graph, rec.Task, rec.Status.String(), taskErr,
			formatTime(rec.Started), formatTime(rec.Finished), rec.Duration().Milliseconds()); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", rec.Task, err)
		}
	}

	for i, w := range r.Warnings() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_warnings (run_id, seq, message) VALUES (?, ?, ?)`, r.RunID, i, w); err != nil {
			return fmt.Errorf("failed to insert warning: %w", err)
		}
	}

	return tx.Commit()
}

// Runs returns up to limit runs, most recent first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, bag, output_dir, started_at, finished_at, status, error, images, pointclouds, misc, ignored
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Bag, &r.OutputDir, &started, &finished, &r.Status, &r.Error,
			&r.Images, &r.Pointclouds, &r.Misc, &r.Ignored); err != nil {
			return nil, err
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Tasks returns the task rows of a run in insertion order.
func (l *Ledger) Tasks(ctx context.Context, runID string) ([]Task, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT pipeline, task, status, error, started_at, finished_at, duration_ms
		FROM tasks WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			t                 Task
			started, finished string
			ms                int64
		)
		if err := rows.Scan(&t.Pipeline, &t.Task, &t.Status, &t.Error, &started, &finished, &ms); err != nil {
			return nil, err
		}
		t.Started = parseTime(started)
		t.Finished = parseTime(finished)
		t.Duration = time.Duration(ms) * time.Millisecond
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Warnings returns the warnings recorded for a run.
func (l *Ledger) Warnings(ctx context.Context, runID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT message FROM run_warnings WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
