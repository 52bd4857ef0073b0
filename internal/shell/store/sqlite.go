package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/octahe/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its target outcomes atomically.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.SaveRun(ctx, run)
	})
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	return pruneRuns(ctx, s.db, keep)
}

// WithTx runs fn within a transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	return saveRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	return pruneRuns(ctx, s.tx, keep)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Rows
// =============================================================================

type runRow struct {
	ID         string `db:"id"`
	Mode       string `db:"mode"`
	Files      string `db:"files"`
	State      string `db:"state"`
	Steps      int    `db:"steps"`
	DryRun     bool   `db:"dry_run"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
}

type targetRow struct {
	RunID      string `db:"run_id"`
	Position   int    `db:"position"`
	Name       string `db:"name"`
	State      string `db:"state"`
	FailedStep int    `db:"failed_step"`
	FailedTask string `db:"failed_task"`
	Error      string `db:"error"`
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func saveRun(ctx context.Context, exec executor, run *domain.Run) error {
	if err := run.Validate(); err != nil {
		return NewStoreError("SaveRun", run.ID, err.Error(), ErrInvalidData)
	}

	filesJSON, err := json.Marshal(run.Files)
	if err != nil {
		return NewStoreError("SaveRun", run.ID, "failed to serialize files", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (
			id, mode, files, state, steps, dry_run, started_at, finished_at
		) VALUES (
			:id, :mode, :files, :state, :steps, :dry_run, :started_at, :finished_at
		)`

	row := runRow{
		ID:         run.ID,
		Mode:       string(run.Mode),
		Files:      string(filesJSON),
		State:      string(run.State),
		Steps:      run.Steps,
		DryRun:     run.DryRun,
		StartedAt:  run.StartedAt.UTC().Format(timeLayout),
		FinishedAt: run.FinishedAt.UTC().Format(timeLayout),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("SaveRun", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SaveRun", run.ID, err.Error(), err)
	}

	targetQuery := `
		INSERT INTO run_targets (
			run_id, position, name, state, failed_step, failed_task, error
		) VALUES (
			:run_id, :position, :name, :state, :failed_step, :failed_task, :error
		)`

	for i, t := range run.Targets {
		tr := targetRow{
			RunID:      run.ID,
			Position:   i,
			Name:       t.Name,
			State:      string(t.State),
			FailedStep: t.FailedStep,
			FailedTask: t.FailedTask,
			Error:      t.Error,
		}
		if _, err := exec.NamedExecContext(ctx, targetQuery, tr); err != nil {
			return NewStoreError("SaveRun", run.ID, fmt.Sprintf("target %s: %v", t.Name, err), ErrInvalidData)
		}
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	run, err := rowToRun(&row)
	if err != nil {
		return nil, err
	}
	if run.Targets, err = getTargets(ctx, exec, id); err != nil {
		return nil, err
	}
	return run, nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM runs`
	args := []any{}
	if opts.Mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, string(opts.Mode))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []runRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	runs := make([]domain.Run, 0, len(rows))
	for i := range rows {
		run, err := rowToRun(&rows[i])
		if err != nil {
			return nil, err
		}
		if run.Targets, err = getTargets(ctx, exec, run.ID); err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func pruneRuns(ctx context.Context, exec executor, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`
	result, err := exec.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, NewStoreError("PruneRuns", "", err.Error(), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, NewStoreError("PruneRuns", "", err.Error(), err)
	}
	return int(n), nil
}

func getTargets(ctx context.Context, exec executor, runID string) ([]domain.TargetOutcome, error) {
	var rows []targetRow
	query := `SELECT * FROM run_targets WHERE run_id = ? ORDER BY position`
	if err := exec.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, NewStoreError("GetRun", runID, err.Error(), err)
	}

	targets := make([]domain.TargetOutcome, 0, len(rows))
	for _, r := range rows {
		targets = append(targets, domain.TargetOutcome{
			Name:       r.Name,
			State:      domain.TargetState(r.State),
			FailedStep: r.FailedStep,
			FailedTask: r.FailedTask,
			Error:      r.Error,
		})
	}
	return targets, nil
}

func rowToRun(row *runRow) (*domain.Run, error) {
	startedAt, _ := time.Parse(timeLayout, row.StartedAt)
	finishedAt, _ := time.Parse(timeLayout, row.FinishedAt)

	var files []string
	if row.Files != "" && row.Files != "null" {
		if err := json.Unmarshal([]byte(row.Files), &files); err != nil {
			return nil, NewStoreError("rowToRun", row.ID, "failed to parse files", ErrInvalidData)
		}
	}

	return &domain.Run{
		ID:         row.ID,
		Mode:       domain.Mode(row.Mode),
		Files:      files,
		State:      domain.State(row.State),
		Steps:      row.Steps,
		DryRun:     row.DryRun,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}
