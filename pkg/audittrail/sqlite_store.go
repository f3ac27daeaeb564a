package audittrail

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using an embedded modernc.org/sqlite
// database, migrated with golang-migrate.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// New returns a store bound to path. Init must be called before use.
func New(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audittrail: database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database connection with WAL mode and a busy timeout
// suited to a single-writer CLI tool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("audittrail: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("audittrail: ping database: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies every embedded migration not yet recorded as run.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("audittrail: database not initialized")
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audittrail: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("audittrail: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("audittrail: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("audittrail: apply migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, stack, status, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Stack, run.Status, run.StartedAt, run.CompletedAt, run.Error, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("audittrail: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stack, status, started_at, completed_at, error, created_at, updated_at
		FROM runs WHERE id = ?`, id)

	run := &Run{}
	if err := row.Scan(&run.ID, &run.Stack, &run.Status, &run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audittrail: run not found: %s", id)
		}
		return nil, fmt.Errorf("audittrail: get run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus transitions a run to status, stamping completed_at for
// any terminal status.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed {
		now := time.Now()
		completedAt = &now
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, completedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("audittrail: update run status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("audittrail: run not found: %s", id)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stack, status, started_at, completed_at, error, created_at, updated_at
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audittrail: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Stack, &run.Status, &run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("audittrail: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateOperation inserts a single operation outcome.
func (s *SQLiteStore) CreateOperation(ctx context.Context, op *Operation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, run_id, resource_id, resource_type, kind, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.RunID, op.ResourceID, op.ResourceType, op.Kind, op.Success, op.Error, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("audittrail: create operation: %w", err)
	}
	return nil
}

// ListOperationsByRun returns every operation recorded for runID, in the
// order they were created.
func (s *SQLiteStore) ListOperationsByRun(ctx context.Context, runID string) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, resource_id, resource_type, kind, success, error, created_at
		FROM operations WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("audittrail: list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		if err := rows.Scan(&op.ID, &op.RunID, &op.ResourceID, &op.ResourceType, &op.Kind, &op.Success, &op.Error, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("audittrail: scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// AppendEvent inserts one log event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Level, event.Message, event.Details, event.Timestamp)
	if err != nil {
		return fmt.Errorf("audittrail: append event: %w", err)
	}
	return nil
}

// ListEvents returns events newest-first, optionally scoped to runID.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID *string, limit, offset int) ([]*Event, error) {
	query := `SELECT id, run_id, level, message, details, timestamp FROM events`
	args := []any{}
	if runID != nil {
		query += ` WHERE run_id = ?`
		args = append(args, *runID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audittrail: list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Level, &e.Message, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audittrail: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateAuditEntry inserts one audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.Actor, entry.TargetID, entry.Details, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("audittrail: create audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit entries newest-first, optionally
// filtered by action and/or actor.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `SELECT id, action, actor, target_id, details, timestamp FROM audit_entries WHERE 1=1`
	var args []any
	if action != nil {
		query += ` AND action = ?`
		args = append(args, *action)
	}
	if actor != nil {
		query += ` AND actor = ?`
		args = append(args, *actor)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audittrail: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.TargetID, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audittrail: scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HealthCheck verifies the connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("audittrail: database not initialized")
	}
	return s.db.PingContext(ctx)
}
