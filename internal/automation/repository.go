package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeFormat keeps fractional seconds at fixed width so stored timestamps
// sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Repository persists automation runs.
type Repository interface {
	CreateRun(ctx context.Context, run *AutomationRun) error
	UpdateRun(ctx context.Context, run *AutomationRun) error
	GetRun(ctx context.Context, id string) (*AutomationRun, error)

	// ListRuns returns the most recent runs of an automation, newest first.
	ListRuns(ctx context.Context, automationID string, limit int) ([]AutomationRun, error)
}

// SQLiteRepository implements Repository on the automation_runs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed run repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `
	id, automation_id, trigger_description, context_id, parent_context_id,
	status, started_at, completed_at,
	actions_total, actions_completed, actions_failed, failures, error_message`

// CreateRun inserts a new run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *AutomationRun) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `INSERT INTO automation_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.AutomationID,
		run.TriggerDescription,
		run.ContextID,
		run.ParentContextID,
		string(run.Status),
		run.StartedAt.UTC().Format(timeFormat),
		nullableTime(run.CompletedAt),
		run.ActionsTotal,
		run.ActionsCompleted,
		run.ActionsFailed,
		failuresJSON,
		nullableString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun updates the outcome columns of an existing run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *AutomationRun) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		UPDATE automation_runs SET
			status = ?, completed_at = ?,
			actions_total = ?, actions_completed = ?, actions_failed = ?,
			failures = ?, error_message = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		nullableTime(run.CompletedAt),
		run.ActionsTotal,
		run.ActionsCompleted,
		run.ActionsFailed,
		failuresJSON,
		nullableString(run.ErrorMessage),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*AutomationRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM automation_runs WHERE id = ?`, id)
	run, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs for an automation.
func (r *SQLiteRepository) ListRuns(ctx context.Context, automationID string, limit int) ([]AutomationRun, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + runColumns + `
		FROM automation_runs
		WHERE automation_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]AutomationRun, 0)
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(scanner rowScanner) (*AutomationRun, error) {
	var run AutomationRun
	var status, startedAt string
	var completedAt, failuresJSON, errorMessage sql.NullString

	err := scanner.Scan(
		&run.ID,
		&run.AutomationID,
		&run.TriggerDescription,
		&run.ContextID,
		&run.ParentContextID,
		&status,
		&startedAt,
		&completedAt,
		&run.ActionsTotal,
		&run.ActionsCompleted,
		&run.ActionsFailed,
		&failuresJSON,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if completedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", parseErr)
		}
		run.CompletedAt = &t
	}
	if failuresJSON.Valid && failuresJSON.String != "" {
		if err := json.Unmarshal([]byte(failuresJSON.String), &run.Failures); err != nil {
			return nil, fmt.Errorf("unmarshalling failures: %w", err)
		}
	}
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

func marshalFailures(failures []ActionFailure) (sql.NullString, error) {
	if len(failures) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableString converts an empty string to NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime converts a nil time to NULL.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}
