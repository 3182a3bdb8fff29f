package entity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository persists registry entries.
type Repository interface {
	// List returns every entry in registration order.
	List(ctx context.Context) ([]Entry, error)

	// Create stores a new entry. Returns ErrEntityExists on conflicts.
	Create(ctx context.Context, e Entry) error

	// Update replaces the mutable columns of an existing entry.
	// Returns ErrEntityNotFound when the entity id is unknown.
	Update(ctx context.Context, e Entry) error

	// Delete removes an entry. Returns ErrEntityNotFound when unknown.
	Delete(ctx context.Context, entityID string) error
}

// SQLiteRepository implements Repository on the entity_registry table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db. The schema is created
// by the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT entity_id, unique_id, platform, domain, device_id, config_entry_id,
		disabled_by, entity_category, original_name, icon, created_at, updated_at
	FROM entity_registry`

// List returns all entries ordered by insertion.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying entity registry: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return entries, nil
}

// Create inserts e.
func (r *SQLiteRepository) Create(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO entity_registry (
			entity_id, unique_id, platform, domain, device_id, config_entry_id,
			disabled_by, entity_category, original_name, icon, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		e.EntityID,
		e.UniqueID,
		e.Platform,
		e.Domain,
		e.DeviceID,
		e.ConfigEntryID,
		string(e.DisabledBy),
		string(e.EntityCategory),
		e.OriginalName,
		e.Icon,
		e.CreatedAt.Format(time.RFC3339Nano),
		e.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrEntityExists, e.EntityID)
		}
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

// Update writes the mutable columns of e.
func (r *SQLiteRepository) Update(ctx context.Context, e Entry) error {
	query := `
		UPDATE entity_registry SET
			device_id = ?, config_entry_id = ?, disabled_by = ?,
			entity_category = ?, original_name = ?, icon = ?, updated_at = ?
		WHERE entity_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.DeviceID,
		e.ConfigEntryID,
		string(e.DisabledBy),
		string(e.EntityCategory),
		e.OriginalName,
		e.Icon,
		e.UpdatedAt.Format(time.RFC3339Nano),
		e.EntityID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return requireOneRow(result, e.EntityID)
}

// Delete removes entityID.
func (r *SQLiteRepository) Delete(ctx context.Context, entityID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entity_registry WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return requireOneRow(result, entityID)
}

func requireOneRow(result sql.Result, entityID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(scanner rowScanner) (Entry, error) {
	var e Entry
	var disabledBy, category, createdAt, updatedAt string

	err := scanner.Scan(
		&e.EntityID,
		&e.UniqueID,
		&e.Platform,
		&e.Domain,
		&e.DeviceID,
		&e.ConfigEntryID,
		&disabledBy,
		&category,
		&e.OriginalName,
		&e.Icon,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Entry{}, err
	}

	e.DisabledBy = DisabledBy(disabledBy)
	e.EntityCategory = Category(category)
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// isUniqueConstraintError checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
