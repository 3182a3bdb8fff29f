package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// timeFormat keeps fractional seconds at fixed width so recorded_at sorts
// lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one recorded entity state.
type Record struct {
	ID         int64          `json:"id"`
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	ContextID  string         `json:"context_id,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Repository stores recorded states.
type Repository interface {
	Insert(ctx context.Context, rec Record) error

	// History returns the latest records of entityID, newest first.
	History(ctx context.Context, entityID string, limit int) ([]Record, error)

	// Prune deletes records older than before and returns how many.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the state_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite state history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores rec. Attributes are kept as JSON.
func (r *SQLiteRepository) Insert(ctx context.Context, rec Record) error {
	if rec.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	var attrs sql.NullString
	if len(rec.Attributes) > 0 {
		b, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("marshalling attributes: %w", err)
		}
		attrs = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (entity_id, state, attributes, context_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.EntityID,
		rec.State,
		attrs,
		rec.ContextID,
		rec.RecordedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns recent records for an entity, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - entityID: Entity to query
//   - limit: Maximum records to return (default 50, max 200)
func (r *SQLiteRepository) History(ctx context.Context, entityID string, limit int) ([]Record, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, state, attributes, context_id, recorded_at
		 FROM state_history
		 WHERE entity_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		entityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var attrs sql.NullString
		var recordedAt string

		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.State, &attrs, &rec.ContextID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if attrs.Valid {
			if err := json.Unmarshal([]byte(attrs.String), &rec.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshalling attributes: %w", err)
			}
		}
		rec.RecordedAt, err = time.Parse(timeFormat, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return records, nil
}

// Prune deletes records recorded before the cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted state history: %w", err)
	}
	return n, nil
}
