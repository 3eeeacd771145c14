package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists transition logs per target.
//
// Implementations must be thread-safe.
type Repository interface {
	// Save replaces the stored log of target.
	Save(ctx context.Context, target string, entries []Entry) error

	// Load returns the stored log of target, or nil if none is stored.
	Load(ctx context.Context, target string) ([]Entry, error)

	// LoadAll returns every stored log keyed by target.
	LoadAll(ctx context.Context) (map[string][]Entry, error)
}

// SQLiteRepository implements Repository using SQLite.
//
// It stores each log as a JSON array in the transition_logs table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite transition-log repository.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Save upserts the log of target.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - target: SummaryTarget or an instance id
//   - entries: Log to store, newest first
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Save(ctx context.Context, target string, entries []Entry) error {
	if target == "" {
		return fmt.Errorf("target is required")
	}
	if entries == nil {
		entries = []Entry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshalling log: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transition_logs (target, entries, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(target) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		target,
		string(data),
		r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving log %s: %w", target, err)
	}
	return nil
}

// Load returns the stored log of target.
//
// Returns:
//   - []Entry: Stored log, nil if target has none
//   - error: nil on success, otherwise the query or decode error
func (r *SQLiteRepository) Load(ctx context.Context, target string) ([]Entry, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		"SELECT entries FROM transition_logs WHERE target = ?",
		target,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading log %s: %w", target, err)
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("unmarshalling log %s: %w", target, err)
	}
	return entries, nil
}

// LoadAll returns every stored log.
//
// Returns:
//   - map[string][]Entry: Logs keyed by target
//   - error: nil on success, otherwise the query or decode error
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[string][]Entry, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT target, entries FROM transition_logs")
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Entry)
	for rows.Next() {
		var target, data string
		if err := rows.Scan(&target, &data); err != nil {
			return nil, fmt.Errorf("scanning log: %w", err)
		}
		var entries []Entry
		if err := json.Unmarshal([]byte(data), &entries); err != nil {
			return nil, fmt.Errorf("unmarshalling log %s: %w", target, err)
		}
		out[target] = entries
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logs: %w", err)
	}
	return out, nil
}
