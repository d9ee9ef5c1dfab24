// Package audit records the lifecycle trail of every command in the
// command_history table and serves it back for inspection.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cmdbroker/internal/command"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one row of the command history: a single lifecycle event.
type Entry struct {
	ID          string         `json:"id"`
	CommandID   string         `json:"command_id"`
	Event       string         `json:"event"`
	CommandType string         `json:"type"`
	Target      string         `json:"target"`
	Status      string         `json:"status"`
	Params      map[string]any `json:"params"`
	Error       string         `json:"error,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EntryFromEvent converts a queue lifecycle event into a history entry.
// The error column is filled from the command's error param when it is a
// string.
func EntryFromEvent(ev command.Event) Entry {
	rec := ev.Command.Record()
	e := Entry{
		CommandID:   rec.ID,
		Event:       string(ev.Type),
		CommandType: rec.Type,
		Target:      rec.Target,
		Status:      rec.Status,
		Params:      rec.Params,
		OccurredAt:  ev.At,
	}
	if msg, ok := rec.Params[command.ParamError].(string); ok {
		e.Error = msg
	}
	return e
}

// Filter controls which history entries to return.
type Filter struct {
	CommandID string // optional: a single command's trail
	Event     string // optional: enqueued, dispatched, completed, failed, timed_out, evicted
	Limit     int    // default 50, max 200
	Offset    int    // pagination offset
}

// ListResult contains the paginated history results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for command history operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	History(ctx context.Context, commandID string) ([]Entry, error)
}

// SQLiteRepository stores command history in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new history entry. The ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "hst-" + uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	params := entry.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshalling history params: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_history (id, command_id, event, command_type, target, status, params, error, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CommandID, entry.Event, entry.CommandType,
		entry.Target, entry.Status, string(paramsJSON),
		nullableString(entry.Error),
		entry.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns
// store NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns history entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.CommandID != "" {
		conditions = append(conditions, "command_id = ?")
		args = append(args, filter.CommandID)
	}
	if filter.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, filter.Event)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_history %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting history entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM command_history %s ORDER BY seq DESC LIMIT ? OFFSET ?",
		selectColumns, where,
	)
	args = append(args, filter.Limit, filter.Offset)

	entries, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// History returns a single command's trail in the order it happened.
func (r *SQLiteRepository) History(ctx context.Context, commandID string) ([]Entry, error) {
	return r.query(ctx,
		"SELECT "+selectColumns+" FROM command_history WHERE command_id = ? ORDER BY seq ASC",
		commandID,
	)
}

const selectColumns = "id, command_id, event, command_type, target, status, params, error, occurred_at"

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var paramsJSON string
		var errMsg sql.NullString
		var occurredAt int64

		if err := rows.Scan(&e.ID, &e.CommandID, &e.Event, &e.CommandType,
			&e.Target, &e.Status, &paramsJSON, &errMsg, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}

		if errMsg.Valid {
			e.Error = errMsg.String
		}
		e.Params = map[string]any{}
		if paramsJSON != "" {
			if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
				return nil, fmt.Errorf("decoding history params for %s: %w", e.ID, err)
			}
		}
		e.OccurredAt = time.UnixMilli(occurredAt).UTC()

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return entries, nil
}
