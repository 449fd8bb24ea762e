package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Command outcomes recorded in the command log.
const (
	OutcomeAcked       = "ack"
	OutcomeRejected    = "rejected"
	OutcomeTimeout     = "timeout"
	OutcomeUnreachable = "unreachable"
)

// CommandLogEntry records one vendor command dispatch and its result.
type CommandLogEntry struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Command     string    `json:"command"`
	Parameter   string    `json:"parameter"`
	CommandType string    `json:"command_type"`
	Transport   string    `json:"transport"`
	Outcome     string    `json:"outcome"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommandLogRepository persists command dispatch results.
type CommandLogRepository interface {
	RecordCommand(ctx context.Context, entry CommandLogEntry) error
	ListCommands(ctx context.Context, deviceID string, limit int) ([]CommandLogEntry, error)
}

// SQLiteCommandLogRepository implements CommandLogRepository on the
// command_log table.
type SQLiteCommandLogRepository struct {
	db *sql.DB
}

// NewSQLiteCommandLogRepository creates a command log repository.
func NewSQLiteCommandLogRepository(db *sql.DB) *SQLiteCommandLogRepository {
	return &SQLiteCommandLogRepository{db: db}
}

// RecordCommand inserts one dispatch result. Attempts below one are stored as one.
func (r *SQLiteCommandLogRepository) RecordCommand(ctx context.Context, entry CommandLogEntry) error {
	if entry.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidIdentity)
	}
	if entry.Command == "" || entry.Outcome == "" {
		return fmt.Errorf("command and outcome are required")
	}
	if entry.Attempts < 1 {
		entry.Attempts = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log
		 (device_id, command, parameter, command_type, transport, outcome, attempts, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DeviceID,
		entry.Command,
		entry.Parameter,
		entry.CommandType,
		entry.Transport,
		entry.Outcome,
		entry.Attempts,
		entry.Error,
		formatHistoryTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// ListCommands returns the newest entries for a device. limit follows the
// same bounds as QueryHistory (default 50, max 200).
func (r *SQLiteCommandLogRepository) ListCommands(ctx context.Context, deviceID string, limit int) ([]CommandLogEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidIdentity)
	}
	limit = clampHistoryLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, command, parameter, command_type, transport, outcome, attempts, error, created_at
		 FROM command_log
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandLogEntry, 0, limit)
	for rows.Next() {
		var e CommandLogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Command, &e.Parameter, &e.CommandType,
			&e.Transport, &e.Outcome, &e.Attempts, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		ts, err := parseHistoryTime(createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = ts
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return entries, nil
}

// PruneCommands deletes entries older than the retention window.
func (r *SQLiteCommandLogRepository) PruneCommands(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatHistoryTime(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx, "DELETE FROM command_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting command log: %w", err)
	}
	return result.RowsAffected()
}
