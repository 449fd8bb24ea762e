package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout sorts lexically in time order, so created_at can be
	// compared as text in SQL.
	historyTimeLayout = "2006-01-02T15:04:05.000Z"
)

// SQLiteStateHistoryRepository implements StateHistoryRepository on the
// state_history table. Snapshots are stored as JSON; numbers come back as
// float64, which is what the API serves anyway.
type SQLiteStateHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateHistoryRepository creates a repository over an open database.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db, now: time.Now}
}

// RecordStateChange appends a snapshot. An empty source is stored as refresh.
//
// Timestamps carry milliseconds so an optimistic write and its rollback in the
// same second keep their order.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, deviceID string, state State, source string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidIdentity)
	}
	if source == "" {
		source = StateHistorySourceRefresh
	}
	if state == nil {
		state = State{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		deviceID, string(stateJSON), source, formatHistoryTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns the latest limit entries for a device, newest first.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error) {
	return r.QueryHistory(ctx, deviceID, HistoryQuery{Limit: limit})
}

// QueryHistory returns entries matching q, newest first. Limit is clamped to
// 1..200 with a default of 50.
func (r *SQLiteStateHistoryRepository) QueryHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidIdentity)
	}
	limit := clampHistoryLimit(q.Limit)

	var where strings.Builder
	where.WriteString("device_id = ?")
	args := []any{deviceID}
	if !q.Since.IsZero() {
		where.WriteString(" AND created_at > ?")
		args = append(args, formatHistoryTime(q.Since))
	}
	if q.Source != "" {
		where.WriteString(" AND source = ?")
		args = append(args, q.Source)
	}
	args = append(args, limit)

	//nolint:gosec // where only contains fixed clauses; values are bound
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, device_id, state, source, created_at FROM state_history WHERE "+
			where.String()+" ORDER BY created_at DESC, id DESC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// LatestState returns the newest recorded snapshot for a device.
func (r *SQLiteStateHistoryRepository) LatestState(ctx context.Context, deviceID string) (State, bool, error) {
	var stateJSON string
	err := r.db.QueryRowContext(ctx,
		"SELECT state FROM state_history WHERE device_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		deviceID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying latest state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, false, fmt.Errorf("unmarshalling state: %w", err)
	}
	return state, true, nil
}

// PruneHistory deletes entries older than olderThan and returns the count.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		formatHistoryTime(r.now().Add(-olderThan)),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryEntry(row rowScanner) (StateHistoryEntry, error) {
	var entry StateHistoryEntry
	var stateJSON, createdAt string

	if err := row.Scan(&entry.ID, &entry.DeviceID, &stateJSON, &entry.Source, &createdAt); err != nil {
		return entry, fmt.Errorf("scanning state history: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
		return entry, fmt.Errorf("unmarshalling state: %w", err)
	}

	ts, err := parseHistoryTime(createdAt)
	if err != nil {
		return entry, err
	}
	entry.CreatedAt = ts
	return entry, nil
}

func clampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

func formatHistoryTime(t time.Time) string {
	return t.UTC().Format(historyTimeLayout)
}

// parseHistoryTime accepts both the millisecond layout and the second
// precision column default.
func parseHistoryTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts.UTC(), nil
}
