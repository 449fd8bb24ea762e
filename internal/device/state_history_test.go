package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-switchbot/migrations"
)

// openMigratedDB returns an in-memory database carrying the bridge schema.
func openMigratedDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

// seedHistory writes a row directly so tests control created_at.
func seedHistory(t *testing.T, db *sql.DB, deviceID, stateJSON, source string, at time.Time) {
	t.Helper()
	const q = "INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)"
	if _, err := db.Exec(q, deviceID, stateJSON, source, formatHistoryTime(at)); err != nil {
		t.Fatalf("seeding state_history: %v", err)
	}
}

func TestRecordStateChange_RoundTrip(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(openMigratedDB(t))
	ctx := context.Background()

	err := repo.RecordStateChange(ctx, "bulb-1", State{FieldPower: true, FieldBrightness: 75}, StateHistorySourceWebhook)
	if err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	got, err := repo.GetHistory(ctx, "bulb-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetHistory() = %d entries, want 1", len(got))
	}
	e := got[0]
	if e.DeviceID != "bulb-1" || e.Source != StateHistorySourceWebhook || e.CreatedAt.IsZero() {
		t.Errorf("entry = %+v", e)
	}
	// JSON numbers come back as float64.
	if e.State[FieldPower] != true || e.State[FieldBrightness] != float64(75) {
		t.Errorf("State = %v", e.State)
	}
}

func TestGetHistory_NewestFirstWithinDevice(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteStateHistoryRepository(db)

	now := time.Now().UTC().Truncate(time.Second)
	seedHistory(t, db, "plug-1", `{"power":false}`, StateHistorySourceCommand, now.Add(-2*time.Hour))
	seedHistory(t, db, "plug-1", `{"power":true}`, StateHistorySourceRefresh, now.Add(-time.Hour))
	seedHistory(t, db, "plug-1", `{"power":true}`, StateHistorySourceRollback, now)
	seedHistory(t, db, "plug-2", `{"power":true}`, StateHistorySourceRefresh, now)

	got, err := repo.GetHistory(context.Background(), "plug-1", 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	want := []time.Time{now, now.Add(-time.Hour)}
	if len(got) != len(want) {
		t.Fatalf("GetHistory() = %d entries, want %d", len(got), len(want))
	}
	for i, at := range want {
		if !got[i].CreatedAt.Equal(at) || got[i].DeviceID != "plug-1" {
			t.Errorf("entry %d = %s %s, want plug-1 %s", i, got[i].DeviceID, got[i].CreatedAt, at)
		}
	}
}

func TestPruneHistory_RemovesOnlyExpired(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	kept := now.Add(-12 * time.Hour)
	seedHistory(t, db, "plug-1", `{"power":true}`, StateHistorySourceRefresh, now.Add(-40*24*time.Hour))
	seedHistory(t, db, "plug-1", `{"power":false}`, StateHistorySourceRefresh, kept)

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) error = nil, want error")
	}
	n, err := repo.PruneHistory(ctx, 30*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("PruneHistory() = %d, %v; want 1, nil", n, err)
	}

	got, err := repo.GetHistory(ctx, "plug-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 1 || !got[0].CreatedAt.Equal(kept) {
		t.Errorf("remaining = %+v, want the entry at %s", got, kept)
	}
}

func TestRecordStateChange_Defaults(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(openMigratedDB(t))
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, "", State{}, ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("RecordStateChange(no id) error = %v, want ErrInvalidIdentity", err)
	}
	if err := repo.RecordStateChange(ctx, "plug-1", nil, ""); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	got, err := repo.GetHistory(ctx, "plug-1", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 1 || got[0].Source != StateHistorySourceRefresh || len(got[0].State) != 0 {
		t.Errorf("entries = %+v, want one empty refresh entry", got)
	}
}

func TestQueryHistory_Filters(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	seedHistory(t, db, "dev-1", `{"position":10}`, StateHistorySourceRefresh, now.Add(-3*time.Minute))
	seedHistory(t, db, "dev-1", `{"position":50}`, StateHistorySourceCommand, now.Add(-2*time.Minute))
	seedHistory(t, db, "dev-1", `{"position":10}`, StateHistorySourceRollback, now.Add(-time.Minute))

	tests := []struct {
		name  string
		query HistoryQuery
		want  int
	}{
		{name: "all", query: HistoryQuery{}, want: 3},
		{name: "since is exclusive", query: HistoryQuery{Since: now.Add(-2 * time.Minute)}, want: 1},
		{name: "source", query: HistoryQuery{Source: StateHistorySourceCommand}, want: 1},
		{name: "since and source", query: HistoryQuery{Since: now.Add(-10 * time.Minute), Source: StateHistorySourceRefresh}, want: 1},
		{name: "limit", query: HistoryQuery{Limit: 2}, want: 2},
		{name: "no match", query: HistoryQuery{Source: StateHistorySourceWebhook}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := repo.QueryHistory(ctx, "dev-1", tt.query)
			if err != nil {
				t.Fatalf("QueryHistory() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("QueryHistory() = %d entries, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestQueryHistory_MillisecondOrder(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	if err := repo.RecordStateChange(ctx, "dev-1", State{FieldPosition: 50}, StateHistorySourceCommand); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}
	repo.now = func() time.Time { return base.Add(900 * time.Millisecond) }
	if err := repo.RecordStateChange(ctx, "dev-1", State{FieldPosition: 10}, StateHistorySourceRollback); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.QueryHistory(ctx, "dev-1", HistoryQuery{})
	if err != nil {
		t.Fatalf("QueryHistory() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Source != StateHistorySourceRollback {
		t.Fatalf("entries = %+v, want rollback first", entries)
	}
	if !entries[0].CreatedAt.Equal(base.Add(900 * time.Millisecond)) {
		t.Errorf("CreatedAt = %s, want millisecond precision", entries[0].CreatedAt)
	}
}

func TestLatestState(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	state, ok, err := repo.LatestState(ctx, "dev-1")
	if err != nil {
		t.Fatalf("LatestState() error = %v", err)
	}
	if ok || state != nil {
		t.Errorf("LatestState() on empty table = %v, %v; want nil, false", state, ok)
	}

	now := time.Now().UTC()
	seedHistory(t, db, "dev-1", `{"position":10}`, StateHistorySourceRefresh, now.Add(-time.Minute))
	seedHistory(t, db, "dev-1", `{"position":80}`, StateHistorySourceWebhook, now)

	state, ok, err = repo.LatestState(ctx, "dev-1")
	if err != nil {
		t.Fatalf("LatestState() error = %v", err)
	}
	if !ok {
		t.Fatal("LatestState() ok = false, want true")
	}
	if pos, _ := state[FieldPosition].(float64); pos != 80 {
		t.Errorf("position = %v, want 80", state[FieldPosition])
	}
}
