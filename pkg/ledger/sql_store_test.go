package ledger

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSQLStore_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLStore(db)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	entry := Entry{
		Sequence:     1,
		EntryID:      "dp-1",
		Tenant:       "tenant-a",
		EventType:    "inference",
		Timestamp:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DPValue:      0.1,
		EpsilonUsed:  0.1,
		Sensitivity:  1.0,
		PreviousHash: GenesisHash,
		EntryHash:    "deadbeef",
	}

	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewSQLStore(db)
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStore_AllReturnsOrderedEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	rows := sqlmock.NewRows([]string{
		"sequence", "entry_id", "tenant", "event_type", "timestamp",
		"dp_value", "epsilon_used", "sensitivity", "previous_hash", "entry_hash", "metadata_json",
	}).
		AddRow(1, "dp-1", "tenant-a", "inference", ts, 0.1, 0.1, 1.0, GenesisHash, "hash-1", `{"model":"gpt-4o"}`).
		AddRow(2, "dp-2", "tenant-a", "inference", ts, 0.2, 0.1, 1.0, "hash-1", "hash-2", nil)

	mock.ExpectQuery("SELECT sequence, entry_id").WillReturnRows(rows)

	store := NewSQLStore(db)
	entries, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Metadata["model"] != "gpt-4o" {
		t.Fatalf("expected metadata round-trip, got %+v", entries[0].Metadata)
	}
	if entries[1].PreviousHash != "hash-1" {
		t.Fatalf("unexpected chain linkage: %+v", entries[1])
	}
}

func TestNewLedgerFromEntries_RebuildsEpsilonAccumulator(t *testing.T) {
	entries := []Entry{
		{Sequence: 1, Tenant: "tenant-a", EpsilonUsed: 0.4, PreviousHash: GenesisHash, EntryHash: "h1"},
		{Sequence: 2, Tenant: "tenant-a", EpsilonUsed: 0.3, PreviousHash: "h1", EntryHash: "h2"},
	}

	l := NewLedgerFromEntries(entries, 1.0)
	status := l.BudgetStatus("tenant-a")
	if status.EpsilonUsed != 0.7 {
		t.Fatalf("expected accumulated epsilon 0.7, got %.2f", status.EpsilonUsed)
	}
	if l.Head() != "h2" {
		t.Fatalf("expected head h2, got %s", l.Head())
	}
	if l.Length() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Length())
	}
}
