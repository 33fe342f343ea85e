package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func parseEntryTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

// SQLStore persists ledger entries to a database/sql-compatible backend
// (sqlite in single-instance "lite" deployments, Postgres otherwise). It
// durably mirrors what Ledger already keeps in memory (and optionally in an
// NDJSON file via OpenFileLedger) so a router instance can restart without
// losing ε-budget state.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. Callers choose the driver
// ("sqlite" via modernc.org/sqlite, or "postgres" via lib/pq) and open it
// before constructing a SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const ledgerEntrySchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence      INTEGER PRIMARY KEY,
	entry_id      TEXT NOT NULL,
	tenant        TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	dp_value      REAL NOT NULL,
	epsilon_used  REAL NOT NULL,
	sensitivity   REAL NOT NULL,
	previous_hash TEXT NOT NULL,
	entry_hash    TEXT NOT NULL,
	metadata_json TEXT
);
`

// Init creates the ledger_entries table if it does not already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ledgerEntrySchema)
	if err != nil {
		return fmt.Errorf("ledger: sql store init: %w", err)
	}
	return nil
}

// Append persists entry. Sequence numbers are assigned by the in-memory
// Ledger, so a conflicting insert means the store and ledger have drifted
// and is surfaced as an error rather than silently overwritten.
func (s *SQLStore) Append(ctx context.Context, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("ledger: sql store marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(sequence, entry_id, tenant, event_type, timestamp, dp_value, epsilon_used, sensitivity, previous_hash, entry_hash, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Sequence, entry.EntryID, entry.Tenant, entry.EventType, entry.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		entry.DPValue, entry.EpsilonUsed, entry.Sensitivity, entry.PreviousHash, entry.EntryHash, string(metaJSON))
	if err != nil {
		return fmt.Errorf("ledger: sql store append: %w", err)
	}
	return nil
}

// All loads every persisted entry in sequence order, used to rebuild a
// Ledger's in-memory state on process restart.
func (s *SQLStore) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, entry_id, tenant, event_type, timestamp, dp_value, epsilon_used, sensitivity, previous_hash, entry_hash, metadata_json
		FROM ledger_entries ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: sql store query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // best-effort close

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			tsRaw    string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&e.Sequence, &e.EntryID, &e.Tenant, &e.EventType, &tsRaw, &e.DPValue, &e.EpsilonUsed, &e.Sensitivity, &e.PreviousHash, &e.EntryHash, &metaJSON); err != nil {
			return nil, fmt.Errorf("ledger: sql store scan: %w", err)
		}
		ts, err := parseEntryTimestamp(tsRaw)
		if err != nil {
			return nil, fmt.Errorf("ledger: sql store parse timestamp: %w", err)
		}
		e.Timestamp = ts
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("ledger: sql store parse metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: sql store rows: %w", err)
	}
	return out, nil
}
