package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/atprouter/core/pkg/ledger"

	_ "modernc.org/sqlite"
)

// setupLiteMode opens (or creates) a single-file SQLite database for
// single-instance deployments that don't have a Postgres cluster available,
// and replays any previously persisted ledger entries to rebuild the
// in-memory hash chain and ε-budget accumulator.
func setupLiteMode(ctx context.Context) (*ledger.Ledger, *sql.DB, error) {
	dataDir := "data"
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "atprouter.db")
	log.Printf("[atprouter] lite mode: using sqlite at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	store := ledger.NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to init sqlite ledger store: %w", err)
	}

	entries, err := store.All(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to replay ledger: %w", err)
	}

	lgr := ledger.NewLedgerFromEntries(entries, defaultEpsilonMax(), ledger.WithSQLSink(store))
	return lgr, db, nil
}
