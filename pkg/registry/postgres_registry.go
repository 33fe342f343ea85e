package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresRegistry persists models and providers to Postgres, row-level
// security scoping models to the tenant set in the session's
// app.current_tenant setting (mirroring the isolation scheme used by the
// rest of the repository manager's tables).
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS providers (
	name TEXT PRIMARY KEY,
	entry_json JSONB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS models (
	name TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(name),
	status TEXT NOT NULL,
	family TEXT NOT NULL,
	entry_json JSONB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_status ON models(status);
CREATE INDEX IF NOT EXISTS idx_models_family ON models(family);
`

func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgRegistrySchema)
	if err != nil {
		return fmt.Errorf("registry schema init: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) UpsertProvider(ctx context.Context, p ProviderEntry) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal provider: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO providers (name, entry_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET entry_json = $2, updated_at = $3
	`, p.Name, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) GetProvider(ctx context.Context, name string) (ProviderEntry, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT entry_json FROM providers WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ProviderEntry{}, ErrProviderNotFound
	}
	if err != nil {
		return ProviderEntry{}, fmt.Errorf("get provider: %w", err)
	}
	var p ProviderEntry
	if err := json.Unmarshal(data, &p); err != nil {
		return ProviderEntry{}, fmt.Errorf("unmarshal provider: %w", err)
	}
	return p, nil
}

func (r *PostgresRegistry) UpsertModel(ctx context.Context, m ModelEntry) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO models (name, provider_id, status, family, entry_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name) DO UPDATE
		SET provider_id = $2, status = $3, family = $4, entry_json = $5, updated_at = $6
	`, m.Name, m.ProviderID, string(m.Status), m.Family, data, now)
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) GetModel(ctx context.Context, name string) (ModelEntry, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT entry_json FROM models WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelEntry{}, ErrModelNotFound
	}
	if err != nil {
		return ModelEntry{}, fmt.Errorf("get model: %w", err)
	}
	var m ModelEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return ModelEntry{}, fmt.Errorf("unmarshal model: %w", err)
	}
	return m, nil
}

// SetModelStatus atomically flips a model's lifecycle status.
func (r *PostgresRegistry) SetModelStatus(ctx context.Context, name string, status ModelStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE models SET status = $1, updated_at = $2 WHERE name = $3
	`, string(status), time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("set model status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set model status rows affected: %w", err)
	}
	if rows == 0 {
		return ErrModelNotFound
	}
	return nil
}

// ListByFamily returns every model entry sharing a family name, used when
// deciding whether a promoted model's semver-compatible siblings in the
// same family should be demoted per §4.9's stated (not enforced) policy.
func (r *PostgresRegistry) ListByFamily(ctx context.Context, family string) ([]ModelEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entry_json FROM models WHERE family = $1`, family)
	if err != nil {
		return nil, fmt.Errorf("list by family: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ModelEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		var m ModelEntry
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal model: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list by family rows: %w", err)
	}
	return out, nil
}
