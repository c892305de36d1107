// Package postgres implements the argo_profiles repository on Postgres using
// pgx v5. Bulk writes go through the COPY protocol inside a per-call
// transaction, so a failed file never leaves partial rows behind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"argoetl/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, Config{DSN: cfg.DSN, Table: cfg.Table})
	})
}

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // target table, e.g. "argo_profiles" or "public.argo_profiles"
}

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository opens a connection pool for cfg.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("postgres: table must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, nil
}

// Ping verifies connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureTable creates the target table if absent. Safe to call on every run.
func (r *Repository) EnsureTable(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTableSQL(r.cfg.Table)); err != nil {
		return fmt.Errorf("postgres: ensure table: %w", err)
	}
	return nil
}

// Truncate empties the table and restarts the identity sequence, so repeated
// full reloads produce stable surrogate keys.
func (r *Repository) Truncate(ctx context.Context) error {
	sql := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", pgFQN(r.cfg.Table))
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: truncate: %w", err)
	}
	return nil
}

// BuildIndexes creates the supporting indexes and refreshes planner
// statistics. Index maintenance is deferred until after the load so it does
// not tax every COPY.
func (r *Repository) BuildIndexes(ctx context.Context) error {
	for _, sql := range indexSQL(r.cfg.Table) {
		if _, err := r.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("postgres: index: %w", err)
		}
	}
	if _, err := r.pool.Exec(ctx, "ANALYZE "+pgFQN(r.cfg.Table)); err != nil {
		return fmt.Errorf("postgres: analyze: %w", err)
	}
	return nil
}

// CopyRows streams rows into the table via COPY inside a single transaction.
func (r *Repository) CopyRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}

	n, err := tx.CopyFrom(ctx, splitFQN(r.cfg.Table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		_ = tx.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("postgres: copy: %s (%s)", pgErr.Detail, pgErr.SQLState())
		}
		return 0, fmt.Errorf("postgres: copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	float_id INTEGER NOT NULL,
	profile_date TIMESTAMPTZ NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	pressure DOUBLE PRECISION NOT NULL,
	temperature DOUBLE PRECISION,
	salinity DOUBLE PRECISION
)`, pgFQN(table))
}

func indexSQL(table string) []string {
	base := strings.ReplaceAll(table, ".", "_")
	fqn := pgFQN(table)
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_float_date ON %s (float_id, profile_date DESC)", base, fqn),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_profile_date ON %s (profile_date DESC)", base, fqn),
	}
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.argo_profiles"
// to "public"."argo_profiles".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
