// Package sqlite implements the argo_profiles repository on SQLite via
// database/sql and the pure-Go modernc driver. It exists for local
// development and tests; SQLite has no COPY equivalent, so CopyRows uses a
// prepared INSERT inside a single transaction, which preserves the per-file
// atomicity contract.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"argoetl/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, Config{DSN: cfg.DSN, Table: cfg.Table})
	})
}

// Config holds SQLite repository configuration. DSN is passed straight to
// database/sql, e.g. "argo.db" or "file:argo.db?cache=shared".
type Config struct {
	DSN   string
	Table string
}

// Repository is a SQLite-backed storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database and fails fast on an unusable DSN.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("sqlite: table must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Repository{db: db, cfg: cfg}, nil
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureTable creates the target table if absent.
func (r *Repository) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	float_id INTEGER NOT NULL,
	profile_date TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	pressure REAL NOT NULL,
	temperature REAL,
	salinity REAL
)`, quote(r.cfg.Table))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: ensure table: %w", err)
	}
	return nil
}

// Truncate deletes all rows and resets the AUTOINCREMENT counter so reloads
// number rows from 1 again.
func (r *Repository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+quote(r.cfg.Table)); err != nil {
		return fmt.Errorf("sqlite: truncate: %w", err)
	}
	// sqlite_sequence only exists once an AUTOINCREMENT insert happened.
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", r.cfg.Table); err != nil &&
		!strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("sqlite: reset sequence: %w", err)
	}
	return nil
}

// BuildIndexes creates the supporting indexes and refreshes statistics.
func (r *Repository) BuildIndexes(ctx context.Context) error {
	base := strings.ReplaceAll(r.cfg.Table, ".", "_")
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_float_date ON %s (float_id, profile_date DESC)", base, quote(r.cfg.Table)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_profile_date ON %s (profile_date DESC)", base, quote(r.cfg.Table)),
		"ANALYZE",
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: %q: %w", stmt, err)
		}
	}
	return nil
}

// CopyRows inserts rows with one prepared statement inside one transaction.
func (r *Repository) CopyRows(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: CopyRows: columns must not be empty")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(r.cfg.Table), strings.Join(quoted, ", "), placeholders)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: row has %d values, want %d", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, bindValues(row)...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: insert: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Close releases the database handle.
func (r *Repository) Close() {
	_ = r.db.Close()
}

// bindValues converts timestamps to RFC3339 text; SQLite has no native
// timestamp type and lexicographic order must match chronological order for
// the profile_date indexes to be useful.
func bindValues(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if t, ok := v.(time.Time); ok {
			out[i] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[i] = v
	}
	return out
}

func quote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
