// Package config resolves the run-scoped configuration for the ingestion
// pipeline. Values are layered: built-in defaults, then environment (with an
// optional .env file), then CLI flag overrides applied by the command layer.
// The resolved Config is immutable for the duration of a run.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults mirror the conventional local layout: NetCDF drops live under
// "nc files" and land in the argo_profiles analytics table.
const (
	DefaultRoot  = "nc files"
	DefaultTable = "argo_profiles"
	DefaultKind  = "postgres"
)

// ErrMissingCredentials is returned when neither DATABASE_URL nor the discrete
// DB_* variables provide enough information to reach the database.
var ErrMissingCredentials = errors.New(
	"config: provide DATABASE_URL or DB_PASSWORD (with optional DB_USER/DB_HOST/DB_PORT/DB_NAME)")

// Config carries the parameters of one pipeline invocation.
type Config struct {
	// Root is the directory walked for profile files.
	Root string

	// StorageKind selects the storage backend ("postgres", or "sqlite" for
	// local development).
	StorageKind string

	// DSN is the resolved database connection string.
	DSN string

	// Table is the target table name, optionally schema-qualified.
	Table string

	// Truncate empties the table (resetting the identity sequence) before
	// loading; when false the run appends.
	Truncate bool

	// LimitFiles caps the number of files processed; 0 means no cap.
	LimitFiles int

	// CreateIndexes builds the supporting indexes after all files load.
	CreateIndexes bool

	// Workers bounds concurrent per-file pipelines; 1 is fully sequential.
	Workers int
}

// Default returns the baseline configuration before environment and flag
// resolution.
func Default() Config {
	return Config{
		Root:          DefaultRoot,
		StorageKind:   DefaultKind,
		Table:         DefaultTable,
		Truncate:      true,
		CreateIndexes: true,
		Workers:       1,
	}
}

// FromEnv builds a Config from defaults plus the process environment. A .env
// file in the working directory is loaded first when present (missing files
// are fine). The DSN comes from DATABASE_URL, or is assembled from the
// discrete DB_* variables when DB_PASSWORD is set; otherwise the DSN is left
// empty and Validate reports ErrMissingCredentials.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.DSN = resolveDSN()
	return cfg
}

func resolveDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(getenv("DB_USER", "postgres")),
		url.QueryEscape(password),
		getenv("DB_HOST", "localhost"),
		getenv("DB_PORT", "5432"),
		getenv("DB_NAME", "float"),
	)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate reports the first fatal configuration problem, if any.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root directory must not be empty")
	}
	if strings.TrimSpace(c.Table) == "" {
		return errors.New("config: table name must not be empty")
	}
	if strings.TrimSpace(c.StorageKind) == "" {
		return errors.New("config: storage kind must not be empty")
	}
	if strings.TrimSpace(c.DSN) == "" {
		return ErrMissingCredentials
	}
	if c.LimitFiles < 0 {
		return fmt.Errorf("config: limit must not be negative, got %d", c.LimitFiles)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Redact returns the display form of a DSN with credentials removed, keeping
// the host/database tail for log lines.
func Redact(dsn string) string {
	if i := strings.LastIndex(dsn, "@"); i >= 0 {
		return dsn[i+1:]
	}
	return dsn
}
