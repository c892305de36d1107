package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"argoetl/internal/config"
	"argoetl/internal/metrics"
	"argoetl/internal/metrics/datadog"
	"argoetl/internal/metrics/prompush"
	"argoetl/internal/pipeline"

	// Register the built-in storage backends.
	_ "argoetl/internal/storage/all"
)

type rootFlags struct {
	root       string
	noTruncate bool
	limit      int
	skipIndex  bool

	storageKind string
	dsn         string
	table       string
	workers     int

	metricsBackend string
	pushgatewayURL string
	statsdAddr     string

	verbose bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "argoetl",
		Short: "Load Argo NetCDF profiles into the analytics database",
		Long: `argoetl discovers NetCDF profile files under the root directory, normalizes
their heterogeneous layouts into the canonical argo_profiles schema, and
bulk-loads them. By default the target table is truncated first so a full
reload is idempotent; use --no-truncate to append.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.root, "root", config.DefaultRoot, "root directory containing float profile subfolders")
	f.BoolVar(&flags.noTruncate, "no-truncate", false, "append to the target table instead of truncating it first")
	f.IntVar(&flags.limit, "limit", 0, "process at most N files (0 = all; useful for smoke tests)")
	f.BoolVar(&flags.skipIndex, "skip-index", false, "skip creating/updating supporting indexes at the end of the run")
	f.StringVar(&flags.storageKind, "storage", config.DefaultKind, "storage backend (postgres, sqlite)")
	f.StringVar(&flags.dsn, "dsn", "", "database connection string (overrides DATABASE_URL / DB_* env)")
	f.StringVar(&flags.table, "table", config.DefaultTable, "target table name")
	f.IntVar(&flags.workers, "workers", 1, "concurrent per-file pipelines")
	f.StringVar(&flags.metricsBackend, "metrics-backend", "none", "metrics backend (none, pushgateway, datadog)")
	f.StringVar(&flags.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	f.StringVar(&flags.statsdAddr, "statsd-addr", "", "DogStatsD address (overrides env STATSD_ADDR)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logs")

	return cmd
}

func run(cmd *cobra.Command, flags rootFlags) error {
	log := newLogger(flags.verbose)

	cfg := applyFlags(config.FromEnv(), flags)

	if err := setupMetrics(log, flags); err != nil {
		// A broken metrics backend should not block ingestion.
		log.Warn("metrics disabled", "err", err)
	}
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", "err", err)
		}
	}()

	start := time.Now()
	summary, err := pipeline.New(cfg, log).Run(cmd.Context())
	if err != nil {
		log.Error("pipeline aborted", "err", err)
		return err
	}

	log.Info("done",
		"rows", summary.RowsInserted,
		"files", summary.FilesAttempted,
		"elapsed", time.Since(start).Truncate(time.Millisecond),
	)
	return nil
}

// applyFlags layers CLI overrides on top of the environment-derived config.
// The DSN flag only wins when set, so env credentials remain the default.
func applyFlags(cfg config.Config, flags rootFlags) config.Config {
	cfg.Root = flags.root
	cfg.Truncate = !flags.noTruncate
	cfg.LimitFiles = flags.limit
	cfg.CreateIndexes = !flags.skipIndex
	cfg.StorageKind = flags.storageKind
	cfg.Table = flags.table
	cfg.Workers = flags.workers
	if flags.dsn != "" {
		cfg.DSN = flags.dsn
	}
	return cfg
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

// setupMetrics installs the requested metrics backend: flag, then env, then
// default for each setting.
func setupMetrics(log *slog.Logger, flags rootFlags) error {
	switch flags.metricsBackend {
	case "", "none":
		return nil

	case "pushgateway":
		gwURL := flags.pushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("argoetl", gwURL)
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
		log.Debug("metrics enabled", "backend", "pushgateway", "url", gwURL)
		return nil

	case "datadog":
		addr := flags.statsdAddr
		if addr == "" {
			addr = os.Getenv("STATSD_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "argoetl."})
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
		log.Debug("metrics enabled", "backend", "datadog", "addr", addr)
		return nil

	default:
		return fmt.Errorf("unknown metrics backend %q", flags.metricsBackend)
	}
}
