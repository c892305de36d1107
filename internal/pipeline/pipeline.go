// Package pipeline composes discovery, decoding, normalization, and bulk
// loading into one ingestion run.
//
// Failure policy: configuration, connectivity, schema DDL, and discovery
// problems abort the run; anything that goes wrong while processing a single
// file is captured in that file's FileResult and the run continues. A run in
// which every file failed still completes (best-effort ingestion), so callers
// must inspect the summary counts, not just the exit status.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"argoetl/internal/config"
	"argoetl/internal/discovery"
	"argoetl/internal/metrics"
	"argoetl/internal/ncdf"
	"argoetl/internal/normalize"
	"argoetl/internal/storage"
)

// pingMaxElapsed bounds the connectivity retry loop before the run aborts.
const pingMaxElapsed = 30 * time.Second

// Summary aggregates the outcome of one run.
type Summary struct {
	FilesAttempted int   // every discovered file, including failed ones
	FilesWithRows  int   // files that contributed at least one row
	FilesFailed    int   // files whose processing errored
	RowsInserted   int64 // total rows committed
}

// FileResult is the outcome of processing a single profile file: either
// success with a row count or failure with a cause. Expected per-file
// conditions travel as values, not panics.
type FileResult struct {
	File discovery.ProfileFile
	Rows int64
	Err  error
}

// Test seams; production values point at the real implementations.
var (
	newRepositoryFn = storage.New
	collectFn       = discovery.Collect
	readProfileFn   = ncdf.ReadProfile
)

// Runner executes ingestion runs for one immutable Config.
type Runner struct {
	cfg config.Config
	log *slog.Logger
}

// New returns a Runner. A nil logger falls back to slog.Default.
func New(cfg config.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, log: log}
}

// Run executes the pipeline. A non-nil error means the run aborted; per-file
// failures are reflected in the Summary only.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if err := r.cfg.Validate(); err != nil {
		return Summary{}, err
	}

	repo, err := newRepositoryFn(ctx, storage.Config{
		Kind:  r.cfg.StorageKind,
		DSN:   r.cfg.DSN,
		Table: r.cfg.Table,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	r.log.Info("connecting", "storage", r.cfg.StorageKind, "target", config.Redact(r.cfg.DSN))
	if err := pingWithRetry(ctx, repo); err != nil {
		return Summary{}, fmt.Errorf("database unreachable: %w", err)
	}

	if err := r.step(ctx, "ensure_schema", repo.EnsureTable); err != nil {
		return Summary{}, fmt.Errorf("ensure schema: %w", err)
	}

	if r.cfg.Truncate {
		if err := r.step(ctx, "truncate", repo.Truncate); err != nil {
			return Summary{}, fmt.Errorf("truncate: %w", err)
		}
		r.log.Info("table truncated", "table", r.cfg.Table)
	}

	start := time.Now()
	files, err := collectFn(r.cfg.Root, r.cfg.LimitFiles)
	metrics.RecordStep("discover", err, time.Since(start))
	if err != nil {
		return Summary{}, err
	}
	r.log.Info("discovered profile files", "count", len(files), "root", r.cfg.Root)

	summary := r.processAll(ctx, repo, files)

	if r.cfg.CreateIndexes {
		// Index maintenance after the load; failures are surfaced but do not
		// invalidate the rows already committed.
		if err := r.step(ctx, "build_indexes", repo.BuildIndexes); err != nil {
			r.log.Error("index build failed", "err", err)
		} else {
			r.log.Info("indexes ensured", "table", r.cfg.Table)
		}
	}

	r.log.Info("ingestion complete",
		"files", summary.FilesAttempted,
		"files_with_rows", summary.FilesWithRows,
		"files_failed", summary.FilesFailed,
		"rows", summary.RowsInserted,
	)
	return summary, nil
}

// processAll runs the per-file pipelines over a bounded worker pool. Each
// file's load stays in its own transaction, so failure isolation is unchanged
// at any worker count.
func (r *Runner) processAll(ctx context.Context, repo storage.Repository, files []discovery.ProfileFile) Summary {
	results := make([]FileResult, len(files))
	var rows atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			res := r.processFile(gctx, repo, f)
			results[i] = res
			rows.Add(res.Rows)
			return nil // per-file failures never cancel the group
		})
	}
	_ = g.Wait()

	summary := Summary{FilesAttempted: len(files), RowsInserted: rows.Load()}
	for _, res := range results {
		switch {
		case res.Err != nil:
			summary.FilesFailed++
		case res.Rows > 0:
			summary.FilesWithRows++
		}
	}
	return summary
}

// processFile runs read, normalize, and load for one file. All errors are
// captured in the result; none escape.
func (r *Runner) processFile(ctx context.Context, repo storage.Repository, f discovery.ProfileFile) FileResult {
	name := filepath.Base(f.Path)
	start := time.Now()

	n, err := func() (int64, error) {
		if f.FloatID <= 0 {
			return 0, fmt.Errorf("cannot determine float ID from filename %q", name)
		}
		batch, err := readProfileFn(f.Path)
		if err != nil {
			return 0, err
		}
		rows, err := normalize.Rows(batch, f.FloatID)
		if err != nil {
			return 0, err
		}
		metrics.RecordRows("dropped", int64(batch.NumRows()-len(rows)))
		vals := make([][]any, len(rows))
		for i := range rows {
			vals[i] = rows[i].Values()
		}
		return repo.CopyRows(ctx, normalize.Columns, vals)
	}()

	elapsed := time.Since(start)
	metrics.RecordStep("file", err, elapsed)
	metrics.RecordFile(err)
	if err != nil {
		r.log.Error("file failed", "file", name, "err", err)
		return FileResult{File: f, Err: err}
	}
	metrics.RecordRows("inserted", n)
	r.log.Info("file loaded", "file", name, "rows", n, "elapsed", elapsed.Truncate(time.Millisecond))
	return FileResult{File: f, Rows: n}
}

// step wraps a schema-manager call with timing metrics.
func (r *Runner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordStep(name, err, time.Since(start))
	return err
}

// pingWithRetry probes connectivity with exponential backoff; transient
// startup races (database still coming up) should not abort the run.
func pingWithRetry(ctx context.Context, repo storage.Repository) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = pingMaxElapsed
	return backoff.Retry(func() error {
		return repo.Ping(ctx)
	}, backoff.WithContext(bo, ctx))
}
