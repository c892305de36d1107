package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"argoetl/internal/config"
	"argoetl/internal/discovery"
	"argoetl/internal/storage"
	"argoetl/pkg/tabular"
)

// fakeRepo is an in-memory storage.Repository that records the order of
// lifecycle calls and can be told to fail at specific points.
type fakeRepo struct {
	mu    sync.Mutex
	calls []string
	rows  int64

	pingErr     error
	ensureErr   error
	truncateErr error
	indexErr    error
	copyErr     map[int]error // fail the nth CopyRows call (0-based)
	copies      int
}

func (f *fakeRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRepo) Ping(context.Context) error { f.record("ping"); return f.pingErr }
func (f *fakeRepo) EnsureTable(context.Context) error {
	f.record("ensure")
	return f.ensureErr
}
func (f *fakeRepo) Truncate(context.Context) error {
	f.record("truncate")
	return f.truncateErr
}
func (f *fakeRepo) BuildIndexes(context.Context) error {
	f.record("indexes")
	return f.indexErr
}

func (f *fakeRepo) CopyRows(_ context.Context, _ []string, rows [][]any) (int64, error) {
	f.record("copy")
	f.mu.Lock()
	n := f.copies
	f.copies++
	f.mu.Unlock()
	if err, ok := f.copyErr[n]; ok {
		return 0, err
	}
	f.mu.Lock()
	f.rows += int64(len(rows))
	f.mu.Unlock()
	return int64(len(rows)), nil
}

func (f *fakeRepo) Close() { f.record("close") }

// stubSeams points the pipeline's seams at the fake repo and a synthetic
// reader/discovery, restoring the real ones on cleanup.
func stubSeams(t *testing.T, repo *fakeRepo, files []discovery.ProfileFile, readErr map[string]error) {
	t.Helper()

	origRepo, origCollect, origRead := newRepositoryFn, collectFn, readProfileFn
	t.Cleanup(func() {
		newRepositoryFn, collectFn, readProfileFn = origRepo, origCollect, origRead
	})

	newRepositoryFn = func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return repo, nil
	}
	collectFn = func(root string, limit int) ([]discovery.ProfileFile, error) {
		if len(files) == 0 {
			return nil, fmt.Errorf("%w under %q", discovery.ErrNoMatchingFiles, root)
		}
		if limit > 0 && limit < len(files) {
			return files[:limit], nil
		}
		return files, nil
	}
	readProfileFn = func(path string) (*tabular.Batch, error) {
		if err, ok := readErr[path]; ok {
			return nil, err
		}
		return validBatch(t, 3), nil
	}
}

// validBatch builds a batch whose rows all survive normalization.
func validBatch(tb testing.TB, rows int) *tabular.Batch {
	tb.Helper()
	b := tabular.NewBatch(rows)
	dates := make([]any, rows)
	lat := make([]any, rows)
	lon := make([]any, rows)
	pres := make([]any, rows)
	for i := 0; i < rows; i++ {
		dates[i] = time.Date(2023, 1, 1, i, 0, 0, 0, time.UTC)
		lat[i] = -12.5
		lon[i] = 67.1
		pres[i] = 10.0 + float64(i)
	}
	for name, col := range map[string][]any{
		"JULD": dates, "LATITUDE": lat, "LONGITUDE": lon, "PRES_ADJUSTED": pres,
	} {
		if err := b.Add(name, col); err != nil {
			tb.Fatalf("Add(%q): %v", name, err)
		}
	}
	return b
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DSN = "postgres://u:p@localhost:5432/float"
	cfg.Root = "/data/nc"
	return cfg
}

func testFiles(n int) []discovery.ProfileFile {
	files := make([]discovery.ProfileFile, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, discovery.ProfileFile{
			Path:    fmt.Sprintf("/data/nc/D590561%d_001.nc", i),
			FloatID: int64(5905610 + i),
			Delayed: true,
		})
	}
	return files
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRun_loadsAllFiles(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(3), nil)

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesAttempted != 3 || sum.FilesWithRows != 3 || sum.FilesFailed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RowsInserted != 9 {
		t.Fatalf("RowsInserted = %d, want 9", sum.RowsInserted)
	}
}

// A single corrupted file must not abort the run; the other files' rows load.
func TestRun_isolatesPerFileFailure(t *testing.T) {
	files := testFiles(3)
	repo := &fakeRepo{}
	stubSeams(t, repo, files, map[string]error{
		files[1].Path: errors.New("malformed container"),
	})

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesFailed != 1 || sum.FilesWithRows != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RowsInserted != 6 {
		t.Fatalf("RowsInserted = %d, want 6", sum.RowsInserted)
	}
}

// A failed bulk load is per-file too, not fatal.
func TestRun_isolatesCopyFailure(t *testing.T) {
	repo := &fakeRepo{copyErr: map[int]error{0: errors.New("copy: broken pipe")}}
	stubSeams(t, repo, testFiles(2), nil)

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesFailed != 1 || sum.RowsInserted != 3 {
		t.Fatalf("summary = %+v", sum)
	}
}

// Even a run where every file fails completes with zero rows.
func TestRun_allFilesFailedStillCompletes(t *testing.T) {
	files := testFiles(2)
	readErr := map[string]error{
		files[0].Path: errors.New("bad"),
		files[1].Path: errors.New("bad"),
	}
	repo := &fakeRepo{}
	stubSeams(t, repo, files, readErr)

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run aborted on per-file failures: %v", err)
	}
	if sum.RowsInserted != 0 || sum.FilesFailed != 2 || sum.FilesAttempted != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_unknownFloatIDIsPerFileFailure(t *testing.T) {
	files := testFiles(1)
	files[0].FloatID = 0
	repo := &fakeRepo{}
	stubSeams(t, repo, files, nil)

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesFailed != 1 || sum.RowsInserted != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_truncateBeforeLoadsIndexesAfter(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(2), nil)

	if _, err := New(testConfig(), discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var truncateAt, firstCopy, lastCopy, indexesAt = -1, -1, -1, -1
	for i, c := range repo.calls {
		switch c {
		case "truncate":
			truncateAt = i
		case "copy":
			if firstCopy < 0 {
				firstCopy = i
			}
			lastCopy = i
		case "indexes":
			indexesAt = i
		}
	}
	if truncateAt < 0 || indexesAt < 0 || firstCopy < 0 {
		t.Fatalf("missing lifecycle calls: %v", repo.calls)
	}
	if truncateAt > firstCopy {
		t.Fatalf("truncate ran after first load: %v", repo.calls)
	}
	if indexesAt < lastCopy {
		t.Fatalf("index build ran before last load: %v", repo.calls)
	}
}

func TestRun_noTruncateSkipsTruncate(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(1), nil)

	cfg := testConfig()
	cfg.Truncate = false
	if _, err := New(cfg, discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range repo.calls {
		if c == "truncate" {
			t.Fatalf("truncate called despite --no-truncate: %v", repo.calls)
		}
	}
}

func TestRun_skipIndexes(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(1), nil)

	cfg := testConfig()
	cfg.CreateIndexes = false
	if _, err := New(cfg, discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range repo.calls {
		if c == "indexes" {
			t.Fatalf("indexes built despite --skip-index: %v", repo.calls)
		}
	}
}

func TestRun_indexFailureIsNotFatal(t *testing.T) {
	repo := &fakeRepo{indexErr: errors.New("deadlock")}
	stubSeams(t, repo, testFiles(1), nil)

	sum, err := New(testConfig(), discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run treated index failure as fatal: %v", err)
	}
	if sum.RowsInserted != 3 {
		t.Fatalf("RowsInserted = %d, want 3", sum.RowsInserted)
	}
}

func TestRun_limitCapsFiles(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(5), nil)

	cfg := testConfig()
	cfg.LimitFiles = 2
	sum, err := New(cfg, discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesAttempted != 2 {
		t.Fatalf("FilesAttempted = %d, want 2", sum.FilesAttempted)
	}
}

func TestRun_fatalErrors(t *testing.T) {
	cases := []struct {
		name string
		repo *fakeRepo
	}{
		{"unreachable database", &fakeRepo{pingErr: errors.New("refused")}},
		{"ensure schema fails", &fakeRepo{ensureErr: errors.New("permission denied")}},
		{"truncate fails", &fakeRepo{truncateErr: errors.New("lock timeout")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stubSeams(t, tc.repo, testFiles(1), nil)
			if _, err := New(testConfig(), discard()).Run(context.Background()); err == nil {
				t.Fatalf("Run = nil, want fatal error")
			}
			for _, c := range tc.repo.calls {
				if c == "copy" {
					t.Fatalf("files were loaded after fatal setup failure: %v", tc.repo.calls)
				}
			}
		})
	}
}

func TestRun_noMatchingFilesIsFatal(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, nil, nil)

	_, err := New(testConfig(), discard()).Run(context.Background())
	if !errors.Is(err, discovery.ErrNoMatchingFiles) {
		t.Fatalf("Run = %v, want ErrNoMatchingFiles", err)
	}
}

func TestRun_missingCredentialsIsFatal(t *testing.T) {
	repo := &fakeRepo{}
	stubSeams(t, repo, testFiles(1), nil)

	cfg := testConfig()
	cfg.DSN = ""
	_, err := New(cfg, discard()).Run(context.Background())
	if !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("Run = %v, want ErrMissingCredentials", err)
	}
}

func TestRun_concurrentWorkersKeepIsolation(t *testing.T) {
	files := testFiles(8)
	readErr := map[string]error{files[3].Path: errors.New("bad")}
	repo := &fakeRepo{}
	stubSeams(t, repo, files, readErr)

	cfg := testConfig()
	cfg.Workers = 4
	sum, err := New(cfg, discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesFailed != 1 || sum.FilesWithRows != 7 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RowsInserted != 21 {
		t.Fatalf("RowsInserted = %d, want 21", sum.RowsInserted)
	}
}
