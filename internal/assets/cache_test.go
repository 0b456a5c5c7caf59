package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/database"
	"github.com/gameshelf/gameshelf/internal/hash/sha256"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// imageFetcher serves canned bodies per URL and counts calls.
type imageFetcher struct {
	bodies map[string][]byte
	fail   map[string]error
	calls  map[string]int
}

func newImageFetcher() *imageFetcher {
	return &imageFetcher{
		bodies: make(map[string][]byte),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *imageFetcher) Fetch(_ context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.calls[req.URL]++
	if err, ok := f.fail[req.URL]; ok {
		return catalog.FetchResponse{}, err
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return catalog.FetchResponse{}, catalog.PermanentFetchError(req.URL, 404, errors.New("not found"))
	}
	return catalog.FetchResponse{URL: req.URL, StatusCode: 200, Body: body}, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedGame(t *testing.T, db *database.DB, threadID string) {
	t.Helper()
	_, err := db.Upsert(context.Background(), catalog.PartialGameRecord{
		ThreadID:  threadID,
		Title:     "Cached Game",
		Category:  catalog.CategoryGames,
		Engine:    catalog.EngineRenPy,
		Status:    catalog.StatusOngoing,
		Version:   "1.0",
		SourceURL: "https://forum.example/threads/" + threadID,
	}, time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func newTestCache(t *testing.T, db *database.DB, fetcher catalog.Fetcher, cfg Config) *Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	clk := &fakeClock{now: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	cache := New(cfg, fetcher, db, clk, nil)
	t.Cleanup(cache.Close)
	return cache
}

func TestCacheStoresCoverAndHeader(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t100")

	fetcher := newImageFetcher()
	fetcher.bodies["https://img.example/cover.png"] = []byte("cover bytes")
	fetcher.bodies["https://img.example/header.png"] = []byte("header bytes")

	dir := t.TempDir()
	cache := newTestCache(t, db, fetcher, Config{Dir: dir})

	cache.EnqueueImages("t100", []string{
		"https://img.example/cover.png",
		"https://img.example/header.png",
	})
	cache.Close()

	record, err := db.GetByThreadID(context.Background(), "t100")
	require.NoError(t, err)

	coverHash := sha256.Sum([]byte("cover bytes"))
	headerHash := sha256.Sum([]byte("header bytes"))
	require.Equal(t, blobPath(coverHash), record.CoverPath)
	require.Equal(t, blobPath(headerHash), record.HeaderPath)

	// Blobs land at their content address.
	data, err := os.ReadFile(filepath.Join(dir, record.CoverPath))
	require.NoError(t, err)
	require.Equal(t, []byte("cover bytes"), data)

	entry, err := db.GetCacheEntry(context.Background(), coverHash)
	require.NoError(t, err)
	require.Equal(t, 1, entry.RefCount)
	require.Equal(t, int64(len("cover bytes")), entry.Size)
}

func TestCacheSharedImageSingleBlob(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t1")
	seedGame(t, db, "t2")

	fetcher := newImageFetcher()
	fetcher.bodies["https://img.example/a.png"] = []byte("shared artwork")
	fetcher.bodies["https://img.example/b.png"] = []byte("shared artwork")

	dir := t.TempDir()
	cache := newTestCache(t, db, fetcher, Config{Dir: dir, Workers: 1})

	cache.EnqueueImages("t1", []string{"https://img.example/a.png"})
	cache.EnqueueImages("t2", []string{"https://img.example/b.png"})
	cache.Close()

	digest := sha256.Sum([]byte("shared artwork"))
	entry, err := db.GetCacheEntry(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, 2, entry.RefCount)

	// One file on disk, referenced by both records.
	matches, err := filepath.Glob(filepath.Join(dir, "*", "*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestCacheUnchangedImageOnlyTouches(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t5")

	fetcher := newImageFetcher()
	fetcher.bodies["https://img.example/c.png"] = []byte("stable cover")

	cache := newTestCache(t, db, fetcher, Config{Workers: 1})

	cache.EnqueueImages("t5", []string{"https://img.example/c.png"})
	cache.EnqueueImages("t5", []string{"https://img.example/c.png"})
	cache.Close()

	digest := sha256.Sum([]byte("stable cover"))
	entry, err := db.GetCacheEntry(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, 1, entry.RefCount)
}

func TestCacheReplacedImageReleasesOldBlob(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t7")

	fetcher := newImageFetcher()
	fetcher.bodies["https://img.example/v1.png"] = []byte("old cover")

	cache := newTestCache(t, db, fetcher, Config{Workers: 1})
	cache.EnqueueImages("t7", []string{"https://img.example/v1.png"})
	cache.Close()

	// New scrape finds a different cover at the same slot.
	fetcher.bodies["https://img.example/v1.png"] = []byte("new cover")
	cache2 := newTestCache(t, db, fetcher, Config{Dir: cache.cfg.Dir, Workers: 1})
	cache2.EnqueueImages("t7", []string{"https://img.example/v1.png"})
	cache2.Close()

	oldDigest := sha256.Sum([]byte("old cover"))
	newDigest := sha256.Sum([]byte("new cover"))

	oldEntry, err := db.GetCacheEntry(context.Background(), oldDigest)
	require.NoError(t, err)
	require.Equal(t, 0, oldEntry.RefCount)

	newEntry, err := db.GetCacheEntry(context.Background(), newDigest)
	require.NoError(t, err)
	require.Equal(t, 1, newEntry.RefCount)

	record, err := db.GetByThreadID(context.Background(), "t7")
	require.NoError(t, err)
	require.Equal(t, blobPath(newDigest), record.CoverPath)
}

func TestCacheFetchFailureKeepsRecordUsable(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t9")

	fetcher := newImageFetcher()
	fetcher.fail["https://img.example/broken.png"] = catalog.PermanentFetchError(
		"https://img.example/broken.png", 403, errors.New("forbidden"))

	cache := newTestCache(t, db, fetcher, Config{Workers: 1})
	cache.EnqueueImages("t9", []string{"https://img.example/broken.png"})
	cache.Close()

	record, err := db.GetByThreadID(context.Background(), "t9")
	require.NoError(t, err)
	require.Empty(t, record.CoverPath)
	// Permanent failures are not retried.
	require.Equal(t, 1, fetcher.calls["https://img.example/broken.png"])
}

func TestCacheRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	seedGame(t, db, "t11")

	fetcher := newImageFetcher()
	fetcher.fail["https://img.example/flaky.png"] = catalog.TransientFetchError(
		"https://img.example/flaky.png", 503, errors.New("unavailable"))

	cache := newTestCache(t, db, fetcher, Config{
		Workers:        1,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	})
	cache.EnqueueImages("t11", []string{"https://img.example/flaky.png"})
	cache.Close()

	require.Equal(t, 3, fetcher.calls["https://img.example/flaky.png"])
}

func TestCacheEvictsLRUOverBudget(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	// Two unreferenced blobs and one pinned, 30 bytes total against a
	// 20-byte budget. Eviction must take the oldest free blob first and
	// never touch the pinned one.
	write := func(name string, content []byte, accessed time.Time, refs int) string {
		digest := sha256.Sum(content)
		rel := blobPath(digest)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, digest[:2]), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), content, 0o600))
		require.NoError(t, db.PutCacheEntry(ctx, catalog.CacheEntry{
			Hash: digest, Path: rel, Size: int64(len(content)), LastAccessed: accessed,
		}))
		if refs == 0 {
			require.NoError(t, db.ReleaseCacheEntry(ctx, digest))
		}
		return digest
	}

	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	oldest := write("a", []byte("0123456789"), base, 0)
	newer := write("b", []byte("abcdefghij"), base.Add(time.Hour), 0)
	pinned := write("c", []byte("pinnedblob"), base.Add(-time.Hour), 1)

	fetcher := newImageFetcher()
	cache := newTestCache(t, db, fetcher, Config{Dir: dir, MaxBytes: 20, Workers: 1})
	cache.evict(ctx)

	_, err := db.GetCacheEntry(ctx, oldest)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoFileExists(t, filepath.Join(dir, blobPath(oldest)))

	_, err = db.GetCacheEntry(ctx, newer)
	require.NoError(t, err)
	_, err = db.GetCacheEntry(ctx, pinned)
	require.NoError(t, err)

	total, err := db.CacheSize(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, total, int64(20))
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	fetcher := newImageFetcher()
	cache := newTestCache(t, db, fetcher, Config{Workers: 1})
	cache.Close()

	cache.EnqueueImages("t1", []string{"https://img.example/x.png"})
	require.Empty(t, fetcher.calls)
}
