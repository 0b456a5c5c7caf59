package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

func TestCacheEntryLifecycle(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := t.Context()

	entry := catalog.CacheEntry{
		Hash: "abc123", Path: "ab/abc123", Size: 2048, LastAccessed: scrapeTime(1),
	}
	require.NoError(t, db.PutCacheEntry(ctx, entry))

	got, err := db.GetCacheEntry(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, 1, got.RefCount)
	require.Equal(t, int64(2048), got.Size)

	// A second reference to the same content bumps the refcount.
	entry.LastAccessed = scrapeTime(2)
	require.NoError(t, db.PutCacheEntry(ctx, entry))
	got, err = db.GetCacheEntry(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, 2, got.RefCount)
	require.Equal(t, scrapeTime(2), got.LastAccessed)

	require.NoError(t, db.ReleaseCacheEntry(ctx, "abc123"))
	require.NoError(t, db.ReleaseCacheEntry(ctx, "abc123"))
	require.NoError(t, db.ReleaseCacheEntry(ctx, "abc123")) // never below zero
	got, err = db.GetCacheEntry(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, 0, got.RefCount)

	size, err := db.CacheSize(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2048), size)

	require.NoError(t, db.DeleteCacheEntry(ctx, "abc123"))
	_, err = db.GetCacheEntry(ctx, "abc123")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestEvictableCacheEntriesLRUOrder(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := t.Context()

	for i, hash := range []string{"old", "mid", "new"} {
		require.NoError(t, db.PutCacheEntry(ctx, catalog.CacheEntry{
			Hash: hash, Path: hash, Size: 100, LastAccessed: scrapeTime(i + 1),
		}))
		require.NoError(t, db.ReleaseCacheEntry(ctx, hash))
	}
	// A referenced entry is never evictable.
	require.NoError(t, db.PutCacheEntry(ctx, catalog.CacheEntry{
		Hash: "pinned", Path: "pinned", Size: 100, LastAccessed: scrapeTime(4),
	}))

	entries, err := db.EvictableCacheEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "old", entries[0].Hash)
	require.Equal(t, "mid", entries[1].Hash)
	require.Equal(t, "new", entries[2].Hash)
}

func TestSetAssetPaths(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := t.Context()

	_, err := db.Upsert(ctx, sampleRecord("100"), scrapeTime(1))
	require.NoError(t, err)

	require.NoError(t, db.SetAssetPaths(ctx, "100", "ab/cover", "cd/header"))
	record, err := db.GetByThreadID(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, "ab/cover", record.CoverPath)
	require.Equal(t, "cd/header", record.HeaderPath)

	require.ErrorIs(t, db.SetAssetPaths(ctx, "missing", "a", "b"), catalog.ErrNotFound)
}
