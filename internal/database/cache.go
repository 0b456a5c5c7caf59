package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// PutCacheEntry records a content-addressed asset, bumping its refcount and
// last access when the hash already exists.
func (db *DB) PutCacheEntry(ctx context.Context, entry catalog.CacheEntry) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.sql.ExecContext(ctx, `
		INSERT INTO cache_entries (hash, path, size_bytes, ref_count, last_accessed)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(hash) DO UPDATE SET
			ref_count = ref_count + 1,
			last_accessed = excluded.last_accessed`,
		entry.Hash, entry.Path, entry.Size, entry.LastAccessed.Unix()); err != nil {
		return storageErr("put cache entry", err)
	}
	return nil
}

// TouchCacheEntry refreshes last access for an existing entry.
func (db *DB) TouchCacheEntry(ctx context.Context, hash string, at time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.sql.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed = ? WHERE hash = ?`, at.Unix(), hash); err != nil {
		return storageErr("touch cache entry", err)
	}
	return nil
}

// ReleaseCacheEntry drops one reference from an entry, never below zero.
func (db *DB) ReleaseCacheEntry(ctx context.Context, hash string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.sql.ExecContext(ctx, `
		UPDATE cache_entries SET ref_count = MAX(ref_count - 1, 0)
		WHERE hash = ?`, hash); err != nil {
		return storageErr("release cache entry", err)
	}
	return nil
}

// GetCacheEntry loads one entry by its content hash.
func (db *DB) GetCacheEntry(ctx context.Context, hash string) (catalog.CacheEntry, error) {
	var (
		entry        catalog.CacheEntry
		lastAccessed int64
	)
	err := db.sql.QueryRowContext(ctx, `
		SELECT hash, path, size_bytes, ref_count, last_accessed
		FROM cache_entries WHERE hash = ?`, hash).
		Scan(&entry.Hash, &entry.Path, &entry.Size, &entry.RefCount, &lastAccessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.CacheEntry{}, catalog.ErrNotFound
		}
		return catalog.CacheEntry{}, fmt.Errorf("load cache entry: %w", err)
	}
	entry.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	return entry, nil
}

// DeleteCacheEntry removes the bookkeeping row for an evicted asset.
func (db *DB) DeleteCacheEntry(ctx context.Context, hash string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE hash = ?`, hash); err != nil {
		return storageErr("delete cache entry", err)
	}
	return nil
}

// CacheSize returns the total bytes tracked by the cache.
func (db *DB) CacheSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := db.sql.QueryRowContext(ctx,
		`SELECT SUM(size_bytes) FROM cache_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cache size: %w", err)
	}
	return total.Int64, nil
}

// EvictableCacheEntries lists zero-refcount entries, least recently used
// first, for the cache's eviction pass.
func (db *DB) EvictableCacheEntries(ctx context.Context) ([]catalog.CacheEntry, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT hash, path, size_bytes, ref_count, last_accessed
		FROM cache_entries WHERE ref_count = 0
		ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, fmt.Errorf("list evictable cache entries: %w", err)
	}
	defer rows.Close()

	var entries []catalog.CacheEntry
	for rows.Next() {
		var (
			entry        catalog.CacheEntry
			lastAccessed int64
		)
		if err := rows.Scan(&entry.Hash, &entry.Path, &entry.Size, &entry.RefCount, &lastAccessed); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entry.LastAccessed = time.Unix(lastAccessed, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetAssetPaths stores the cover/header cache paths on a record once its
// images land in the asset cache.
func (db *DB) SetAssetPaths(ctx context.Context, threadID, coverPath, headerPath string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.sql.ExecContext(ctx, `
		UPDATE games SET cover_path = ?, header_path = ?
		WHERE thread_id = ?`, coverPath, headerPath, threadID)
	if err != nil {
		return storageErr("set asset paths", err)
	}
	return requireRow(res, threadID)
}
