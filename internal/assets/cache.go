// Package assets maintains the content-addressed image cache. Thread images
// are fetched off the scrape path by a small worker pool, stored under their
// SHA-256 digest so games sharing an image share one file, and evicted least
// recently used once the cache grows past its byte budget.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/hash/sha256"
)

// Store is the bookkeeping surface the cache writes through. *database.DB
// satisfies it.
type Store interface {
	GetByThreadID(ctx context.Context, threadID string) (catalog.GameRecord, error)
	PutCacheEntry(ctx context.Context, entry catalog.CacheEntry) error
	TouchCacheEntry(ctx context.Context, hash string, at time.Time) error
	ReleaseCacheEntry(ctx context.Context, hash string) error
	DeleteCacheEntry(ctx context.Context, hash string) error
	CacheSize(ctx context.Context) (int64, error)
	EvictableCacheEntries(ctx context.Context) ([]catalog.CacheEntry, error)
	SetAssetPaths(ctx context.Context, threadID, coverPath, headerPath string) error
}

// Config tunes the cache.
type Config struct {
	// Dir is the root directory blobs are written under.
	Dir string
	// MaxBytes is the eviction ceiling. Zero disables eviction.
	MaxBytes int64
	// Workers is the number of download goroutines.
	Workers int
	// MaxRetries bounds transient retries per image. Assets are decorative,
	// so the ceiling stays lower than the page fetch budget.
	MaxRetries int
	// QueueSize bounds the pending queue. Enqueues past it are dropped.
	QueueSize int
	// RetryBaseDelay seeds the backoff between transient retries.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	return c
}

type imageJob struct {
	threadID string
	urls     []string
}

// Cache downloads and stores thread images. It never surfaces failures to
// the scrape pipeline; a game with no cached cover is still a valid record.
type Cache struct {
	cfg     Config
	fetcher catalog.Fetcher
	store   Store
	clock   catalog.Clock
	logger  *zap.Logger

	jobs   chan imageJob
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once

	evictMu sync.Mutex
}

// New builds a Cache and starts its workers. Callers must Close it to drain
// the queue on shutdown.
func New(cfg Config, fetcher catalog.Fetcher, store Store, clock catalog.Clock, logger *zap.Logger) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		logger:  logger,
		jobs:    make(chan imageJob, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// EnqueueImages queues a thread's images for caching. It never blocks; when
// the queue is full the images are dropped and picked up on the next scrape.
func (c *Cache) EnqueueImages(threadID string, urls []string) {
	if c == nil || c.closed.Load() || threadID == "" || len(urls) == 0 {
		return
	}
	job := imageJob{threadID: threadID, urls: urls}
	select {
	case c.jobs <- job:
	default:
		c.logger.Warn("asset queue full, dropping images",
			zap.String("thread_id", threadID),
			zap.Int("count", len(urls)))
	}
}

// Close stops intake, drains queued work, and waits for the workers.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.jobs)
	})
	c.wg.Wait()
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for job := range c.jobs {
		c.processThread(context.Background(), job)
	}
}

// processThread caches up to two images per thread. The first URL (the
// og:image) becomes the cover, the second the header banner. Slots whose
// download fails keep their previous path.
func (c *Cache) processThread(ctx context.Context, job imageJob) {
	record, err := c.store.GetByThreadID(ctx, job.threadID)
	if err != nil {
		c.logger.Warn("asset caching skipped, record not loadable",
			zap.String("thread_id", job.threadID), zap.Error(err))
		return
	}

	coverPath := c.cacheSlot(ctx, job.threadID, job.urls[0], record.CoverPath)
	headerPath := record.HeaderPath
	if len(job.urls) > 1 {
		headerPath = c.cacheSlot(ctx, job.threadID, job.urls[1], record.HeaderPath)
	}

	if coverPath != record.CoverPath || headerPath != record.HeaderPath {
		if err := c.store.SetAssetPaths(ctx, job.threadID, coverPath, headerPath); err != nil {
			c.logger.Warn("asset path update failed",
				zap.String("thread_id", job.threadID), zap.Error(err))
		}
	}
	c.evict(ctx)
}

// cacheSlot fetches one image and returns its cache-relative path, or the
// previous path when the fetch fails. A slot that keeps its content only has
// its last access refreshed; a slot that changes picks up a reference on the
// new blob and drops one from the old.
func (c *Cache) cacheSlot(ctx context.Context, threadID, url, previous string) string {
	data, err := c.download(ctx, url)
	if err != nil {
		c.logger.Debug("asset fetch failed",
			zap.String("thread_id", threadID),
			zap.String("url", url),
			zap.Error(err))
		return previous
	}

	digest := sha256.Sum(data)
	rel := blobPath(digest)
	now := c.clock.Now()

	if rel == previous {
		if err := c.store.TouchCacheEntry(ctx, digest, now); err != nil {
			c.logger.Warn("cache touch failed", zap.String("hash", digest), zap.Error(err))
		}
		return previous
	}

	if err := c.writeBlob(rel, data); err != nil {
		c.logger.Warn("asset write failed",
			zap.String("thread_id", threadID),
			zap.String("hash", digest),
			zap.Error(err))
		return previous
	}
	if err := c.store.PutCacheEntry(ctx, catalog.CacheEntry{
		Hash:         digest,
		Path:         rel,
		Size:         int64(len(data)),
		LastAccessed: now,
	}); err != nil {
		c.logger.Warn("cache bookkeeping failed", zap.String("hash", digest), zap.Error(err))
		return previous
	}
	if previous != "" {
		if err := c.store.ReleaseCacheEntry(ctx, hashFromPath(previous)); err != nil {
			c.logger.Warn("cache release failed", zap.String("path", previous), zap.Error(err))
		}
	}
	return rel
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := c.fetcher.Fetch(ctx, catalog.FetchRequest{URL: url})
		if err == nil {
			return resp.Body, nil
		}
		lastErr = err
		if !catalog.IsTransientFetch(err) {
			break
		}
	}
	return nil, lastErr
}

// writeBlob lands a blob at its content address. An existing file is left
// alone; identical content means identical bytes on disk.
func (c *Cache) writeBlob(rel string, data []byte) error {
	abs := filepath.Join(c.cfg.Dir, rel)
	if _, err := os.Stat(abs); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o600); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

// evict removes least recently used zero-reference blobs until the cache
// fits its budget again. Referenced blobs are never removed.
func (c *Cache) evict(ctx context.Context) {
	if c.cfg.MaxBytes <= 0 {
		return
	}
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	total, err := c.store.CacheSize(ctx)
	if err != nil {
		c.logger.Warn("cache size check failed", zap.Error(err))
		return
	}
	if total <= c.cfg.MaxBytes {
		return
	}

	entries, err := c.store.EvictableCacheEntries(ctx)
	if err != nil {
		c.logger.Warn("evictable listing failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if total <= c.cfg.MaxBytes {
			return
		}
		abs := filepath.Join(c.cfg.Dir, entry.Path)
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("blob removal failed", zap.String("hash", entry.Hash), zap.Error(err))
			continue
		}
		if err := c.store.DeleteCacheEntry(ctx, entry.Hash); err != nil {
			c.logger.Warn("cache delete failed", zap.String("hash", entry.Hash), zap.Error(err))
			continue
		}
		total -= entry.Size
		c.logger.Debug("evicted asset",
			zap.String("hash", entry.Hash),
			zap.Int64("size", entry.Size))
	}
}

// blobPath shards blobs by the first two digest characters to keep directory
// fan-out manageable.
func blobPath(digest string) string {
	return filepath.Join(digest[:2], digest)
}

func hashFromPath(path string) string {
	return filepath.Base(path)
}
