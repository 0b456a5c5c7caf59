// Package scrape orchestrates catalog scrape jobs: sequential pagination per
// source, a bounded worker pool across sources, retry with backoff, and
// progress event emission.
package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/extract"
	"github.com/gameshelf/gameshelf/internal/progress"
)

// AssetSink receives image URLs discovered during a scrape. Implementations
// must not block; asset downloads never hold up ingestion.
type AssetSink interface {
	EnqueueImages(threadID string, urls []string)
}

// Config bounds one job run.
type Config struct {
	// MaxPagesPerJob caps listing pages walked per source; 0 means no cap.
	MaxPagesPerJob int
	// SourceWorkers bounds how many sources are walked concurrently.
	SourceWorkers int
	// PageDelay is the politeness pause between page fetches within a source.
	PageDelay time.Duration
}

// Runner executes a single scrape job across its sources.
type Runner struct {
	fetcher catalog.Fetcher
	store   catalog.Store
	assets  AssetSink
	emitter progress.Emitter
	policy  RetryPolicy
	clock   catalog.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewRunner wires a Runner. assets may be nil when image caching is disabled.
func NewRunner(
	fetcher catalog.Fetcher,
	store catalog.Store,
	assets AssetSink,
	emitter progress.Emitter,
	policy RetryPolicy,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SourceWorkers <= 0 {
		cfg.SourceWorkers = 1
	}
	return &Runner{
		fetcher: fetcher,
		store:   store,
		assets:  assets,
		emitter: emitter,
		policy:  policy,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run walks every source and returns the final counters and job status. A
// failed page is recorded and never aborts the job; only a storage integrity
// failure or cancellation ends the run early.
func (r *Runner) Run(ctx context.Context, jobID string, sources []catalog.Source) (catalog.JobCounters, catalog.JobStatus, error) {
	r.emit(progress.Event{JobID: jobID, Stage: progress.StageStarted})

	work := make(chan catalog.Source)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		counters   catalog.JobCounters
		storageErr error
	)

	workers := r.cfg.SourceWorkers
	if workers > len(sources) {
		workers = len(sources)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for source := range work {
				sc, err := r.walkSource(ctx, jobID, source)
				mu.Lock()
				counters.Add(sc)
				if err != nil && storageErr == nil && !isCancellation(err) {
					storageErr = err
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, source := range sources {
		select {
		case work <- source:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	now := r.clock.Now()
	switch {
	case ctx.Err() != nil:
		r.emit(progress.Event{JobID: jobID, TS: now, Stage: progress.StageCancelled, Counters: counters})
		return counters, catalog.JobStatusCancelled, ctx.Err()
	case storageErr != nil:
		r.emit(progress.Event{JobID: jobID, TS: now, Stage: progress.StageCompleted, Counters: counters, Note: storageErr.Error()})
		return counters, catalog.JobStatusFailed, storageErr
	case counters.PagesFailed > 0:
		r.emit(progress.Event{JobID: jobID, TS: now, Stage: progress.StageCompleted, Counters: counters})
		return counters, catalog.JobStatusCompletedWithErrors, nil
	default:
		r.emit(progress.Event{JobID: jobID, TS: now, Stage: progress.StageCompleted, Counters: counters})
		return counters, catalog.JobStatusCompleted, nil
	}
}

// walkSource pages through one source sequentially. The returned error is
// non-nil only for storage integrity failures or cancellation; fetch and parse
// problems are folded into the counters.
func (r *Runner) walkSource(ctx context.Context, jobID string, source catalog.Source) (catalog.JobCounters, error) {
	var counters catalog.JobCounters
	pageURL := source.URL

	for page := 1; pageURL != ""; page++ {
		if r.cfg.MaxPagesPerJob > 0 && page > r.cfg.MaxPagesPerJob {
			break
		}
		if err := ctx.Err(); err != nil {
			return counters, err
		}

		listing, dur, err := r.fetchListing(ctx, jobID, pageURL, &counters)
		if err != nil {
			r.recordPageFailure(jobID, source, page, pageURL, err, &counters)
			// Without the listing there is no next-page link; the source ends
			// here but the job carries on.
			break
		}
		counters.PagesFetched++
		r.emit(progress.Event{
			JobID: jobID, Stage: progress.StagePageFetched,
			Source: source.ID, Page: page, URL: pageURL, Dur: dur,
			Counters: counters,
		})

		for _, ref := range listing.Threads {
			if err := ctx.Err(); err != nil {
				return counters, err
			}
			if err := r.ingestThread(ctx, jobID, source, page, ref, &counters); err != nil {
				return counters, err
			}
		}

		pageURL = listing.NextPageURL
		if pageURL != "" {
			if err := sleepCtx(ctx, r.cfg.PageDelay); err != nil {
				return counters, err
			}
		}
	}
	return counters, nil
}

func (r *Runner) fetchListing(ctx context.Context, jobID, pageURL string, counters *catalog.JobCounters) (extract.ListingPage, time.Duration, error) {
	resp, retries, err := fetchWithRetry(ctx, r.fetcher, r.policy, catalog.FetchRequest{JobID: jobID, URL: pageURL})
	counters.Retries += retries
	if err != nil {
		return extract.ListingPage{}, 0, err
	}
	listing, err := extract.Listing(resp.Body, resp.URL)
	if err != nil {
		return extract.ListingPage{}, 0, catalog.PermanentFetchError(pageURL, resp.StatusCode, err)
	}
	return listing, resp.Duration, nil
}

// ingestThread fetches one thread page, extracts its record, and merges it.
// Its only non-nil error is storage integrity: fetch and category problems
// are absorbed into the counters.
func (r *Runner) ingestThread(ctx context.Context, jobID string, source catalog.Source, page int, ref extract.ThreadRef, counters *catalog.JobCounters) error {
	resp, retries, err := fetchWithRetry(ctx, r.fetcher, r.policy, catalog.FetchRequest{JobID: jobID, URL: ref.URL})
	counters.Retries += retries
	if err != nil {
		if isCancellation(err) {
			return err
		}
		r.recordPageFailure(jobID, source, page, ref.URL, err, counters)
		return nil
	}
	counters.PagesFetched++

	record, err := extract.Thread(resp.Body, resp.URL)
	if err != nil {
		r.recordPageFailure(jobID, source, page, ref.URL, catalog.PermanentFetchError(ref.URL, resp.StatusCode, err), counters)
		return nil
	}
	if record.Category == catalog.CategoryUnrecognized {
		counters.Skipped++
		r.logger.Debug("thread outside allowed categories",
			zap.String("thread_id", record.ThreadID), zap.String("url", ref.URL))
		return nil
	}

	outcome, err := r.store.Upsert(ctx, record, r.clock.Now())
	if err != nil {
		if errors.Is(err, catalog.ErrStorageIntegrity) || isCancellation(err) {
			return err
		}
		r.logger.Warn("thread upsert failed",
			zap.String("thread_id", record.ThreadID), zap.Error(err))
		counters.PagesFailed++
		return nil
	}

	switch {
	case outcome.Inserted:
		counters.Inserted++
	case outcome.Changed:
		counters.Updated++
	default:
		counters.Skipped++
	}

	if r.assets != nil && len(record.Images) > 0 {
		r.assets.EnqueueImages(record.ThreadID, record.Images)
	}

	r.emit(progress.Event{
		JobID: jobID, Stage: progress.StageThreadUpserted,
		Source: source.ID, URL: ref.URL,
		ThreadID: record.ThreadID,
		Inserted: outcome.Inserted, Changed: outcome.Changed,
		Counters: *counters,
	})
	return nil
}

func (r *Runner) recordPageFailure(jobID string, source catalog.Source, page int, url string, err error, counters *catalog.JobCounters) {
	counters.PagesFailed++
	kind := string(catalog.FetchPermanent)
	if catalog.IsTransientFetch(err) {
		kind = string(catalog.FetchTransient)
	}
	r.logger.Warn("page fetch failed",
		zap.String("source", source.ID), zap.Int("page", page),
		zap.String("url", url), zap.String("error_kind", kind), zap.Error(err))
	r.emit(progress.Event{
		JobID: jobID, Stage: progress.StagePageFailed,
		Source: source.ID, Page: page, URL: url,
		ErrorKind: kind, Note: err.Error(),
		Counters: *counters,
	})
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.emitter.Emit(evt)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
