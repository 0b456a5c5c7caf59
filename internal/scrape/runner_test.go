package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/progress"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type upsertCall struct {
	record catalog.PartialGameRecord
}

type fakeStore struct {
	mu       sync.Mutex
	calls    []upsertCall
	outcomes map[string]catalog.UpsertOutcome
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{outcomes: make(map[string]catalog.UpsertOutcome)}
}

func (s *fakeStore) Upsert(_ context.Context, record catalog.PartialGameRecord, _ time.Time) (catalog.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return catalog.UpsertOutcome{}, s.failWith
	}
	s.calls = append(s.calls, upsertCall{record: record})
	if outcome, ok := s.outcomes[record.ThreadID]; ok {
		return outcome, nil
	}
	return catalog.UpsertOutcome{Inserted: true, Changed: true}, nil
}

func (s *fakeStore) GetByThreadID(context.Context, string) (catalog.GameRecord, error) {
	return catalog.GameRecord{}, catalog.ErrNotFound
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	stages := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		stages = append(stages, evt.Stage)
	}
	return stages
}

func (e *recordingEmitter) count(stage progress.Stage) int {
	n := 0
	for _, s := range e.stages() {
		if s == stage {
			n++
		}
	}
	return n
}

func listingHTML(category string, nextURL string, threadLinks ...string) string {
	rows := ""
	for i, link := range threadLinks {
		rows += fmt.Sprintf(`<div class="structItem--thread"><div class="structItem-title">
			<a data-tp-primary="on" href="%s">Thread %d</a></div></div>`, link, i+1)
	}
	next := ""
	if nextURL != "" {
		next = fmt.Sprintf(`<a class="pageNav-jump--next" href="%s">Next</a>`, nextURL)
	}
	return fmt.Sprintf(`<html><body>
	<ul class="p-breadcrumbs"><li><span itemprop="name">Forum</span></li><li><span itemprop="name">%s</span></li></ul>
	%s%s</body></html>`, category, rows, next)
}

func threadHTML(category, title string) string {
	return fmt.Sprintf(`<html><body>
	<ul class="p-breadcrumbs"><li><span itemprop="name">Forum</span></li><li><span itemprop="name">%s</span></li><li><span itemprop="name">%s</span></li></ul>
	<h1 class="p-title-value">%s</h1>
	<div class="message-body"><div class="bbWrapper">About the game.</div></div>
	</body></html>`, category, title, title)
}

func newTestRunner(fetcher catalog.Fetcher, store catalog.Store, emitter progress.Emitter, cfg Config) *Runner {
	policy := NewExponentialRetryPolicy(2, time.Microsecond, time.Millisecond)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewRunner(fetcher, store, nil, emitter, policy, clock, cfg, nil)
}

func TestRunnerWalksPaginatedSource(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "https://f.test/forums/games.6/page-2", "https://f.test/threads/a.1/"))
	fetcher.page("https://f.test/forums/games.6/page-2",
		listingHTML("Games", "", "https://f.test/threads/b.2/"))
	fetcher.page("https://f.test/threads/a.1/", threadHTML("Games", "Game A [v1.0]"))
	fetcher.page("https://f.test/threads/b.2/", threadHTML("Games", "Game B"))

	store := newFakeStore()
	store.outcomes["2"] = catalog.UpsertOutcome{} // unchanged

	emitter := &recordingEmitter{}
	runner := newTestRunner(fetcher, store, emitter, Config{SourceWorkers: 1})

	counters, status, err := runner.Run(t.Context(), "job-1",
		[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompleted, status)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, 0, counters.Updated)
	require.Equal(t, 1, counters.Skipped)
	require.Equal(t, 4, counters.PagesFetched) // 2 listings + 2 threads
	require.Zero(t, counters.PagesFailed)

	stages := emitter.stages()
	require.Equal(t, progress.StageStarted, stages[0])
	require.Equal(t, progress.StageCompleted, stages[len(stages)-1])
	require.Equal(t, 2, emitter.count(progress.StagePageFetched))
	require.Equal(t, 2, emitter.count(progress.StageThreadUpserted))
}

func TestRunnerRespectsMaxPagesPerJob(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "https://f.test/forums/games.6/page-2"))
	fetcher.page("https://f.test/forums/games.6/page-2",
		listingHTML("Games", "https://f.test/forums/games.6/page-3"))

	emitter := &recordingEmitter{}
	runner := newTestRunner(fetcher, newFakeStore(), emitter, Config{MaxPagesPerJob: 2, SourceWorkers: 1})

	counters, status, err := runner.Run(t.Context(), "job-1",
		[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompleted, status)
	require.Equal(t, 2, counters.PagesFetched)
	require.Zero(t, fetcher.callCount("https://f.test/forums/games.6/page-3"))
}

func TestRunnerFailedThreadPageDoesNotAbortJob(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "", "https://f.test/threads/bad.1/", "https://f.test/threads/good.2/"))
	fetcher.script("https://f.test/threads/bad.1/",
		fetchResult{err: catalog.PermanentFetchError("https://f.test/threads/bad.1/", 404, errors.New("gone"))})
	fetcher.page("https://f.test/threads/good.2/", threadHTML("Games", "Good Game"))

	emitter := &recordingEmitter{}
	store := newFakeStore()
	runner := newTestRunner(fetcher, store, emitter, Config{SourceWorkers: 1})

	counters, status, err := runner.Run(t.Context(), "job-1",
		[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompletedWithErrors, status)
	require.Equal(t, 1, counters.PagesFailed)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, 1, store.upsertCount())
	require.Equal(t, 1, emitter.count(progress.StagePageFailed))
}

func TestRunnerFailedSourceDoesNotAbortOthers(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.script("https://f.test/forums/broken.9/",
		fetchResult{err: catalog.TransientFetchError("https://f.test/forums/broken.9/", 503, errors.New("down"))})
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "", "https://f.test/threads/a.1/"))
	fetcher.page("https://f.test/threads/a.1/", threadHTML("Games", "Game A"))

	emitter := &recordingEmitter{}
	runner := newTestRunner(fetcher, newFakeStore(), emitter, Config{SourceWorkers: 2})

	counters, status, err := runner.Run(t.Context(), "job-1", []catalog.Source{
		{ID: "broken", URL: "https://f.test/forums/broken.9/"},
		{ID: "games", URL: "https://f.test/forums/games.6/"},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompletedWithErrors, status)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, 1, counters.PagesFailed)
	// Transient listing failure burns the retry budget before giving up.
	require.Equal(t, 3, fetcher.callCount("https://f.test/forums/broken.9/"))
}

func TestRunnerSkipsUnrecognizedCategories(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "", "https://f.test/threads/offtopic.3/"))
	fetcher.page("https://f.test/threads/offtopic.3/", threadHTML("Random Chat", "Not A Game"))

	store := newFakeStore()
	runner := newTestRunner(fetcher, store, &recordingEmitter{}, Config{SourceWorkers: 1})

	counters, status, err := runner.Run(t.Context(), "job-1",
		[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompleted, status)
	require.Equal(t, 1, counters.Skipped)
	require.Zero(t, counters.Inserted)
	require.Zero(t, store.upsertCount())
}

func TestRunnerStorageIntegrityFailsJob(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "", "https://f.test/threads/a.1/"))
	fetcher.page("https://f.test/threads/a.1/", threadHTML("Games", "Game A"))

	store := newFakeStore()
	store.failWith = fmt.Errorf("merge: %w", catalog.ErrStorageIntegrity)

	runner := newTestRunner(fetcher, store, &recordingEmitter{}, Config{SourceWorkers: 1})
	_, status, err := runner.Run(t.Context(), "job-1",
		[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	require.Error(t, err)
	require.ErrorIs(t, err, catalog.ErrStorageIntegrity)
	require.Equal(t, catalog.JobStatusFailed, status)
}

func TestRunnerCancellationStopsAtBoundary(t *testing.T) {
	t.Parallel()
	fetcher := newScriptedFetcher()
	fetcher.page("https://f.test/forums/games.6/",
		listingHTML("Games", "https://f.test/forums/games.6/page-2", "https://f.test/threads/a.1/"))
	fetcher.page("https://f.test/threads/a.1/", threadHTML("Games", "Game A"))

	ctx, cancel := context.WithCancel(context.Background())
	store := newFakeStore()
	emitter := &recordingEmitter{}

	// Cancel as soon as the first upsert lands.
	store.outcomes["1"] = catalog.UpsertOutcome{Inserted: true, Changed: true}
	runner := newTestRunner(fetcher, store, emitter, Config{SourceWorkers: 1, PageDelay: time.Second})

	done := make(chan struct{})
	var (
		status catalog.JobStatus
		runErr error
	)
	go func() {
		defer close(done)
		_, status, runErr = runner.Run(ctx, "job-1",
			[]catalog.Source{{ID: "games", URL: "https://f.test/forums/games.6/"}})
	}()

	require.Eventually(t, func() bool { return store.upsertCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	require.Error(t, runErr)
	require.Equal(t, catalog.JobStatusCancelled, status)
	require.Zero(t, fetcher.callCount("https://f.test/forums/games.6/page-2"))
	require.Equal(t, 1, emitter.count(progress.StageCancelled))
}
