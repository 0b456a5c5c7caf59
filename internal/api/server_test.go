package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gameshelf/gameshelf/internal/catalog"
	"github.com/gameshelf/gameshelf/internal/config"
	"github.com/gameshelf/gameshelf/internal/database"
	"github.com/gameshelf/gameshelf/internal/progress"
	"github.com/gameshelf/gameshelf/internal/progress/sinks"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeJobs is an in-memory JobService.
type fakeJobs struct {
	jobs      map[string]catalog.Job
	submitErr error
	cancelled []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]catalog.Job)}
}

func (f *fakeJobs) Submit(_ context.Context, sourceIDs []string) (catalog.Job, error) {
	if f.submitErr != nil {
		return catalog.Job{}, f.submitErr
	}
	job := catalog.Job{
		ID:      fmt.Sprintf("job-%d", len(f.jobs)+1),
		Status:  catalog.JobStatusRunning,
		Sources: sourceIDs,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Get(jobID string) (catalog.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return catalog.Job{}, catalog.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) List() []catalog.Job {
	out := make([]catalog.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job)
	}
	return out
}

func (f *fakeJobs) Cancel(jobID string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return catalog.ErrNotFound
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type testServer struct {
	server *Server
	jobs   *fakeJobs
	db     *database.DB
	events *sinks.Broadcast
	clock  *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jobs := newFakeJobs()
	events := sinks.NewBroadcast()
	clk := &fakeClock{now: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Config{}
	cfg.Backup.Dir = t.TempDir()
	cfg.Backup.MaxCount = 5
	cfg.Backup.MaxAgeDays = 30

	server := NewServer(jobs, db, events, clk, cfg, prometheus.NewRegistry(), nil)
	return &testServer{server: server, jobs: jobs, db: db, events: events, clock: clk}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesHTTPMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/healthz", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gameshelf_http_request_duration_seconds")
}

func TestSubmitAndGetJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/jobs", `{"sources":["games"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	rec = ts.do(t, http.MethodGet, "/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJobUnknownSource(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.jobs.submitErr = errors.New("unknown source: nope")

	rec := ts.do(t, http.MethodPost, "/v1/jobs", `{"sources":["nope"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/v1/jobs", `{}`)
	rec := ts.do(t, http.MethodPost, "/v1/jobs/job-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"job-1"}, ts.jobs.cancelled)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStreamDeliversEvents(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	httpServer := httptest.NewServer(ts.server.Handler())
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/v1/events", http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscriber is registered once the handler runs; give it a beat,
	// then push an event through the broadcast sink.
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = ts.events.Consume(context.Background(), []progress.Event{{
			JobID: "job-1",
			TS:    time.Now(),
			Stage: progress.StageStarted,
		}})
	}()

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	require.Equal(t, "event: STARTED", lines[0])
	require.Contains(t, lines[1], `"JobID":"job-1"`)
}
