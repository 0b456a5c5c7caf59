package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gameshelf/gameshelf/internal/progress"
)

// PrometheusSink exports scrape progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-source page counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge

	pagesFetched *prometheus.CounterVec
	pagesFailed  *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	threadsUpserted *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gameshelf_jobs_started_total",
			Help: "Total scrape jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameshelf_jobs_completed_total",
			Help: "Total scrape jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameshelf_jobs_running",
			Help: "Current number of running scrape jobs.",
		}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameshelf_pages_fetched_total",
			Help: "Listing and thread pages fetched partitioned by source.",
		}, []string{"source"}),
		pagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameshelf_pages_failed_total",
			Help: "Pages given up on partitioned by source and error kind.",
		}, []string{"source", "error_kind"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gameshelf_page_fetch_duration_seconds",
			Help:    "Page fetch duration partitioned by source.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		threadsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameshelf_threads_upserted_total",
			Help: "Thread upserts partitioned by outcome (inserted/updated/unchanged).",
		}, []string{"outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.pagesFetched,
		s.pagesFailed,
		s.pageDuration,
		s.threadsUpserted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageStarted:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StagePageFetched:
		s.pagesFetched.WithLabelValues(sourceLabel(evt)).Inc()
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(sourceLabel(evt)).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageFailed:
		s.pagesFailed.WithLabelValues(sourceLabel(evt), evt.ErrorKind).Inc()
	case progress.StageThreadUpserted:
		s.threadsUpserted.WithLabelValues(upsertOutcome(evt)).Inc()
	case progress.StageCompleted:
		result := "success"
		if evt.Counters.PagesFailed > 0 {
			result = "partial"
		}
		s.jobsCompleted.WithLabelValues(result).Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	case progress.StageCancelled:
		s.jobsCompleted.WithLabelValues("cancelled").Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

func sourceLabel(evt progress.Event) string {
	if evt.Source == "" {
		return "unknown"
	}
	return evt.Source
}

func upsertOutcome(evt progress.Event) string {
	switch {
	case evt.Inserted:
		return "inserted"
	case evt.Changed:
		return "updated"
	default:
		return "unchanged"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
