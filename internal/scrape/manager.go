package scrape

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// ErrJobNotFound is returned for lookups and cancels of unknown job IDs.
var ErrJobNotFound = fmt.Errorf("scrape job: %w", catalog.ErrNotFound)

// Manager owns the lifecycle of scrape jobs: it assigns IDs, runs each job on
// its own goroutine, tracks status, and supports cooperative cancellation.
// Jobs are transient; a restart forgets them.
type Manager struct {
	runner  *Runner
	ids     catalog.IDGenerator
	clock   catalog.Clock
	sources []catalog.Source
	logger  *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*jobHandle

	wg sync.WaitGroup
}

type jobHandle struct {
	job    catalog.Job
	cancel context.CancelFunc
}

// NewManager wires a Manager over the configured sources.
func NewManager(runner *Runner, ids catalog.IDGenerator, clock catalog.Clock, sources []catalog.Source, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:  runner,
		ids:     ids,
		clock:   clock,
		sources: append([]catalog.Source(nil), sources...),
		logger:  logger,
		jobs:    make(map[string]*jobHandle),
	}
}

// Submit starts a job over the named sources (all configured sources when
// empty) and returns its initial state. The job runs until completion,
// cancellation, or a storage failure.
func (m *Manager) Submit(ctx context.Context, sourceIDs []string) (catalog.Job, error) {
	sources, err := m.selectSources(sourceIDs)
	if err != nil {
		return catalog.Job{}, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return catalog.Job{}, fmt.Errorf("allocate job id: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := catalog.Job{
		ID:      id,
		Status:  catalog.JobStatusRunning,
		Started: m.clock.Now(),
	}
	for _, s := range sources {
		job.Sources = append(job.Sources, s.ID)
	}

	m.mu.Lock()
	m.jobs[id] = &jobHandle{job: job, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		counters, status, runErr := m.runner.Run(jobCtx, id, sources)
		finished := m.clock.Now()

		m.mu.Lock()
		if handle, ok := m.jobs[id]; ok {
			handle.job.Status = status
			handle.job.Counters = counters
			handle.job.Finished = &finished
			if runErr != nil {
				handle.job.ErrorText = runErr.Error()
			}
		}
		m.mu.Unlock()

		m.logger.Info("scrape job finished",
			zap.String("job_id", id),
			zap.String("status", string(status)),
			zap.Int("inserted", counters.Inserted),
			zap.Int("updated", counters.Updated),
			zap.Int("skipped", counters.Skipped),
			zap.Int("pages_failed", counters.PagesFailed))
	}()

	return job, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (catalog.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.jobs[jobID]
	if !ok {
		return catalog.Job{}, ErrJobNotFound
	}
	return handle.job, nil
}

// List returns snapshots of every known job, newest first.
func (m *Manager) List() []catalog.Job {
	m.mu.RLock()
	jobs := make([]catalog.Job, 0, len(m.jobs))
	for _, handle := range m.jobs {
		jobs = append(jobs, handle.job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Started.After(jobs[j].Started) })
	return jobs
}

// Cancel requests cooperative cancellation of a running job. The job keeps
// running until its next page or thread boundary.
func (m *Manager) Cancel(jobID string) error {
	m.mu.RLock()
	handle, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	handle.cancel()
	return nil
}

// Shutdown cancels every running job and waits for their goroutines to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, handle := range m.jobs {
		handle.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scrape manager shutdown wait: %w", ctx.Err())
	}
}

func (m *Manager) selectSources(sourceIDs []string) ([]catalog.Source, error) {
	if len(sourceIDs) == 0 {
		if len(m.sources) == 0 {
			return nil, fmt.Errorf("no sources configured")
		}
		return m.sources, nil
	}
	byID := make(map[string]catalog.Source, len(m.sources))
	for _, s := range m.sources {
		byID[s.ID] = s
	}
	selected := make([]catalog.Source, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		source, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		selected = append(selected, source)
	}
	return selected, nil
}
