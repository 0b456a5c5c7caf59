// Package progress defines the event structures emitted by scrape jobs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages, in rough lifecycle order.
const (
	StageStarted        Stage = "STARTED"
	StagePageFetched    Stage = "PAGE_FETCHED"
	StageThreadUpserted Stage = "THREAD_UPSERTED"
	StagePageFailed     Stage = "PAGE_FAILED"
	StageCompleted      Stage = "COMPLETED"
	StageCancelled      Stage = "CANCELLED"
)

// Event captures a single milestone of a scrape job. Field presence depends
// on the stage: page events carry Source/Page, upsert events carry ThreadID,
// and terminal events carry the final Counters.
type Event struct {
	// JobID identifies the job run this event belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Source is the source ID for page-scoped events.
	Source string
	// Page is the 1-based page ordinal within its source.
	Page int
	// URL is the page or thread URL; it should not contain credentials.
	URL string
	// ThreadID scopes upsert events to one catalog record.
	ThreadID string
	// Inserted and Changed report what the upsert did with the record.
	Inserted bool
	Changed  bool
	// ErrorKind is "transient" or "permanent" on page failures.
	ErrorKind string
	// Dur captures fetch latency for page events.
	Dur time.Duration
	// Counters is the running (or, on terminal stages, final) tally.
	Counters catalog.JobCounters
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageStarted, StageCompleted, StageCancelled:
	case StagePageFetched:
		if e.Source == "" {
			return errors.New("page fetched requires source")
		}
		if e.Page <= 0 {
			return errors.New("page fetched requires page ordinal")
		}
	case StagePageFailed:
		if e.Source == "" {
			return errors.New("page failed requires source")
		}
		if e.ErrorKind == "" {
			return errors.New("page failed requires error kind")
		}
	case StageThreadUpserted:
		if e.ThreadID == "" {
			return errors.New("thread upserted requires thread id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends its job's stream.
func (e Event) Terminal() bool {
	return e.Stage == StageCompleted || e.Stage == StageCancelled
}
