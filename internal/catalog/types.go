// Package catalog defines core types shared across subsystems.
package catalog

import (
	"net/http"
	"time"
)

// Category is one of the fixed forum sections the scraper accepts.
type Category string

// Accepted categories. Anything else resolves to CategoryUnrecognized and the
// thread is skipped.
const (
	CategoryGames        Category = "Games"
	CategoryAdultGames   Category = "Adult Games"
	CategoryGamePorts    Category = "Game Ports"
	CategoryUnrecognized Category = ""
)

// Categories lists the allow-list in a stable order.
func Categories() []Category {
	return []Category{CategoryGames, CategoryAdultGames, CategoryGamePorts}
}

// Engine identifies the game engine advertised by a thread label.
type Engine string

// Engines mapped from forum label classes. EngineOther is the sentinel for
// anything unrecognized.
const (
	EngineRenPy  Engine = "Ren'Py"
	EngineUnity  Engine = "Unity"
	EngineRPGM   Engine = "RPG Maker"
	EngineHTML   Engine = "HTML"
	EngineUnreal Engine = "Unreal Engine"
	EngineFlash  Engine = "Flash"
	EngineJava   Engine = "Java"
	EngineQSP    Engine = "QSP"
	EngineRAGS   Engine = "RAGS"
	EngineTADS   Engine = "TADS"
	EngineAdrift Engine = "Adrift"
	EngineTwine  Engine = "Twine"
	EngineWolf   Engine = "Wolf RPG"
	EngineOther  Engine = "Other"
)

// Status is the development status advertised by a thread label.
type Status string

// Development statuses. StatusUnknown is the default when no label matches.
const (
	StatusCompleted Status = "Completed"
	StatusOngoing   Status = "Ongoing"
	StatusAbandoned Status = "Abandoned"
	StatusOnHold    Status = "On Hold"
	StatusUnknown   Status = "Unknown"
)

// DefaultVersion is stored when no version token can be parsed from a title.
const DefaultVersion = "latest"

// ChangelogEntry is one release note parsed from a thread's changelog section.
type ChangelogEntry struct {
	Version string `json:"version"`
	Date    string `json:"date,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// GameRecord is the catalog row for one forum thread.
type GameRecord struct {
	ID       int64    `json:"id"`
	ThreadID string   `json:"thread_id"`
	Title    string   `json:"title"`
	Category Category `json:"category"`
	Engine   Engine   `json:"engine"`
	Status   Status   `json:"status"`
	Version  string   `json:"version"`

	Developer   string           `json:"developer,omitempty"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Changelog   []ChangelogEntry `json:"changelog,omitempty"`
	SourceURL   string           `json:"source_url"`
	CoverPath   string           `json:"cover_path,omitempty"`
	HeaderPath  string           `json:"header_path,omitempty"`

	// User-owned fields. The merge never writes these from scraped data.
	Favorite     bool     `json:"favorite"`
	PlayTimeSecs int64    `json:"play_time_secs"`
	Notes        string   `json:"notes,omitempty"`
	Rating       float64  `json:"rating,omitempty"`
	Labels       []string `json:"labels,omitempty"`

	LastScrapedAt time.Time  `json:"last_scraped_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// PartialGameRecord is the best-effort output of the thread extractor. Fields
// the extractor could not parse hold their documented defaults.
type PartialGameRecord struct {
	ThreadID    string
	Title       string
	Category    Category
	Engine      Engine
	Status      Status
	Version     string
	Developer   string
	Description string
	Tags        []string
	Changelog   []ChangelogEntry
	SourceURL   string
	Images      []string
}

// UpsertOutcome reports what the merge did with an extracted record.
type UpsertOutcome struct {
	Inserted bool
	// Changed is true when any compared scraped field differs from the stored
	// value. Always true for inserts.
	Changed bool
}

// Source is one forum section the scraper is allowed to walk.
type Source struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values reported to callers.
const (
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusCancelled           JobStatus = "cancelled"
	JobStatusFailed              JobStatus = "failed"
)

// JobCounters tracks per-job outcome stats.
type JobCounters struct {
	PagesFetched int `json:"pages_fetched"`
	PagesFailed  int `json:"pages_failed"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Skipped      int `json:"skipped"`
	Retries      int `json:"retries"`
}

// Add accumulates another counter set into this one.
func (c *JobCounters) Add(other JobCounters) {
	c.PagesFetched += other.PagesFetched
	c.PagesFailed += other.PagesFailed
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Retries += other.Retries
}

// Job is the metadata kept for each scrape invocation. Jobs are transient;
// only the summary outlives the run.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Sources   []string    `json:"sources"`
	Started   time.Time   `json:"started_at"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  JobCounters `json:"counters"`
}

// CacheEntry is the bookkeeping row for one content-addressed asset.
type CacheEntry struct {
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	LastAccessed time.Time `json:"last_accessed"`
	RefCount     int       `json:"ref_count"`
	Path         string    `json:"path"`
}

// AssetKind distinguishes the images fetched per record.
type AssetKind string

// Asset kinds stored in the cache.
const (
	AssetCover  AssetKind = "cover"
	AssetHeader AssetKind = "header"
)

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
	// Timeout overrides the fetcher's configured per-fetch timeout when > 0.
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
