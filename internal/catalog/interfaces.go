package catalog

import (
	"context"
	"time"
)

// Fetcher performs an authenticated, cookie-bearing GET. The session behind it
// is owned by the caller; implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Store is the persistence surface the scrape pipeline writes through.
type Store interface {
	Upsert(ctx context.Context, record PartialGameRecord, scrapedAt time.Time) (UpsertOutcome, error)
	GetByThreadID(ctx context.Context, threadID string) (GameRecord, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
