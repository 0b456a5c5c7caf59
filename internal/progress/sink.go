package progress

import "context"

// Sink receives batches of scrape-job events from the Hub. Consume must honor
// the ctx deadline; a sink that returns an error loses that batch, the Hub
// does not retry. Close is called exactly once during Hub shutdown, after the
// final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the producer-side view of the Hub. Scrape workers take an
// Emitter so they stay ignorant of batching and sink fan-out.
type Emitter interface {
	Emit(evt Event)
}
