package sinks

import (
	"context"
	"sync"

	"github.com/gameshelf/gameshelf/internal/progress"
)

const subscriberBuffer = 64

// Broadcast fans events out to dynamically attached subscribers. It backs the
// live event stream endpoint; a subscriber that falls behind loses events
// rather than stalling the hub.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[chan progress.Event]struct{}
	closed bool
}

// NewBroadcast builds an empty broadcast sink.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[chan progress.Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed by cancel or when the sink shuts down.
func (b *Broadcast) Subscribe() (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Consume delivers a batch to every subscriber, dropping events for any
// subscriber whose buffer is full.
func (b *Broadcast) Consume(_ context.Context, events []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for _, evt := range events {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close drops all subscribers and closes their channels.
func (b *Broadcast) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
