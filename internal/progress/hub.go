package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub buffers and batches scrape-job events.
//   - BufferSize: capacity of the intake channel (default 4096).
//   - MaxBatchEvents: flush once a batch reaches this size (default 1000).
//   - MaxBatchWait: flush a partial batch after this long (default 500ms).
//   - SinkTimeout: deadline applied to each sink delivery (default 10s).
//   - BaseContext: parent context for sink calls (default context.Background()).
//   - Logger: optional logger for drop and sink-failure warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 1000
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 500 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 10 * time.Second
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects events from scrape workers and fans batches out to its sinks.
// Emit never blocks the caller; under backpressure events are dropped rather
// than stalling a job.
type Hub struct {
	cfg     Config
	sinks   []Sink
	intake  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	dropped atomic.Int64
	warnAt  atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// How often a backpressure warning may be logged.
const dropWarnInterval = 5 * time.Second

// NewHub starts the batching goroutine over the supplied sinks. The sink set
// is fixed for the life of the Hub; dynamic consumers hang off a broadcast
// sink instead.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	h := &Hub{
		cfg:    cfg.withDefaults(),
		sinks:  append([]Sink(nil), sinks...),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	h.intake = make(chan Event, h.cfg.BufferSize)
	go h.loop()
	return h
}

// Emit queues an event for delivery. Invalid events are discarded, and when
// the buffer is full the event is dropped with a throttled warning.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.intake <- evt:
	default:
		h.noteDrop()
	}
}

func (h *Hub) noteDrop() {
	h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.warnAt.Load()
	if now-last < dropWarnInterval.Nanoseconds() {
		return
	}
	if h.warnAt.CompareAndSwap(last, now) {
		h.cfg.Logger.Warn("progress events dropped under backpressure",
			zap.Int64("dropped", h.dropped.Swap(0)))
	}
}

// Close drains the intake channel, flushes the final batch, closes every sink,
// and waits for the loop to exit. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.stop()
	for {
		select {
		case evt := <-h.intake:
			if full := b.add(evt); full != nil {
				h.flush(full)
			}
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.stopCh:
			h.drain(b)
			return
		}
	}
}

// drain empties whatever is still buffered after stop, then closes the sinks.
func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.intake:
			if full := b.add(evt); full != nil {
				h.flush(full)
			}
		default:
			h.flush(b.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := s.Consume(ctx, batch); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		if err := s.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batcher accumulates events until either the size cap is hit or the wait
// timer fires. It owns the flush timer so the loop never leaks a pending tick.
type batcher struct {
	buf   []Event
	cap   int
	wait  time.Duration
	timer *time.Timer
	armed bool
}

func newBatcher(size int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	t.Stop()
	return &batcher{
		buf:   make([]Event, 0, size),
		cap:   size,
		wait:  wait,
		timer: t,
	}
}

// add appends evt and returns a detached batch when the size cap is reached,
// nil otherwise. A partial batch arms the timer.
func (b *batcher) add(evt Event) []Event {
	b.buf = append(b.buf, evt)
	if len(b.buf) >= b.cap {
		b.stop()
		return b.take()
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return nil
}

// take detaches the current batch. Sinks may retain the slice across the
// delivery call, so the batcher starts a fresh one.
func (b *batcher) take() []Event {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = make([]Event, 0, b.cap)
	return out
}

func (b *batcher) stop() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}
