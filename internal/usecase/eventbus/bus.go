// Package eventbus fans simulation events out to observers running outside
// the tick loop, such as the live websocket stream.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"formation-flying/internal/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 1024

type subscription struct {
	id      uint64
	match   domain.EventType // empty matches everything
	handler domain.EventHandler
	queue   chan queued
	done    chan struct{}
}

type queued struct {
	ctx   context.Context
	event domain.Event
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber has its
// own queue drained by one goroutine, so a subscriber sees events in publish
// order. A full queue drops the event instead of stalling the simulation.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
	buffer  int
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus with DefaultBuffer slots per subscriber.
func New(logger *slog.Logger) *Bus {
	return NewWithBuffer(logger, DefaultBuffer)
}

// NewWithBuffer creates an event bus with buffer slots per subscriber.
func NewWithBuffer(logger *slog.Logger, buffer int) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Publish queues event for every matching subscriber.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.match != "" && sub.match != event.Type {
			continue
		}
		select {
		case sub.queue <- queued{ctx: ctx, event: event}:
		default:
			if b.dropped.Add(1) == 1 {
				b.logger.Warn("event subscriber falling behind, dropping events", "event", string(event.Type))
			}
		}
	}
}

// Emit publishes e with a background context so the bus can sit behind a
// tick loop as an event sink.
func (b *Bus) Emit(e domain.Event) { b.Publish(context.Background(), e) }

// Dropped returns how many events were discarded because a queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(match domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		match:   match,
		handler: handler,
		queue:   make(chan queued, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.queue)
			}
			b.mu.Unlock()
			<-sub.done
		})
	}
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	defer close(sub.done)
	for q := range sub.queue {
		b.deliver(sub, q)
	}
}

func (b *Bus) deliver(sub *subscription, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(q.ctx, q.event)
}

// Close prevents new publishes and waits until every queued event has been
// handled. Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return
	}
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
var _ domain.EventSink = (*Bus)(nil)
