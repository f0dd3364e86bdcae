// Package broadcast provides a small typed publish/subscribe primitive used
// to fan cache and history snapshots out to consumers without coupling
// producer and consumer lifecycles.
//
// Publish delivers the value synchronously to every currently registered
// handler, in registration order. There is no buffering or replay: a handler
// registered after a publish does not see it. Producers that need late
// subscribers to observe current state re-publish on registration themselves
// (the asset cache publishes its loaded snapshot on construction for this
// reason).
package broadcast

import (
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcaster is closed")

// DefaultMaxSubscribers is the soft subscriber ceiling. Exceeding it is a
// leak indicator, not a failure: the subscription still succeeds and a
// warning is logged.
const DefaultMaxSubscribers = 16

type subscription[T any] struct {
	id      uint64
	handler func(T)
	once    bool
}

// Broadcaster fans published values out to registered handlers.
// All methods are safe for concurrent use.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	name    string
	subs    []subscription[T]
	nextID  uint64
	maxSubs int
	closed  bool
}

// New creates a Broadcaster. The name is used only for log messages.
func New[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{name: name, maxSubs: DefaultMaxSubscribers}
}

// SetMaxSubscribers overrides the soft subscriber ceiling.
func (b *Broadcaster[T]) SetMaxSubscribers(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxSubs = n
}

// Subscribe registers a handler for every future publish. The returned
// function removes the subscription; calling it more than once is a no-op.
func (b *Broadcaster[T]) Subscribe(handler func(T)) (unsubscribe func()) {
	return b.add(handler, false)
}

// SubscribeOnce registers a handler that is removed after its first delivery.
func (b *Broadcaster[T]) SubscribeOnce(handler func(T)) {
	b.add(handler, true)
}

func (b *Broadcaster[T]) add(handler func(T), once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		log.Printf("⚠️  [BROADCAST] %s: subscribe after close ignored", b.name)
		return func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription[T]{id: id, handler: handler, once: once})

	if b.maxSubs > 0 && len(b.subs) > b.maxSubs {
		log.Printf("⚠️  [BROADCAST] %s: %d subscribers exceeds ceiling %d (possible listener leak)",
			b.name, len(b.subs), b.maxSubs)
	}

	return func() { b.remove(id) }
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every registered handler in registration order.
// Handlers run synchronously on the caller's goroutine.
func (b *Broadcaster[T]) Publish(v T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	// Snapshot the handler list so handlers can subscribe/unsubscribe
	// without deadlocking, then drop one-shot entries before delivery.
	targets := make([]subscription[T], len(b.subs))
	copy(targets, b.subs)

	kept := b.subs[:0]
	for _, s := range b.subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	b.mu.Unlock()

	for _, s := range targets {
		s.handler(v)
	}
	return nil
}

// SubscriberCount returns the number of registered handlers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close deregisters all handlers and makes subsequent Publish calls fail
// with ErrClosed. Close is terminal and idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = nil
}
