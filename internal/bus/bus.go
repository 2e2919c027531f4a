// Package bus implements the in-memory fan-out of bridge events to
// connected stream subscribers.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/event"
	"github.com/scrapebridge/scrapebridge/internal/metrics"
)

const (
	defaultMailboxSize = 500
	dropLogInterval    = 5 * time.Second
)

// Subscriber is one observer's mailbox. It is owned by the subscribing
// session; the bus only ever performs non-blocking sends into it.
type Subscriber struct {
	ch     chan event.Event
	closed atomic.Bool
}

// Events exposes the mailbox for draining.
func (s *Subscriber) Events() <-chan event.Event {
	return s.ch
}

// Bus delivers published events to every subscribed mailbox. Publish never
// blocks on a slow subscriber: a full mailbox loses its oldest entry instead.
// All methods are safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}

	mailboxSize int
	logger      *zap.Logger
	dropped     atomic.Int64
	dropLimiter rateLimiter
}

// New constructs a Bus. mailboxSize <= 0 selects the default capacity.
func New(mailboxSize int, logger *zap.Logger) *Bus {
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		mailboxSize: mailboxSize,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscribe registers a new mailbox and returns it.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan event.Event, b.mailboxSize)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(count)
	return sub
}

// Unsubscribe marks the subscriber closed and removes it from the set.
// Publishes racing the removal are silently discarded.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	sub.closed.Store(true)
	b.mu.Lock()
	delete(b.subscribers, sub)
	count := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(count)
}

// Publish delivers evt to every current subscriber. Delivery is at-most-once
// and best-effort; the caller is never blocked by a full mailbox.
func (b *Bus) Publish(evt event.Event) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, evt)
	}
	metrics.EventPublished(string(evt.EventKind()))
}

func (b *Bus) deliver(sub *Subscriber, evt event.Event) {
	if sub.closed.Load() {
		return
	}
	select {
	case sub.ch <- evt:
		return
	default:
	}
	// Mailbox full: evict the oldest queued event to admit the new one.
	select {
	case <-sub.ch:
		metrics.EventDropped()
		b.dropped.Add(1)
		if b.dropLimiter.Allow(time.Now()) {
			b.logger.Warn("events dropped for slow subscriber",
				zap.Int64("dropped", b.dropped.Swap(0)))
		}
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
