// Package eventbus implements the single-process publish/subscribe bus:
// a bounded ring buffer of recent events plus a bounded queue per live
// subscriber. Slow subscribers drop their own oldest queued events
// instead of stalling publishers or other subscribers.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudflux/orchestrator/internal/metrics"
	"github.com/cloudflux/orchestrator/pkg/types"
)

const (
	// DefaultRingCapacity is the default K of "last K events" retained.
	DefaultRingCapacity = 1000
	// DefaultSubscriberQueueCapacity is the default per-subscriber
	// outbound queue depth.
	DefaultSubscriberQueueCapacity = 64
	// DefaultHeartbeatInterval is how often a synthetic heartbeat event
	// is published.
	DefaultHeartbeatInterval = 15 * time.Second
)

// ring is a fixed-capacity circular buffer of events; the oldest entry
// is overwritten once full.
type ring struct {
	mu     sync.Mutex
	buf    []types.Event
	start  int // index of the oldest element
	length int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &ring{buf: make([]types.Event, capacity)}
}

func (r *ring) append(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := len(r.buf)
	if r.length < cap {
		r.buf[(r.start+r.length)%cap] = e
		r.length++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % cap
}

// recent returns up to limit of the most recently appended events,
// oldest first. limit <= 0 means "all retained".
func (r *ring) recent(limit int) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := len(r.buf)
	n := r.length
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.Event, n)
	// Take the last n of r.length entries.
	skip := r.length - n
	for i := 0; i < n; i++ {
		idx := (r.start + skip + i) % cap
		out[i] = r.buf[idx]
	}
	return out
}

// Subscription is a live feed of events. Consumers read from Events;
// the bus is responsible for closing the channel once Unsubscribe is
// called on the owning Bus.
type Subscription struct {
	id      string
	events  chan types.Event
	dropped uint64
	mu      sync.Mutex
}

// Events returns the channel new events are delivered on.
func (s *Subscription) Events() <-chan types.Event { return s.events }

// Dropped reports how many events were discarded from this
// subscription's queue because it fell behind.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus is the Event Bus component (C7).
type Bus struct {
	logger *slog.Logger
	ring   *ring

	subMu         sync.RWMutex
	subs          map[string]*Subscription
	queueCapacity int

	heartbeatStop chan struct{}
	heartbeatOnce sync.Once

	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector that publish and drop counts
// report to. Optional; a nil collector (the default) leaves recording
// as a no-op.
func (b *Bus) SetMetrics(m *metrics.Collector) {
	b.metrics = m
}

// Config carries the tunables §4.7 and §6 leave to configuration.
type Config struct {
	RingCapacity            int
	SubscriberQueueCapacity int
	HeartbeatInterval       time.Duration
}

// New constructs a Bus and starts its heartbeat ticker.
func New(logger *slog.Logger, cfg Config) *Bus {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.SubscriberQueueCapacity <= 0 {
		cfg.SubscriberQueueCapacity = DefaultSubscriberQueueCapacity
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	b := &Bus{
		logger:        logger.With("component", "eventbus"),
		ring:          newRing(cfg.RingCapacity),
		subs:          make(map[string]*Subscription),
		queueCapacity: cfg.SubscriberQueueCapacity,
		heartbeatStop: make(chan struct{}),
	}
	go b.heartbeatLoop(cfg.HeartbeatInterval)
	return b
}

func (b *Bus) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Publish(types.Event{
				EventID:   uuid.NewString(),
				Type:      types.EventHeartbeat,
				Timestamp: time.Now(),
			})
		case <-b.heartbeatStop:
			return
		}
	}
}

// Stop halts the heartbeat ticker. It does not close subscriber
// channels; callers should Unsubscribe first.
func (b *Bus) Stop() {
	b.heartbeatOnce.Do(func() { close(b.heartbeatStop) })
}

// Publish appends e to the ring buffer and fans it out to every live
// subscriber. It never blocks: a full subscriber queue drops that
// subscriber's oldest queued event rather than stall the publisher.
func (b *Bus) Publish(e types.Event) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.ring.append(e)
	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(e.Type))
	}

	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, s := range b.subs {
		b.deliver(s, e)
	}
}

// deliver enqueues e onto s's channel, dropping the oldest queued
// event first if the channel is full.
func (b *Bus) deliver(s *Subscription, e types.Event) {
	select {
	case s.events <- e:
		return
	default:
	}

	// Queue is full: drop the oldest queued event, then enqueue.
	select {
	case old := <-s.events:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordEventDropped(string(old.Type))
		}
	default:
	}
	select {
	case s.events <- e:
	default:
		// Another publisher raced us and refilled the queue; count
		// this event as dropped rather than block.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordEventDropped(string(e.Type))
		}
	}
}

// Subscribe hands the caller a live feed of future events. When
// replayLast > 0, up to that many of the most recent buffered events
// are delivered first, before any event published after Subscribe
// returns.
func (b *Bus) Subscribe(replayLast int) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		events: make(chan types.Event, b.queueCapacity),
	}

	b.subMu.Lock()
	b.subs[sub.id] = sub
	b.subMu.Unlock()

	if replayLast > 0 {
		for _, e := range b.ring.recent(replayLast) {
			b.deliver(sub, e)
		}
	}
	return sub
}

// Unsubscribe releases sub's slot and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.events)
}

// Recent returns a snapshot of the most recent events, for the
// /events/recent endpoint.
func (b *Bus) Recent(limit int) []types.Event {
	return b.ring.recent(limit)
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}
