// Package eventbus implements the in-process pub/sub core of pulse.
//
// Publishers fire hierarchical, dot-typed events; subscribers register a
// wildcard pattern and an async handler. Each subscription owns a buffered
// delivery queue drained by its own goroutine, so a slow or failing
// subscriber never blocks the publisher or any other subscriber.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsebot/pulse/pkg/logger"
)

// DefaultQueueSize is the per-subscription delivery queue depth.
const DefaultQueueSize = 64

type subscription struct {
	id      string
	pattern string
	handler Handler
	queue   chan Event
	seq     uint64 // subscribe order, delivery tie-break within one publish
}

// Bus is the pattern-matched publish/subscribe core.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscription
	nextSeq   uint64
	closed    bool
	queueSize int
	start     time.Time

	published int64
	delivered int64
	errors    int64

	statsMu    sync.Mutex
	eventTypes map[string]int64

	wg sync.WaitGroup
}

// New creates a bus with the default per-subscription queue size.
func New() *Bus {
	return NewSized(DefaultQueueSize)
}

// NewSized creates a bus with an explicit per-subscription queue size.
func NewSized(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:       make(map[string]*subscription),
		queueSize:  queueSize,
		start:      time.Now(),
		eventTypes: make(map[string]int64),
	}
}

// Subscribe registers an async handler for every event whose type matches
// pattern. It returns an opaque subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("eventbus: empty pattern")
	}
	if handler == nil {
		return "", fmt.Errorf("eventbus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("eventbus: bus closed")
	}

	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		seq:     b.nextSeq,
	}
	b.nextSeq++
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.deliverLoop(sub)

	logger.DebugCF("bus", "Subscribed", map[string]interface{}{
		"subscription_id": sub.id,
		"pattern":         pattern,
	})
	return sub.id, nil
}

// Unsubscribe removes a subscription. Returns false for unknown ids:
// idempotent, not an error.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return false
	}
	delete(b.subs, subscriptionID)
	close(sub.queue)
	return true
}

// Publish constructs an Event and delivers a copy to every matching
// subscription. A trace id is generated. Only construction problems
// (malformed event type, empty source, closed bus) fail the call;
// subscriber failures never do.
func (b *Bus) Publish(eventType string, data map[string]interface{}, source string) error {
	return b.PublishTraced(eventType, data, source, "", "")
}

// PublishTraced is Publish with explicit trace/correlation ids so causal
// chains propagate across hops. Empty traceID means "start a new chain".
func (b *Bus) PublishTraced(eventType string, data map[string]interface{}, source, traceID, correlationID string) error {
	if !validEventType(eventType) {
		return fmt.Errorf("eventbus: malformed event type %q", eventType)
	}
	if source == "" {
		return fmt.Errorf("eventbus: empty source")
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	event := Event{
		Type:          eventType,
		Data:          data,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		TraceID:       traceID,
		CorrelationID: correlationID,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("eventbus: bus closed")
	}

	atomic.AddInt64(&b.published, 1)
	b.statsMu.Lock()
	b.eventTypes[eventType]++
	b.statsMu.Unlock()

	// Stable delivery order within one publish: subscribe order.
	matched := make([]*subscription, 0, 4)
	for _, sub := range b.subs {
		if MatchPattern(sub.pattern, eventType) {
			matched = append(matched, sub)
		}
	}
	for i := 1; i < len(matched); i++ {
		for j := i; j > 0 && matched[j-1].seq > matched[j].seq; j-- {
			matched[j-1], matched[j] = matched[j], matched[j-1]
		}
	}

	for _, sub := range matched {
		select {
		case sub.queue <- event.clone():
		default:
			// Slow consumer: best-effort delivery, drop and count.
			atomic.AddInt64(&b.errors, 1)
			logger.WarnCF("bus", "Delivery queue full, event dropped", map[string]interface{}{
				"event_type":      eventType,
				"subscription_id": sub.id,
				"trace_id":        traceID,
			})
		}
	}
	return nil
}

// deliverLoop drains one subscription's queue. Handler errors and panics
// are isolated here: counted, logged, never propagated.
func (b *Bus) deliverLoop(sub *subscription) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.errors, 1)
			logger.ErrorCF("bus", "Subscriber panicked", map[string]interface{}{
				"event_type":      event.Type,
				"subscription_id": sub.id,
				"trace_id":        event.TraceID,
				"panic":           r,
			})
		}
	}()

	if err := sub.handler(event); err != nil {
		atomic.AddInt64(&b.errors, 1)
		logger.ErrorCF("bus", "Subscriber failed", map[string]interface{}{
			"event_type":      event.Type,
			"subscription_id": sub.id,
			"trace_id":        event.TraceID,
			"error":           err.Error(),
		})
		return
	}
	atomic.AddInt64(&b.delivered, 1)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscriberCount := len(b.subs)
	b.mu.RUnlock()

	b.statsMu.Lock()
	types := make(map[string]int64, len(b.eventTypes))
	for k, v := range b.eventTypes {
		types[k] = v
	}
	b.statsMu.Unlock()

	uptime := time.Since(b.start).Seconds()
	published := atomic.LoadInt64(&b.published)
	perSecond := 0.0
	if uptime > 0 {
		perSecond = float64(published) / uptime
	}

	return Stats{
		EventsPublished: published,
		EventsDelivered: atomic.LoadInt64(&b.delivered),
		SubscriberCount: subscriberCount,
		EventTypes:      types,
		Errors:          atomic.LoadInt64(&b.errors),
		UptimeSeconds:   uptime,
		EventsPerSecond: perSecond,
	}
}

// Close shuts the bus down: no further publishes or subscriptions are
// accepted, queued events drain, then delivery goroutines exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	logger.InfoC("bus", "Event bus closed")
}
