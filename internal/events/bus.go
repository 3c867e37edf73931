package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"daytrade-core/internal/observability"
)

// Handler processes one event. A returned error is logged and does not
// stop delivery to the remaining handlers of the topic.
type Handler func(Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous fan-out dispatcher. Subscription lists are
// snapshotted under a read lock before invocation, so handlers for one
// topic never block concurrent publishes to other topics, and
// subscribe/unsubscribe cannot corrupt an in-flight delivery.
type Bus struct {
	log zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "events").Logger(),
		subs: make(map[Topic][]subscription),
	}
}

// Subscribe registers a handler for a topic. Handlers are invoked in
// registration order. The returned function removes the registration;
// calling it more than once is a no-op.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every handler registered for its topic,
// synchronously and in registration order. A handler error or panic is
// logged and delivery continues; nothing propagates to the publisher.
// Publishing to a topic with no subscribers is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs[e.Topic()]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	observability.RecordEventPublished(string(e.Topic()))
	for _, s := range snapshot {
		b.deliver(e, s)
	}
}

func (b *Bus) deliver(e Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerError(string(e.Topic()))
			b.log.Error().
				Str("topic", string(e.Topic())).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()

	if err := s.handler(e); err != nil {
		observability.RecordHandlerError(string(e.Topic()))
		b.log.Error().
			Str("topic", string(e.Topic())).
			Err(err).
			Msg("event handler failed")
	}
}
