package events

import (
	"context"
	"errors"
	"sync"

	"github.com/harkaudio/hark/internal/logger"
)

const subscriberBufferSize = 256

// ErrBrokerClosed is returned by Publish and Subscribe after Close
var ErrBrokerClosed = errors.New("event broker closed")

type subscriber struct {
	ch    chan *Event
	types map[EventType]bool // empty = all types
}

// Broker is an in-process Publisher: events fan out to every subscriber
// whose type filter matches. Delivery is best-effort; a subscriber that
// stops draining its channel loses events rather than blocking publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]bool
	closed bool
}

// NewBroker creates a new in-process event broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]bool)}
}

// Publish delivers an event to all matching subscribers
func (b *Broker) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for sub := range b.subs {
		if len(sub.types) > 0 && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.Warn().Str("event_type", string(event.Type)).Msg("subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe registers for the given event types (all types when none are
// given). The channel is closed when the context ends or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &subscriber{
		ch:    make(chan *Event, subscriberBufferSize),
		types: make(map[EventType]bool, len(eventTypes)),
	}
	for _, et := range eventTypes {
		sub.types[et] = true
	}
	b.subs[sub] = true

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch, nil
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broker down and closes all subscriber channels
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	return nil
}
