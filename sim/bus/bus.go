// Package bus provides the synchronous publish/subscribe channel the kernel uses to
// keep the registry consistent with object construction and destruction.
//
// Delivery happens in the publisher's call stack, in subscription order. There is no
// queueing and no goroutine hand-off: when Publish returns, every handler has run.
package bus

import (
	"fmt"

	"github.com/google/uuid"
)

// Topic names a notification stream.
type Topic string

const (
	// TopicObjectCreated is published by a simulated object when it is constructed
	// or restored into a live registry.
	TopicObjectCreated Topic = "object-created"
	// TopicObjectDestroyed is published by a simulated object at the end of Destroy.
	TopicObjectDestroyed Topic = "object-destroyed"
)

// Handler receives a published payload. A non-nil error stops delivery.
type Handler func(payload any) error

// Subscription identifies one registered handler.
type Subscription struct {
	ID    string
	Topic Topic
}

type entry struct {
	id      string
	handler Handler
}

// Bus is a single-process, synchronous notification bus.
//
// Thread-safety: NOT thread-safe. Must be used from the simulation goroutine.
type Bus struct {
	handlers map[Topic][]entry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]entry)}
}

// Subscribe appends handler to the topic's delivery list.
func (b *Bus) Subscribe(topic Topic, handler Handler) Subscription {
	id := uuid.NewString()
	b.handlers[topic] = append(b.handlers[topic], entry{id: id, handler: handler})
	return Subscription{ID: id, Topic: topic}
}

// Unsubscribe removes the subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	entries := b.handlers[sub.Topic]
	for i, e := range entries {
		if e.id == sub.ID {
			// copy so a Publish iterating the old slice is unaffected
			next := make([]entry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			b.handlers[sub.Topic] = next
			return
		}
	}
}

// Publish delivers payload to every handler of topic in subscription order.
func (b *Bus) Publish(topic Topic, payload any) error {
	for _, e := range b.handlers[topic] {
		if err := e.handler(payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribers returns how many handlers are registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	return len(b.handlers[topic])
}
