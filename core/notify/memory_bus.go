package notify

import (
	"context"
	"sync"
)

// Handler consumes a message delivered to a topic
type Handler func(ctx context.Context, msg Message) error

// MemoryBus is an in-process bus. It records every message and delivers it
// synchronously to the topic's subscribers.
type MemoryBus struct {
	mu          sync.Mutex
	published   map[Topic][]Message
	subscribers map[Topic][]Handler

	// Fail, when set, is consulted before each publish
	Fail func(topic Topic, msg Message) error
}

// NewMemoryBus creates an empty memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		published:   make(map[Topic][]Message),
		subscribers: make(map[Topic][]Handler),
	}
}

// Subscribe registers a handler for topic
func (b *MemoryBus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
}

// Publish records msg and hands it to each subscriber in turn
func (b *MemoryBus) Publish(ctx context.Context, topic Topic, msg Message) error {
	b.mu.Lock()
	if b.Fail != nil {
		if err := b.Fail(topic, msg); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	b.published[topic] = append(b.published[topic], msg)
	handlers := append([]Handler(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Published returns the messages recorded for topic
func (b *MemoryBus) Published(topic Topic) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published[topic]...)
}
