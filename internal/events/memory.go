package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBroadcaster is an in-process Broadcaster. It backs single-node
// deployments and tests; multi-node deployments use the Redis broadcaster.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan Event
	nextID int
	closed bool
}

// NewMemoryBroadcaster creates an empty in-process broadcaster
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{
		topics: make(map[string]map[int]chan Event),
	}
}

// Publish delivers the event to every subscriber of the topic. Subscribers
// with a full buffer are skipped rather than waited on.
func (b *MemoryBroadcaster) Publish(_ context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber for the topic
func (b *MemoryBroadcaster) Subscribe(_ context.Context, topic string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}, nil
	}

	id := b.nextID
	b.nextID++

	ch := make(chan Event, subscriberBuffer)
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]chan Event)
	}
	b.topics[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
		}
	}

	return ch, cancel, nil
}

// Close drops every subscription
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, subs := range b.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	return nil
}
