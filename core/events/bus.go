package events

import (
	"context"
	"errors"
	"sync"

	"vermont/core/metrics"
)

// Bus is a minimal pub/sub event bus using Go channels.
// Topics are identified by string; slow subscribers drop events.

// ErrClosed is returned by Subscribe once the bus has been closed.
var ErrClosed = errors.New("event bus closed")

// TypedEvent is implemented by every event payload.
type TypedEvent interface {
	EventType() string
}

type Bus interface {
	Subscribe(topic string) (<-chan TypedEvent, func(), error)
	Publish(ctx context.Context, topic string, payload TypedEvent)
	Close()
}

const defaultBuffer = 16

type bus struct {
	mu     sync.RWMutex
	topics map[string]map[chan TypedEvent]struct{}
	buffer int
	closed bool
}

// New returns a new event bus instance. buffer sets the per-subscriber
// channel capacity; values <= 0 use the default.
func New(buffer int) Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &bus{
		topics: make(map[string]map[chan TypedEvent]struct{}),
		buffer: buffer,
	}
}

func (b *bus) Subscribe(topic string) (<-chan TypedEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, func() {}, ErrClosed
	}
	ch := make(chan TypedEvent, b.buffer)
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan TypedEvent]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs, ok := b.topics[topic]
			if !ok {
				return
			}
			if _, exists := subs[ch]; !exists {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		})
	}
	return ch, cancel, nil
}

func (b *bus) Publish(ctx context.Context, topic string, payload TypedEvent) {
	// Sending under the read lock keeps Close and cancel from closing a
	// channel mid-send; sends never block so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.topics[topic] {
		if ctx.Err() != nil {
			return
		}
		select {
		case ch <- payload:
		default:
			metrics.EventsDropped.WithLabelValues(topic).Inc()
		}
	}
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for ch := range subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
}
