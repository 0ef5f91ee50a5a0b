package signaling

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process broker. It backs a single-instance
// gateway and tests.
type MemoryTransport struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	closed bool
}

// NewMemoryTransport creates an empty broker
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		topics: make(map[string]map[*subscriber]struct{}),
	}
}

type memorySubscription struct {
	t   *MemoryTransport
	key string
	sub *subscriber
}

func (s *memorySubscription) Unsubscribe() error {
	s.t.remove(s.key, s.sub)
	return nil
}

// Subscribe attaches fn to (topic, event)
func (t *MemoryTransport) Subscribe(_ context.Context, topic, event string, fn func([]byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	key := topicKey(topic, event)
	subs, ok := t.topics[key]
	if !ok {
		subs = make(map[*subscriber]struct{})
		t.topics[key] = subs
	}
	sub := newSubscriber(fn)
	subs[sub] = struct{}{}

	return &memorySubscription{t: t, key: key, sub: sub}, nil
}

// Publish broadcasts payload to every current subscriber of (topic, event)
func (t *MemoryTransport) Publish(ctx context.Context, topic, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrClosed
	}

	for sub := range t.topics[topicKey(topic, event)] {
		sub.deliver(topic, payload)
	}
	return nil
}

// Subscribers returns the number of listeners bound to (topic, event)
func (t *MemoryTransport) Subscribers(topic, event string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topicKey(topic, event)])
}

// Close detaches every subscriber
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, subs := range t.topics {
		for sub := range subs {
			sub.stop()
		}
		delete(t.topics, key)
	}
	t.closed = true
	return nil
}

func (t *MemoryTransport) remove(key string, sub *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub.stop()
	subs, ok := t.topics[key]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(t.topics, key)
	}
}
