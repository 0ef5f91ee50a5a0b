// Package signaling implements the named publish/subscribe channels call
// participants exchange control messages over, and the transports that
// carry them.
//
// Delivery is at-most-once: there is no backlog for late subscribers, no
// ordering guarantee across reconnects, and failed publishes are never
// retried by the channel.
package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDelivery wraps every failure to submit a message to the transport.
	ErrDelivery = errors.New("signal delivery failed")

	// ErrClosed is returned by transports that have been shut down.
	ErrClosed = errors.New("transport closed")

	// ErrForbidden is reported by the gateway when the authenticated user
	// may not use a topic.
	ErrForbidden = errors.New("topic forbidden")
)

// queueSize bounds the per-subscriber delivery queue. Messages arriving
// while the queue is full are dropped.
const queueSize = 256

// Subscription is a listener binding on a transport.
type Subscription interface {
	Unsubscribe() error
}

// Transport moves opaque payloads between publishers and subscribers of a
// (topic, event) pair.
type Transport interface {
	Subscribe(ctx context.Context, topic, event string, fn func([]byte)) (Subscription, error)
	Publish(ctx context.Context, topic, event string, payload []byte) error
}

// subscriber hands payloads to a listener on its own goroutine so a slow
// or re-entrant listener never stalls the transport's read loop.
type subscriber struct {
	fn    func([]byte)
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newSubscriber(fn func([]byte)) *subscriber {
	s := &subscriber{
		fn:    fn,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) run() {
	for {
		select {
		case payload := <-s.queue:
			s.fn(payload)
		case <-s.done:
			return
		}
	}
}

// deliver enqueues payload without blocking.
func (s *subscriber) deliver(topic string, payload []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- payload:
	default:
		logrus.WithField("topic", topic).Warn("Dropping signal, subscriber buffer full")
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func topicKey(topic, event string) string {
	return topic + "#" + event
}
