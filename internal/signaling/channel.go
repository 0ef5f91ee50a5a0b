package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mossy-p/gradecall/internal/models"
	"github.com/sirupsen/logrus"
)

// Broadcast event names
const (
	EventSignal = "signal" // call topic
	EventNotify = "notify" // user topic
)

// CallTopic names the topic shared by every participant of a call
func CallTopic(callID string) string {
	return "call:" + callID
}

// UserTopic names the topic used to reach one user outside of a call
func UserTopic(userID string) string {
	return "user:" + userID
}

// Handler receives decoded payloads. It may be invoked concurrently with
// the subscriber's other work.
type Handler func(models.SignalPayload)

// Channel is one named topic on a transport.
type Channel struct {
	transport Transport
	topic     string
	event     string
}

// NewCallChannel returns the channel for in-call negotiation
func NewCallChannel(t Transport, callID string) *Channel {
	return &Channel{transport: t, topic: CallTopic(callID), event: EventSignal}
}

// NewUserChannel returns the channel used to ring userID
func NewUserChannel(t Transport, userID string) *Channel {
	return &Channel{transport: t, topic: UserTopic(userID), event: EventNotify}
}

// Topic returns the channel name
func (c *Channel) Topic() string {
	return c.topic
}

// Event returns the broadcast event name used on the topic
func (c *Channel) Event() string {
	return c.event
}

// Subscribe attaches onMessage to the channel. The returned release func
// detaches the listener immediately and unbinds the topic in the
// background; it never blocks and may be called more than once.
func (c *Channel) Subscribe(ctx context.Context, onMessage Handler) (func(), error) {
	var released atomic.Bool

	sub, err := c.transport.Subscribe(ctx, c.topic, c.event, func(raw []byte) {
		if released.Load() {
			return
		}
		var payload models.SignalPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"topic": c.topic,
				"error": err,
			}).Warn("Failed to parse signal")
			return
		}
		if !payload.Type.Valid() || payload.From == "" {
			logrus.WithFields(logrus.Fields{
				"topic": c.topic,
				"type":  payload.Type,
			}).Warn("Ignoring malformed signal")
			return
		}
		onMessage(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			released.Store(true)
			go func() {
				if err := sub.Unsubscribe(); err != nil {
					logrus.WithFields(logrus.Fields{
						"topic": c.topic,
						"error": err,
					}).Debug("Failed to unsubscribe")
				}
			}()
		})
	}
	return release, nil
}

// Send publishes payload. It returns once the transport has accepted the
// message, which says nothing about delivery. Failures wrap ErrDelivery
// and are not retried.
func (c *Channel) Send(ctx context.Context, payload models.SignalPayload) error {
	if !payload.Type.Valid() {
		return fmt.Errorf("%w: unknown signal type %q", ErrDelivery, payload.Type)
	}
	if payload.From == "" {
		return fmt.Errorf("%w: signal has no sender", ErrDelivery)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if err := c.transport.Publish(ctx, c.topic, c.event, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDelivery, c.topic, err)
	}
	return nil
}
