package signaling

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisTransport relays channels over Redis PUBLISH/SUBSCRIBE so several
// gateway instances can share topics.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport wraps an connected client
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	sub    *subscriber
}

func (s *redisSubscription) Unsubscribe() error {
	s.sub.stop()
	return s.pubsub.Close()
}

// Subscribe binds fn to the Redis channel for (topic, event). It returns
// once Redis has confirmed the subscription.
func (t *RedisTransport) Subscribe(ctx context.Context, topic, event string, fn func([]byte)) (Subscription, error) {
	name := topicKey(topic, event)
	pubsub := t.client.Subscribe(ctx, name)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", name, err)
	}

	sub := newSubscriber(fn)
	go func() {
		for msg := range pubsub.Channel() {
			sub.deliver(topic, []byte(msg.Payload))
		}
		logrus.WithField("channel", name).Debug("Redis subscription closed")
	}()

	return &redisSubscription{pubsub: pubsub, sub: sub}, nil
}

// Publish sends payload to the Redis channel for (topic, event)
func (t *RedisTransport) Publish(ctx context.Context, topic, event string, payload []byte) error {
	return t.client.Publish(ctx, topicKey(topic, event), payload).Err()
}
