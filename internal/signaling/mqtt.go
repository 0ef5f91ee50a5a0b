package signaling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// mqttQoS is "at most once", matching the channel's delivery contract
const mqttQoS = 0

// MQTTTransport relays channels over an MQTT broker. Topics are mapped to
// MQTT paths, e.g. call:abc + signal -> gradecall/call/abc/signal.
type MQTTTransport struct {
	client mqtt.Client
	prefix string

	// opMu serializes broker subscribe/unsubscribe; mu guards subs and is
	// never held while waiting on the broker.
	opMu sync.Mutex
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewMQTTTransport connects to broker with the given client id
func NewMQTTTransport(broker, clientID string) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logrus.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", token.Error())
	}

	return newMQTTTransport(client), nil
}

func newMQTTTransport(client mqtt.Client) *MQTTTransport {
	return &MQTTTransport{
		client: client,
		prefix: "gradecall",
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

func (t *MQTTTransport) path(topic, event string) string {
	return t.prefix + "/" + strings.ReplaceAll(topic, ":", "/") + "/" + event
}

type mqttSubscription struct {
	t    *MQTTTransport
	path string
	sub  *subscriber
}

func (s *mqttSubscription) Unsubscribe() error {
	return s.t.remove(s.path, s.sub)
}

// Subscribe binds fn to (topic, event). The broker subscription is shared
// by every local listener of the same path.
func (t *MQTTTransport) Subscribe(ctx context.Context, topic, event string, fn func([]byte)) (Subscription, error) {
	path := t.path(topic, event)

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	_, bound := t.subs[path]
	t.mu.Unlock()

	if !bound {
		token := t.client.Subscribe(path, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
			t.dispatch(path, topic, msg.Payload())
		})
		if err := waitToken(ctx, token); err != nil {
			return nil, fmt.Errorf("subscribe failed: %w", err)
		}
	}

	sub := newSubscriber(fn)
	t.mu.Lock()
	subs, ok := t.subs[path]
	if !ok {
		subs = make(map[*subscriber]struct{})
		t.subs[path] = subs
	}
	subs[sub] = struct{}{}
	t.mu.Unlock()

	return &mqttSubscription{t: t, path: path, sub: sub}, nil
}

// Publish sends payload to (topic, event)
func (t *MQTTTransport) Publish(ctx context.Context, topic, event string, payload []byte) error {
	token := t.client.Publish(t.path(topic, event), mqttQoS, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	for path, subs := range t.subs {
		for sub := range subs {
			sub.stop()
		}
		delete(t.subs, path)
	}
	t.mu.Unlock()

	t.client.Disconnect(250)
	return nil
}

func (t *MQTTTransport) dispatch(path, topic string, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// listeners run after the callback returns
	data := append([]byte(nil), payload...)
	for sub := range t.subs[path] {
		sub.deliver(topic, data)
	}
}

func (t *MQTTTransport) remove(path string, sub *subscriber) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	sub.stop()

	t.mu.Lock()
	subs, ok := t.subs[path]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(subs, sub)
	last := len(subs) == 0
	if last {
		delete(t.subs, path)
	}
	t.mu.Unlock()

	if !last {
		return nil
	}
	token := t.client.Unsubscribe(path)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("unsubscribe %s timed out", path)
	}
	return token.Error()
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
