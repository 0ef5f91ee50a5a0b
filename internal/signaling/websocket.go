package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketTransport is a client of the signaling gateway (/ws/signal).
// Publish resolves when the gateway acknowledges the frame.
type WebSocketTransport struct {
	conn *websocket.Conn
	send chan []byte

	// opMu orders gateway subscribe/unsubscribe requests so a listener
	// added while the last one leaves is never left unbound.
	opMu    sync.Mutex
	mu      sync.Mutex
	pending map[string]chan error
	subs    map[string]map[*subscriber]struct{}

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWebSocket connects to the gateway at endpoint, authenticating with a
// JWT passed as the token query parameter.
func DialWebSocket(ctx context.Context, endpoint, token string) (*WebSocketTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	t := &WebSocketTransport{
		conn:    conn,
		send:    make(chan []byte, queueSize),
		pending: make(map[string]chan error),
		subs:    make(map[string]map[*subscriber]struct{}),
		done:    make(chan struct{}),
	}

	go t.writePump()
	go t.readPump()

	return t, nil
}

type wsSubscription struct {
	t     *WebSocketTransport
	topic string
	event string
	sub   *subscriber
	once  sync.Once
}

func (s *wsSubscription) Unsubscribe() error {
	s.once.Do(func() { s.t.remove(s.topic, s.event, s.sub) })
	return nil
}

// Subscribe binds fn to (topic, event). The first local listener of a key
// asks the gateway to subscribe and waits for its ack.
func (t *WebSocketTransport) Subscribe(ctx context.Context, topic, event string, fn func([]byte)) (Subscription, error) {
	key := topicKey(topic, event)

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	_, bound := t.subs[key]
	t.mu.Unlock()

	if !bound {
		err := t.request(ctx, models.GatewayFrame{
			Action: models.GatewayActionSubscribe,
			Topic:  topic,
			Event:  event,
		})
		if err != nil {
			return nil, err
		}
	}

	sub := newSubscriber(fn)
	t.mu.Lock()
	subs, ok := t.subs[key]
	if !ok {
		subs = make(map[*subscriber]struct{})
		t.subs[key] = subs
	}
	subs[sub] = struct{}{}
	t.mu.Unlock()

	return &wsSubscription{t: t, topic: topic, event: event, sub: sub}, nil
}

// Publish hands payload to the gateway and waits for the ack
func (t *WebSocketTransport) Publish(ctx context.Context, topic, event string, payload []byte) error {
	return t.request(ctx, models.GatewayFrame{
		Action:  models.GatewayActionPublish,
		Topic:   topic,
		Event:   event,
		Payload: json.RawMessage(payload),
	})
}

// Done is closed when the connection to the gateway is gone
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the reason the connection ended, if it has
func (t *WebSocketTransport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Close shuts the connection down
func (t *WebSocketTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

func (t *WebSocketTransport) shutdown(reason error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = reason
		for id, ch := range t.pending {
			ch <- reason
			delete(t.pending, id)
		}
		for key, subs := range t.subs {
			for sub := range subs {
				sub.stop()
			}
			delete(t.subs, key)
		}
		t.mu.Unlock()

		close(t.done)
		t.conn.Close()
	})
}

func (t *WebSocketTransport) request(ctx context.Context, frame models.GatewayFrame) error {
	frame.ID = uuid.New().String()
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		return ErrClosed
	default:
	}
	t.pending[frame.ID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, frame.ID)
		t.mu.Unlock()
	}()

	select {
	case t.send <- data:
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WebSocketTransport) remove(topic, event string, sub *subscriber) {
	key := topicKey(topic, event)
	sub.stop()

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	subs, ok := t.subs[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(subs, sub)
	last := len(subs) == 0
	if last {
		delete(t.subs, key)
	}
	t.mu.Unlock()

	if !last {
		return
	}

	data, err := json.Marshal(models.GatewayFrame{
		Action: models.GatewayActionUnsubscribe,
		ID:     uuid.New().String(),
		Topic:  topic,
		Event:  event,
	})
	if err != nil {
		return
	}
	select {
	case t.send <- data:
	case <-t.done:
	default:
		logrus.WithField("topic", topic).Warn("Failed to queue unsubscribe, buffer full")
	}
}

func (t *WebSocketTransport) readPump() {
	var reason error = ErrClosed
	defer func() { t.shutdown(reason) }()

	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("Signaling connection lost")
			}
			reason = fmt.Errorf("%w: %v", ErrClosed, err)
			return
		}

		var frame models.GatewayFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logrus.WithError(err).Warn("Failed to parse gateway frame")
			continue
		}

		switch frame.Action {
		case models.GatewayActionAck:
			t.resolve(frame.ID, nil)
		case models.GatewayActionError:
			t.resolve(frame.ID, gatewayError(frame.Error))
		case models.GatewayActionMessage:
			t.dispatch(frame.Topic, frame.Event, frame.Payload)
		default:
			logrus.WithField("action", frame.Action).Debug("Unknown gateway frame")
		}
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
				return
			}

		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (t *WebSocketTransport) resolve(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.pending[id]; ok {
		ch <- err
		delete(t.pending, id)
	}
}

func (t *WebSocketTransport) dispatch(topic, event string, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs[topicKey(topic, event)] {
		sub.deliver(topic, payload)
	}
}

// gatewayError restores ErrForbidden from an error frame so callers can
// match it with errors.Is.
func gatewayError(msg string) error {
	if rest, ok := strings.CutPrefix(msg, ErrForbidden.Error()); ok {
		return fmt.Errorf("%w%s", ErrForbidden, rest)
	}
	return errors.New(msg)
}
