package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/gradecall/internal/middleware"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"
	"github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	frameTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents a WebSocket client connection. Each client may hold
// any number of topic subscriptions on the bus.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	bus  signaling.Transport
	mu   sync.Mutex
	subs map[string]*clientSub
	done chan struct{}
}

type clientSub struct {
	topic  string
	callID string
	sub    signaling.Subscription
}

// HandleSignaling upgrades an authenticated request and relays
// subscribe/publish frames between the client and the bus
func HandleSignaling(bus signaling.Transport) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("Failed to upgrade connection")
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			Conn:   conn,
			Send:   make(chan []byte, 256),
			bus:    bus,
			subs:   make(map[string]*clientSub),
			done:   make(chan struct{}),
		}

		logrus.WithFields(logrus.Fields{
			"client_id": client.ID,
			"user_id":   userID,
		}).Info("Signaling client connected")

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer c.cleanup()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("WebSocket error")
			}
			break
		}

		var frame models.GatewayFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logrus.WithError(err).Warn("Failed to parse frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		err = c.handle(ctx, frame)
		cancel()
		c.reply(frame.ID, err)
	}
}

func (c *Client) handle(ctx context.Context, frame models.GatewayFrame) error {
	switch frame.Action {
	case models.GatewayActionSubscribe:
		return c.subscribe(ctx, frame.Topic, frame.Event)
	case models.GatewayActionUnsubscribe:
		return c.unsubscribe(ctx, frame.Topic, frame.Event)
	case models.GatewayActionPublish:
		return c.publish(ctx, frame)
	default:
		return fmt.Errorf("unknown action %q", frame.Action)
	}
}

// authorize decides whether the client may use topic. User topics carry
// rings: anyone may publish to them but only their owner may listen. Call
// topics are open to the call's two participants only. The call id is
// returned for call topics.
func (c *Client) authorize(ctx context.Context, topic, event string, action models.GatewayAction) (string, error) {
	switch {
	case strings.HasPrefix(topic, "user:"):
		if event != signaling.EventNotify {
			return "", fmt.Errorf("%w: user topics only carry %q", signaling.ErrForbidden, signaling.EventNotify)
		}
		owner := strings.TrimPrefix(topic, "user:")
		if action == models.GatewayActionSubscribe && owner != c.UserID {
			return "", fmt.Errorf("%w: cannot listen on another user's topic", signaling.ErrForbidden)
		}
		return "", nil

	case strings.HasPrefix(topic, "call:"):
		if event != signaling.EventSignal {
			return "", fmt.Errorf("%w: call topics only carry %q", signaling.ErrForbidden, signaling.EventSignal)
		}
		callID := strings.TrimPrefix(topic, "call:")
		call, err := redis.LoadCall(ctx, callID)
		if errors.Is(err, redis.ErrCallNotFound) {
			return "", fmt.Errorf("%w: call %s not found", signaling.ErrForbidden, callID)
		}
		if err != nil {
			return "", err
		}
		if !call.IsParticipant(c.UserID) {
			return "", fmt.Errorf("%w: not a participant of call %s", signaling.ErrForbidden, callID)
		}
		return callID, nil
	}

	return "", fmt.Errorf("%w: unknown topic %q", signaling.ErrForbidden, topic)
}

func (c *Client) subscribe(ctx context.Context, topic, event string) error {
	callID, err := c.authorize(ctx, topic, event, models.GatewayActionSubscribe)
	if err != nil {
		return err
	}

	key := topic + "#" + event
	c.mu.Lock()
	_, exists := c.subs[key]
	c.mu.Unlock()
	if exists {
		return nil
	}

	sub, err := c.bus.Subscribe(ctx, topic, event, func(payload []byte) {
		c.queue(models.GatewayFrame{
			Action:  models.GatewayActionMessage,
			Topic:   topic,
			Event:   event,
			Payload: payload,
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[key] = &clientSub{topic: topic, callID: callID, sub: sub}
	c.mu.Unlock()

	if callID != "" {
		if err := redis.JoinCall(ctx, callID, c.UserID); err != nil {
			logrus.WithError(err).Warn("Failed to record call participant")
		}
	}

	logrus.WithFields(logrus.Fields{
		"client_id": c.ID,
		"user_id":   c.UserID,
		"topic":     topic,
	}).Debug("Client subscribed")
	return nil
}

func (c *Client) unsubscribe(ctx context.Context, topic, event string) error {
	key := topic + "#" + event
	c.mu.Lock()
	s, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	c.release(ctx, s)
	return nil
}

func (c *Client) release(ctx context.Context, s *clientSub) {
	if err := s.sub.Unsubscribe(); err != nil {
		logrus.WithError(err).Debug("Failed to unsubscribe from bus")
	}
	if s.callID != "" {
		if err := redis.LeaveCall(ctx, s.callID, c.UserID); err != nil {
			logrus.WithError(err).Debug("Failed to remove call participant")
		}
	}
}

// publish relays a signal after stamping the authenticated sender, so
// participants cannot speak for each other.
func (c *Client) publish(ctx context.Context, frame models.GatewayFrame) error {
	if _, err := c.authorize(ctx, frame.Topic, frame.Event, models.GatewayActionPublish); err != nil {
		return err
	}

	var payload models.SignalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if !payload.Type.Valid() {
		return fmt.Errorf("invalid signal type %q", payload.Type)
	}
	payload.From = c.UserID

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, frame.Topic, frame.Event, data); err != nil {
		return fmt.Errorf("%w: %v", signaling.ErrDelivery, err)
	}
	return nil
}

func (c *Client) reply(id string, err error) {
	frame := models.GatewayFrame{Action: models.GatewayActionAck, ID: id}
	if err != nil {
		frame.Action = models.GatewayActionError
		frame.Error = err.Error()
	}
	c.queue(frame)
}

func (c *Client) queue(frame models.GatewayFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal frame")
		return
	}

	select {
	case c.Send <- data:
	case <-c.done:
	default:
		logrus.WithField("client_id", c.ID).Warn("Failed to send frame, buffer full")
	}
}

func (c *Client) cleanup() {
	close(c.done)
	c.Conn.Close()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*clientSub)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	for _, s := range subs {
		c.release(ctx, s)
	}

	logrus.WithFields(logrus.Fields{
		"client_id": c.ID,
		"user_id":   c.UserID,
	}).Info("Signaling client disconnected")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).Debug("Failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
