package models

import "encoding/json"

// GatewayAction is the verb of a frame on the signaling WebSocket
type GatewayAction string

const (
	// Client to server
	GatewayActionSubscribe   GatewayAction = "subscribe"
	GatewayActionUnsubscribe GatewayAction = "unsubscribe"
	GatewayActionPublish     GatewayAction = "publish"

	// Server to client
	GatewayActionAck     GatewayAction = "ack"
	GatewayActionError   GatewayAction = "error"
	GatewayActionMessage GatewayAction = "message"
)

// GatewayFrame is the envelope for everything sent over the signaling WebSocket.
// ID correlates a request with its ack or error.
type GatewayFrame struct {
	Action  GatewayAction   `json:"action"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
