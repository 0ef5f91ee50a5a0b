package models

import "encoding/json"

// SignalType represents the type of call signaling message
type SignalType string

const (
	SignalTypeRing   SignalType = "ring"
	SignalTypeOffer  SignalType = "offer"
	SignalTypeAnswer SignalType = "answer"
	SignalTypeICE    SignalType = "ice"
	SignalTypeHangup SignalType = "hangup"
)

// Valid reports whether t is one of the known signal types
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeRing, SignalTypeOffer, SignalTypeAnswer, SignalTypeICE, SignalTypeHangup:
		return true
	}
	return false
}

// SignalPayload is a call control message exchanged over a signaling channel.
// Data holds a session description for offer/answer and an ICE candidate for ice.
type SignalPayload struct {
	Type   SignalType      `json:"type"`
	From   string          `json:"from"`
	To     string          `json:"to,omitempty"`
	CallID string          `json:"callId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WithData returns a copy of p carrying v encoded as its data
func (p SignalPayload) WithData(v interface{}) (SignalPayload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return p, err
	}
	p.Data = data
	return p, nil
}
