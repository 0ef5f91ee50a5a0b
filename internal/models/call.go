package models

import "time"

// CallMetadata stores information about a call
type CallMetadata struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creatorId"` // User ID from JWT who placed the call
	CalleeID         string    `json:"calleeId"`
	CreatedAt        time.Time `json:"createdAt"`
	ParticipantCount int       `json:"participantCount"`
}

// IsParticipant reports whether userID is one of the two parties of the call
func (c *CallMetadata) IsParticipant(userID string) bool {
	return userID != "" && (c.CreatorID == userID || c.CalleeID == userID)
}

// CreateCallRequest is the request body for placing a call
type CreateCallRequest struct {
	CalleeID string `json:"calleeId" binding:"required"`
}

// CreateCallResponse is the response for placing a call
type CreateCallResponse struct {
	CallID string `json:"callId"`
}

// ICEServer is one STUN/TURN entry handed to participants
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
