package web

import (
	"encoding/json"
	"fmt"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewEvent encodes a typed websocket message.
func NewEvent(eventType string, payload any) ([]byte, error) {
	b, err := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return b, nil
}
