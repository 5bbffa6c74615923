package server

import (
	"encoding/json"
	"time"

	"github.com/lox/pokersplit/internal/round"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type SubscribeData struct {
	Code string `json:"code"`
}

// Server → Client Messages

// RoundSnapshotData is sent on subscribe and after every change to the
// subscribed round. Change is "subscribed" for the initial snapshot.
type RoundSnapshotData struct {
	Change string         `json:"change"`
	Round  round.Snapshot `json:"round"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
