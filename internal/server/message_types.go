package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
const (
	// Client to server messages
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// Server to client messages
	MessageTypeRoundSnapshot MessageType = "round_snapshot"
	MessageTypeUnsubscribed  MessageType = "unsubscribed"
	MessageTypeError         MessageType = "error"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
