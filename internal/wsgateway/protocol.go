package wsgateway

import "fmt"

// MessageType represents the type of an inbound WebSocket message.
// The stream is otherwise one-directional: the only message a client
// can send is a keepalive ping; any other type gets an error frame.
type MessageType string

const (
	MessageTypePing MessageType = "ping"
)

// ClientMessage represents a message from the client.
type ClientMessage struct {
	Type string `json:"type"`
}

// ServerMessage represents a control message to the client, distinct
// from the bare alert frames EnqueueAlert writes.
type ServerMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// HandleClientMessage handles a message from the client.
func (c *Connection) HandleClientMessage(msg *ClientMessage) error {
	switch MessageType(msg.Type) {
	case MessageTypePing:
		return c.SendPong()
	default:
		return c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// SendPong sends a pong message to the client.
func (c *Connection) SendPong() error {
	return c.WriteJSON(ServerMessage{Type: "pong"})
}
