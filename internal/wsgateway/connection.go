package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smc-engine/smcengine/internal/models"
)

// Connection represents a single streaming WebSocket client of
// WS /alerts/stream.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Symbol string // optional single-symbol filter taken from the stream query string

	subID string

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	lastPong  time.Time
	createdAt time.Time
}

// NewConnection wraps an upgraded WebSocket in a Connection with a
// buffered outbound queue, mirroring the teacher's Send-channel shape.
func NewConnection(id string, conn *websocket.Conn, symbol string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:        id,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		Symbol:    symbol,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		lastPong:  time.Now(),
	}
}

// UpdateLastPong updates the last pong time.
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time.
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Done reports when the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears the connection down. It does not close Send: forwardAlerts
// may still be mid-EnqueueAlert when Close runs, and sending on a closed
// channel panics regardless of select/default. Pumps instead exit on
// ctx.Done.
func (c *Connection) Close() {
	c.cancel()
	c.Conn.Close()
}

// ReadMessage reads a message from the connection.
func (c *Connection) ReadMessage() (messageType int, p []byte, err error) {
	return c.Conn.ReadMessage()
}

// WriteJSON writes a JSON message to the connection.
func (c *Connection) WriteJSON(v interface{}) error {
	c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.Conn.WriteJSON(v)
}

// EnqueueAlert marshals an alert as a frame and pushes it onto Send,
// dropping it if the client is not draining fast enough rather than
// blocking the fan-out goroutine.
func (c *Connection) EnqueueAlert(alert models.Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}

	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	default:
	}
}

// SendError sends an error frame, best-effort.
func (c *Connection) SendError(code, message string) error {
	data, err := json.Marshal(map[string]string{"type": "error", "code": code, "message": message})
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
	default:
	}
	return nil
}
