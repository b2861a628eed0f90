// Package wsgateway is the streaming transport for WS /alerts/stream.
// It adapts internal/bus.Bus's per-subscriber channel into a
// WebSocket connection, following the teacher's Hub/Connection
// read-pump/write-pump shape in internal/wsgateway/hub.go and
// connection.go, but fans alerts out from an in-process Bus instead of
// consuming a Redis stream directly per gateway instance.
package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smc-engine/smcengine/internal/bus"
	"github.com/smc-engine/smcengine/internal/config"
	"github.com/smc-engine/smcengine/internal/metrics"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// Hub manages streaming WebSocket connections backed by a Bus.
type Hub struct {
	cfg      config.APIConfig
	bus      *bus.Bus
	registry *ConnectionRegistry
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	stats    HubStats
}

// HubStats holds statistics about the hub.
type HubStats struct {
	ConnectionsTotal  int64
	ConnectionsActive int64
	AlertsBroadcast   int64
	MessagesSent      int64

	mu sync.RWMutex
}

// NewHub creates a new streaming hub bound to bus.
func NewHub(cfg config.APIConfig, b *bus.Bus) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		bus:      b,
		registry: NewConnectionRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start marks the hub running. There is no shared background consumer
// loop here: each connection subscribes to the Bus directly in Register.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true

	h.wg.Add(1)
	go h.monitorConnections()

	logger.Info("Starting streaming hub")
	return nil
}

// Stop stops the hub and unregisters every connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping streaming hub")
	h.cancel()
	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("Streaming hub stopped")
}

// Register registers a new connection, subscribes it to the bus, and
// starts its pumps.
func (h *Hub) Register(conn *Connection) {
	filter := bus.Filter{Symbol: conn.Symbol}
	subID, alerts := h.bus.Subscribe(filter)
	conn.subID = subID

	h.registry.Add(conn)
	h.incrementConnectionsTotal()
	metrics.ActiveWSConnections.Inc()

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("symbol_filter", conn.Symbol),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(3)
	go h.forwardAlerts(conn, alerts)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister unregisters a connection and unsubscribes it from the bus.
func (h *Hub) Unregister(conn *Connection) {
	removed := h.registry.Remove(conn.ID)
	h.bus.Unsubscribe(conn.subID)
	conn.Close()

	if !removed {
		return
	}
	metrics.ActiveWSConnections.Dec()

	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", h.registry.Count()),
	)
}

// forwardAlerts drains conn's bus subscription into its outbound queue
// until the subscription channel is closed by Unsubscribe.
func (h *Hub) forwardAlerts(conn *Connection, alerts <-chan models.Alert) {
	defer h.wg.Done()
	for alert := range alerts {
		conn.EnqueueAlert(alert)
		h.incrementAlertsBroadcast()
	}
}

// monitorConnections monitors connection health and removes stale connections.
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.cfg.ReadTimeout * 2
			for _, conn := range h.registry.GetAll() {
				if now.Sub(conn.GetLastPong()) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.Duration("idle_time", now.Sub(conn.GetLastPong())),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// writePump pumps messages from conn.Send to the WebSocket.
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.cfg.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-conn.Done():
			return

		case message := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))

			w, err := conn.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(conn.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-conn.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
			h.incrementMessagesSent()

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket to the connection.
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			conn.SendError("invalid_message", "failed to parse message")
			continue
		}
		if err := conn.HandleClientMessage(&clientMsg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() HubStats {
	h.stats.mu.RLock()
	defer h.stats.mu.RUnlock()
	return HubStats{
		ConnectionsTotal:  h.stats.ConnectionsTotal,
		ConnectionsActive: int64(h.registry.Count()),
		AlertsBroadcast:   h.stats.AlertsBroadcast,
		MessagesSent:      h.stats.MessagesSent,
	}
}

func (h *Hub) incrementConnectionsTotal() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.ConnectionsTotal++
}

func (h *Hub) incrementAlertsBroadcast() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.AlertsBroadcast++
}

func (h *Hub) incrementMessagesSent() {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	h.stats.MessagesSent++
}
