package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
	"github.com/nerrad567/therapy-core/internal/infrastructure/logging"
	"github.com/nerrad567/therapy-core/internal/presence"
)

// wsSendBufferSize is the per-viewer outbound frame buffer size.
const wsSendBufferSize = 256

// PresenceFrame is the frame broadcast to viewers on every presence change.
type PresenceFrame struct {
	DeviceID        int64                  `json:"deviceId"`
	Status          device.Status          `json:"status"`
	TreatmentStatus device.TreatmentStatus `json:"treatmentStatus"`
}

// Hub fans presence changes out to connected viewers. It implements
// presence.Notifier and never blocks the caller: a viewer whose buffer is
// full misses the frame.
type Hub struct {
	logger  *logging.Logger
	clients map[*viewer]struct{}
	mu      sync.RWMutex
}

// viewer is one connected viewer socket.
type viewer struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*viewer]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Notify implements presence.Notifier. Heartbeats that change nothing a
// viewer can see are not broadcast.
func (h *Hub) Notify(ev presence.Event) {
	if ev.Kind == presence.EventHeartbeat {
		return
	}
	h.Broadcast(PresenceFrame{
		DeviceID:        ev.DeviceID,
		Status:          ev.Status,
		TreatmentStatus: ev.TreatmentStatus,
	})
}

// Broadcast sends frame to every connected viewer.
func (h *Hub) Broadcast(frame PresenceFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal presence frame", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*viewer, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("presence broadcast", "device_id", frame.DeviceID, "status", frame.Status, "viewers", len(clients))
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *viewer) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("viewer connected", "subject", c.subject, "viewers", h.ClientCount())
}

// unregister removes c. Only the caller that removes c from the map closes
// its send channel.
func (h *Hub) unregister(c *viewer) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("viewer disconnected", "subject", c.subject, "viewers", h.ClientCount())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close() //nolint:errcheck // Best-effort close during shutdown
		delete(h.clients, c)
	}
}

// handleViewerSocket upgrades an authenticated request to a viewer socket.
func (s *Server) handleViewerSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "missing credentials")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("viewer websocket upgrade failed", "error", err)
		return
	}

	c := &viewer{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		subject: claims.Subject,
	}
	s.hub.register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// readPump discards viewer input and detects close.
func (c *viewer) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // Best-effort close
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := socketTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("viewer read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

func (c *viewer) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := socketTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Best-effort close
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. A closed channel (viewer left
// mid-broadcast) or a full buffer drops the frame.
func (c *viewer) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// socketTimings returns the ping interval and pong wait with defaults
// applied for zero config values.
func socketTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = 10 * time.Second
	}
	return pingInterval, pongWait
}
