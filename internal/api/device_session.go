package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/therapy-core/internal/device"
)

// Frame status values sent by devices on the session channel.
const (
	frameOnline    = "online"
	frameHeartbeat = "heartbeat"
	frameOffline   = "offline"
)

// errInvalidFrame is returned by decodeDeviceFrame for frames that cannot
// be applied.
var errInvalidFrame = errors.New("api: invalid device frame")

// deviceFrame is one inbound session-channel frame.
type deviceFrame struct {
	DeviceID int64
	Status   string
	Metrics  device.Metrics
}

// knownFrameKeys are decoded into typed fields; anything else is kept as an
// extension.
var knownFrameKeys = map[string]struct{}{
	"deviceId":        {},
	"status":          {},
	"deviceNo":        {},
	"usageCount":      {},
	"usageMinutes":    {},
	"treatmentStatus": {},
}

// decodeDeviceFrame parses a frame. deviceId and status are required.
func decodeDeviceFrame(data []byte) (deviceFrame, error) {
	var raw struct {
		DeviceID        *int64                  `json:"deviceId"`
		Status          string                  `json:"status"`
		DeviceNo        *int                    `json:"deviceNo"`
		UsageCount      *int64                  `json:"usageCount"`
		UsageMinutes    *int64                  `json:"usageMinutes"`
		TreatmentStatus *device.TreatmentStatus `json:"treatmentStatus"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return deviceFrame{}, fmt.Errorf("%w: %w", errInvalidFrame, err)
	}
	if raw.DeviceID == nil || *raw.DeviceID <= 0 {
		return deviceFrame{}, fmt.Errorf("%w: missing deviceId", errInvalidFrame)
	}
	switch raw.Status {
	case frameOnline, frameHeartbeat, frameOffline:
	default:
		return deviceFrame{}, fmt.Errorf("%w: status %q", errInvalidFrame, raw.Status)
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return deviceFrame{}, fmt.Errorf("%w: %w", errInvalidFrame, err)
	}
	var ext map[string]any
	for k, v := range all {
		if _, known := knownFrameKeys[k]; known {
			continue
		}
		if ext == nil {
			ext = make(map[string]any)
		}
		ext[k] = v
	}

	return deviceFrame{
		DeviceID: *raw.DeviceID,
		Status:   raw.Status,
		Metrics: device.Metrics{
			DeviceNo:        raw.DeviceNo,
			UsageCount:      raw.UsageCount,
			UsageMinutes:    raw.UsageMinutes,
			TreatmentStatus: raw.TreatmentStatus,
			Extensions:      ext,
		},
	}, nil
}

// deviceConn is a device socket seen by the session registry.
//
// IsOpen turns false once the socket is closed or once nothing (frame or
// pong) has arrived within staleAfter, whichever comes first. That lets
// the liveness sweep catch a dead peer before the read deadline fires.
type deviceConn struct {
	id         string
	ws         *websocket.Conn
	staleAfter time.Duration

	lastSeen  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	now func() time.Time
}

func newDeviceConn(ws *websocket.Conn, staleAfter time.Duration) *deviceConn {
	c := &deviceConn{
		id:         uuid.NewString(),
		ws:         ws,
		staleAfter: staleAfter,
		now:        time.Now,
	}
	c.touch()
	return c
}

// ID implements session.Conn.
func (c *deviceConn) ID() string { return c.id }

// IsOpen implements session.Conn.
func (c *deviceConn) IsOpen() bool {
	if c.closed.Load() {
		return false
	}
	if c.staleAfter <= 0 {
		return true
	}
	last := time.Unix(0, c.lastSeen.Load())
	return c.now().Sub(last) <= c.staleAfter
}

// Close implements session.Conn. Only the first call closes the socket.
func (c *deviceConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *deviceConn) touch() {
	c.lastSeen.Store(c.now().UnixNano())
}

func (c *deviceConn) ping(deadline time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// handleDeviceSocket upgrades a device connection. The device identifies
// itself with its first frame; no token is required.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("device websocket upgrade failed", "error", err)
		return
	}

	pingInterval, pongWait := socketTimings(s.wsCfg)
	conn := newDeviceConn(ws, pingInterval+pongWait)
	s.logger.Debug("device session opened", "conn", conn.ID(), "remote", r.RemoteAddr)

	go s.serveDeviceSession(s.baseCtx, conn, pingInterval, pongWait)
}

// serveDeviceSession reads frames until the socket fails, then tears the
// session down exactly once.
func (s *Server) serveDeviceSession(ctx context.Context, conn *deviceConn, pingInterval, pongWait time.Duration) {
	done := make(chan struct{})
	var teardown sync.Once
	closeSession := func() {
		teardown.Do(func() {
			close(done)
			conn.Close() //nolint:errcheck // Already failing; close error adds nothing
			s.presence.SessionClosed(context.WithoutCancel(ctx), conn)
			s.logger.Debug("device session closed", "conn", conn.ID())
		})
	}
	defer closeSession()

	ws := conn.ws
	if s.wsCfg.MaxMessageSize > 0 {
		ws.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	ws.SetPongHandler(func(string) error {
		conn.touch()
		return ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	go s.pingDevice(conn, done, pingInterval, pongWait, closeSession)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("device read error", "conn", conn.ID(), "error", err)
			}
			return
		}
		conn.touch()
		//nolint:errcheck // Best-effort deadline reset
		ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		frame, err := decodeDeviceFrame(data)
		if err != nil {
			s.logger.Warn("dropping device frame", "conn", conn.ID(), "error", err)
			continue
		}
		s.applyFrame(ctx, conn, frame)
	}
}

func (s *Server) applyFrame(ctx context.Context, conn *deviceConn, f deviceFrame) {
	switch f.Status {
	case frameOnline:
		s.presence.Connect(ctx, conn, f.DeviceID, f.Metrics)
	case frameHeartbeat:
		s.presence.Heartbeat(ctx, conn, f.DeviceID, f.Metrics)
	case frameOffline:
		s.presence.Disconnect(ctx, conn, f.DeviceID, f.Metrics)
	}
}

func (s *Server) pingDevice(conn *deviceConn, done <-chan struct{}, interval, wait time.Duration, fail func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(time.Now().Add(wait)); err != nil {
				s.logger.Debug("device ping failed", "conn", conn.ID(), "error", err)
				fail()
				return
			}
		}
	}
}
