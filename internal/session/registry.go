package session

import (
	"sync"
)

// Conn is a live transport bound to a device.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// IsOpen reports whether the transport can still carry frames.
	IsOpen() bool
	// Close tears the transport down. It must be safe to call more than once.
	Close() error
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Registry tracks which connection currently speaks for each device.
//
// At most one connection is bound to a device at a time. Binding a second
// connection evicts and closes the first. Both maps are guarded by the
// registry's own mutex, so callers never need external locking.
type Registry struct {
	mu       sync.Mutex
	byDevice map[int64]Conn
	byConn   map[Conn]int64
	// retired holds evicted connections until their owner unbinds them,
	// covering the gap before Close takes effect.
	retired map[Conn]struct{}

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byDevice: make(map[int64]Conn),
		byConn:   make(map[Conn]int64),
		retired:  make(map[Conn]struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for eviction and sweep messages.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Bind associates conn with deviceID.
//
// Rebinding the same pair is a no-op. If another connection was bound to
// the device it is unbound first and closed after the lock is released, and
// the eviction is logged. If conn was bound to a different device, that
// older binding is dropped.
//
// A connection that reports not open, or that was evicted and not yet
// unbound by its owner, is refused with ErrConnClosed and leaves every
// binding untouched. This stops a session that was already
// evicted from displacing its replacement with a frame read before it
// was closed.
//
// Returns the evicted connection, or nil.
func (r *Registry) Bind(conn Conn, deviceID int64) (Conn, error) {
	r.mu.Lock()

	if _, gone := r.retired[conn]; gone || !conn.IsOpen() {
		r.mu.Unlock()
		r.logger.Info("refusing bind for closed connection",
			"device_id", deviceID, "conn", conn.ID())
		return nil, ErrConnClosed
	}

	if prev, ok := r.byConn[conn]; ok {
		if prev == deviceID {
			r.mu.Unlock()
			return nil, nil
		}
		delete(r.byDevice, prev)
	}

	evicted, had := r.byDevice[deviceID]
	if had {
		delete(r.byConn, evicted)
		r.retired[evicted] = struct{}{}
	}

	r.byDevice[deviceID] = conn
	r.byConn[conn] = deviceID
	r.mu.Unlock()

	if !had {
		return nil, nil
	}

	r.logger.Warn("duplicate connection for device, evicting previous",
		"device_id", deviceID,
		"evicted_conn", evicted.ID(),
		"new_conn", conn.ID(),
	)
	if err := evicted.Close(); err != nil {
		r.logger.Warn("closing evicted connection", "conn", evicted.ID(), "error", err)
	}
	return evicted, nil
}

// Unbind removes conn's binding and returns the device it was bound to.
// ok is false if conn was not bound, for example because it was evicted.
func (r *Registry) Unbind(conn Conn) (deviceID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.retired, conn)
	deviceID, ok = r.byConn[conn]
	if !ok {
		return 0, false
	}
	delete(r.byConn, conn)
	if r.byDevice[deviceID] == conn {
		delete(r.byDevice, deviceID)
	}
	return deviceID, true
}

// IsLive reports whether deviceID has a bound connection that is open.
func (r *Registry) IsLive(deviceID int64) bool {
	r.mu.Lock()
	conn, ok := r.byDevice[deviceID]
	r.mu.Unlock()

	return ok && conn.IsOpen()
}

// Lookup returns the connection bound to deviceID.
func (r *Registry) Lookup(deviceID int64) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byDevice[deviceID]
	return conn, ok
}

// SweepClosed unbinds every connection that reports not open and returns
// the affected device ids. Removed connections are closed, which releases
// transports whose peer went silent without a close frame.
func (r *Registry) SweepClosed() []int64 {
	r.mu.Lock()
	var removed []int64
	var dead []Conn
	for id, conn := range r.byDevice {
		if conn.IsOpen() {
			continue
		}
		delete(r.byDevice, id)
		delete(r.byConn, conn)
		removed = append(removed, id)
		dead = append(dead, conn)
	}
	r.mu.Unlock()

	for _, conn := range dead {
		conn.Close() //nolint:errcheck // Already dead
	}
	if len(removed) > 0 {
		r.logger.Info("removed closed sessions", "device_ids", removed)
	}
	return removed
}

// Len returns the number of bound devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDevice)
}

// CloseAll closes and unbinds every connection. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byDevice))
	for _, c := range r.byDevice {
		conns = append(conns, c)
	}
	r.byDevice = make(map[int64]Conn)
	r.byConn = make(map[Conn]int64)
	r.retired = make(map[Conn]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck // Shutdown path
	}
}
