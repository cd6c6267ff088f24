package presence

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/session"
)

// Cache is the shared state store as seen by presence.
type Cache interface {
	Ping(ctx context.Context) error
	SetStatus(ctx context.Context, deviceID int64, status string) error
	TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time, ttl time.Duration) error
	ClearHeartbeat(ctx context.Context, deviceID int64) error
	Heartbeats(ctx context.Context) (map[int64]time.Time, error)
	OnlineDevices(ctx context.Context) ([]int64, error)
}

// Sessions is the subset of session.Registry the reconciler drives.
type Sessions interface {
	Bind(conn session.Conn, deviceID int64) (session.Conn, error)
	Unbind(conn session.Conn) (int64, bool)
	IsLive(deviceID int64) bool
	SweepClosed() []int64
}

// Observer is told when a device record changes its broker address.
type Observer interface {
	Observe(dev *device.Device)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the reconciler timings.
type Config struct {
	// HeartbeatTimeout is the TTL applied to cached heartbeat keys.
	HeartbeatTimeout time.Duration

	// PersistInterval is the minimum gap between durable heartbeat writes
	// for a device that stays online. Heartbeats with metrics are always
	// written.
	PersistInterval time.Duration

	// OperationTimeout bounds each cache and durable call.
	OperationTimeout time.Duration
}

// Deps are the collaborators a Reconciler needs. Notifier and Observer
// are optional.
type Deps struct {
	Devices  device.Repository
	Cache    Cache
	Sessions Sessions
	Notifier Notifier
	Observer Observer
}

// Reconciler keeps the session registry, the shared cache and the durable
// device record in agreement about each device's presence.
//
// Writes go durable record first, then cache, then notification. A failed
// durable write is logged and never stops the cache write or the event;
// the sweeps repair any divergence on a later cycle. All methods are
// idempotent and safe for concurrent use.
type Reconciler struct {
	devices  device.Repository
	cache    Cache
	sessions Sessions
	notifier Notifier
	observer Observer
	cfg      Config

	now    func() time.Time
	logger Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(deps Deps, cfg Config) *Reconciler {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	return &Reconciler{
		devices:  deps.Devices,
		cache:    deps.Cache,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		observer: deps.Observer,
		cfg:      cfg,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// Connect records that a device came online on conn.
//
// It binds the session (evicting any earlier connection), marks the durable
// record online with the merged metrics, sets the cached status and
// heartbeat, and emits an online event. A conn the registry refuses
// (closed, or already replaced) changes nothing.
func (r *Reconciler) Connect(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics) {
	if !r.bind(conn, deviceID) {
		return
	}
	now := r.now()

	dev := r.load(ctx, deviceID)
	if dev != nil {
		dev.Status = device.StatusOnline
		dev.LastHeartbeatAt = &now
		r.merge(ctx, dev, m)
		r.save(ctx, dev)
	}

	r.cacheOnline(ctx, deviceID, now)
	r.notify(r.event(EventOnline, deviceID, dev, m, device.StatusOnline, "", now))
}

// Heartbeat refreshes a device's liveness.
//
// A heartbeat for a device whose durable record is not online is handled
// as Connect. Otherwise the cached heartbeat TTL is refreshed on every
// call and the durable record on the PersistInterval cadence, or whenever
// metrics are present.
func (r *Reconciler) Heartbeat(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics) {
	dev := r.load(ctx, deviceID)
	if dev != nil && dev.Status != device.StatusOnline {
		r.Connect(ctx, conn, deviceID, m)
		return
	}

	if !r.bind(conn, deviceID) {
		return
	}
	now := r.now()

	if dev != nil && r.persistDue(dev, m, now) {
		dev.LastHeartbeatAt = &now
		r.merge(ctx, dev, m)
		r.save(ctx, dev)
	}

	r.cacheOnline(ctx, deviceID, now)
	r.notify(r.event(EventHeartbeat, deviceID, dev, m, device.StatusOnline, "", now))
}

// Disconnect records a device announcing it is going offline on conn.
//
// A conn that is no longer bound to the device (it was evicted by a newer
// connection) is ignored so the newer session stays online.
func (r *Reconciler) Disconnect(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics) {
	if conn != nil {
		bound, ok := r.sessions.Unbind(conn)
		if !ok || bound != deviceID {
			r.logger.Info("ignoring offline frame from unbound connection",
				"device_id", deviceID, "conn", conn.ID())
			return
		}
	}
	r.goOffline(ctx, deviceID, m, ReasonDisconnect)
}

// SessionClosed handles a session transport closing or failing. If conn
// still spoke for a device, that device is forced offline with
// ReasonSessionLost.
func (r *Reconciler) SessionClosed(ctx context.Context, conn session.Conn) {
	deviceID, ok := r.sessions.Unbind(conn)
	if !ok {
		return
	}
	r.goOffline(ctx, deviceID, device.Metrics{}, ReasonSessionLost)
}

// ForceOffline marks a device offline without a device-supplied frame.
// Used by the sweeps.
func (r *Reconciler) ForceOffline(ctx context.Context, deviceID int64, reason Reason) {
	r.goOffline(ctx, deviceID, device.Metrics{}, reason)
}

// UpdateTreatment records a device-reported treatment flag and emits a
// treatment event.
func (r *Reconciler) UpdateTreatment(ctx context.Context, deviceID int64, status device.TreatmentStatus) {
	now := r.now()

	opCtx, cancel := r.bound(ctx)
	err := r.devices.SetTreatmentStatus(opCtx, deviceID, status)
	cancel()
	if err != nil {
		r.logger.Warn("durable treatment update failed", "device_id", deviceID, "error", err)
	}

	dev := r.load(ctx, deviceID)
	st := device.StatusUnknown
	if dev != nil {
		st = dev.Status
	}
	ev := r.event(EventTreatment, deviceID, dev, device.Metrics{}, st, "", now)
	ev.TreatmentStatus = status
	r.notify(ev)
}

func (r *Reconciler) goOffline(ctx context.Context, deviceID int64, m device.Metrics, reason Reason) {
	now := r.now()

	dev := r.load(ctx, deviceID)
	if dev != nil {
		dev.Status = device.StatusOffline
		r.merge(ctx, dev, m)
		if reason.resetsTreatment() {
			dev.TreatmentStatus = device.TreatmentIdle
		}
		r.save(ctx, dev)
	}

	opCtx, cancel := r.bound(ctx)
	if err := r.cache.SetStatus(opCtx, deviceID, string(device.StatusOffline)); err != nil {
		r.logger.Warn("cache status write failed", "device_id", deviceID, "error", err)
	}
	if err := r.cache.ClearHeartbeat(opCtx, deviceID); err != nil {
		r.logger.Warn("cache heartbeat clear failed", "device_id", deviceID, "error", err)
	}
	cancel()

	ev := r.event(EventOffline, deviceID, dev, m, device.StatusOffline, reason, now)
	if reason.resetsTreatment() {
		ev.TreatmentStatus = device.TreatmentIdle
	}
	r.logger.Info("device offline", "device_id", deviceID, "reason", string(reason))
	r.notify(ev)
}

// bind reports whether conn may speak for the device. A nil conn is a
// frame without a session and always may.
func (r *Reconciler) bind(conn session.Conn, deviceID int64) bool {
	if conn == nil {
		return true
	}
	if _, err := r.sessions.Bind(conn, deviceID); err != nil {
		r.logger.Info("dropping presence frame from stale connection",
			"device_id", deviceID, "conn", conn.ID(), "error", err)
		return false
	}
	return true
}

func (r *Reconciler) persistDue(dev *device.Device, m device.Metrics, now time.Time) bool {
	if !m.IsEmpty() || dev.LastHeartbeatAt == nil {
		return true
	}
	return now.Sub(*dev.LastHeartbeatAt) >= r.cfg.PersistInterval
}

func (r *Reconciler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.OperationTimeout)
}

// load reads the durable record. nil means it could not be read; the
// caller carries on with cache and notification.
func (r *Reconciler) load(ctx context.Context, deviceID int64) *device.Device {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	dev, err := r.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			r.logger.Warn("presence for unregistered device", "device_id", deviceID)
		} else {
			r.logger.Warn("durable read failed", "device_id", deviceID, "error", err)
		}
		return nil
	}
	return dev
}

// merge applies reported metrics. A number the record does not carry yet is
// adopted only if no other record holds it; otherwise it would make the
// number ambiguous for every later command and inbound frame.
func (r *Reconciler) merge(ctx context.Context, dev *device.Device, m device.Metrics) {
	if m.DeviceNo != nil && dev.DeviceNo == 0 && *m.DeviceNo > 0 && !r.numberFree(ctx, dev.ID, *m.DeviceNo) {
		m.DeviceNo = nil
	}
	before := dev.DeviceNo
	for _, msg := range dev.Merge(m) {
		r.logger.Warn("rejected device metric", "device_id", dev.ID, "detail", msg)
	}
	if dev.DeviceNo != before && r.observer != nil {
		r.observer.Observe(dev)
	}
}

func (r *Reconciler) numberFree(ctx context.Context, deviceID int64, deviceNo int) bool {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	holder, err := r.devices.GetByDeviceNo(ctx, deviceNo)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return true
	case err != nil:
		r.logger.Warn("rejected device number, holder lookup failed",
			"device_id", deviceID, "device_no", deviceNo, "error", err)
		return false
	case holder.ID != deviceID:
		r.logger.Warn("rejected device number held by another device",
			"device_id", deviceID, "device_no", deviceNo, "holder_id", holder.ID)
		return false
	}
	return true
}

func (r *Reconciler) save(ctx context.Context, dev *device.Device) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.devices.SavePresence(ctx, dev); err != nil {
		r.logger.Warn("durable presence write failed",
			"device_id", dev.ID, "status", string(dev.Status), "error", err)
	}
}

func (r *Reconciler) cacheOnline(ctx context.Context, deviceID int64, now time.Time) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.cache.SetStatus(ctx, deviceID, string(device.StatusOnline)); err != nil {
		r.logger.Warn("cache status write failed", "device_id", deviceID, "error", err)
	}
	if err := r.cache.TouchHeartbeat(ctx, deviceID, now, r.cfg.HeartbeatTimeout); err != nil {
		r.logger.Warn("cache heartbeat write failed", "device_id", deviceID, "error", err)
	}
}

// event builds an Event from the durable record when available, falling
// back to the reported metrics.
func (r *Reconciler) event(kind EventKind, deviceID int64, dev *device.Device, m device.Metrics,
	status device.Status, reason Reason, at time.Time) Event {
	ev := Event{Kind: kind, DeviceID: deviceID, Status: status, Reason: reason, At: at}
	if dev != nil {
		ev.DeviceNo = dev.DeviceNo
		ev.TreatmentStatus = dev.TreatmentStatus
		ev.UsageCount = dev.UsageCount
		ev.UsageMinutes = dev.UsageMinutes
		return ev
	}
	if m.DeviceNo != nil {
		ev.DeviceNo = *m.DeviceNo
	}
	if m.TreatmentStatus != nil && m.TreatmentStatus.Valid() {
		ev.TreatmentStatus = *m.TreatmentStatus
	}
	if m.UsageCount != nil {
		ev.UsageCount = *m.UsageCount
	}
	if m.UsageMinutes != nil {
		ev.UsageMinutes = *m.UsageMinutes
	}
	return ev
}

// notify delivers an event, containing any notifier panic.
func (r *Reconciler) notify(ev Event) {
	if r.notifier == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("presence notifier panic recovered",
				"device_id", ev.DeviceID, "kind", string(ev.Kind), "panic", rec)
		}
	}()
	r.notifier.Notify(ev)
}
