package presence

import (
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
)

// Reason explains why a device went offline.
type Reason string

const (
	// ReasonDisconnect is a device announcing it is going offline.
	ReasonDisconnect Reason = "disconnect"
	// ReasonSessionLost is the session transport closing or failing.
	ReasonSessionLost Reason = "session lost"
	// ReasonConnectionLost is the liveness sweep finding no open session.
	ReasonConnectionLost Reason = "connection lost"
	// ReasonHeartbeatTimeout is the heartbeat sweep finding a stale heartbeat.
	ReasonHeartbeatTimeout Reason = "heartbeat timeout"
)

// resetsTreatment reports whether going offline for this reason clears
// the treatment flag. A device that lost its link cannot still be
// delivering a supervised treatment.
func (r Reason) resetsTreatment() bool {
	switch r {
	case ReasonDisconnect, ReasonSessionLost, ReasonConnectionLost, ReasonHeartbeatTimeout:
		return true
	default:
		return false
	}
}

// EventKind names the presence transition an Event reports.
type EventKind string

const (
	EventOnline    EventKind = "online"
	EventHeartbeat EventKind = "heartbeat"
	EventOffline   EventKind = "offline"
	EventTreatment EventKind = "treatment"
)

// Event is emitted once per presence transition.
type Event struct {
	Kind            EventKind
	DeviceID        int64
	DeviceNo        int
	Status          device.Status
	TreatmentStatus device.TreatmentStatus
	UsageCount      int64
	UsageMinutes    int64
	Reason          Reason
	At              time.Time
}

// Notifier receives presence events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(e Event) {
	for _, n := range f {
		n.Notify(e)
	}
}
