package dispatch

import (
	"sync"
	"time"
)

// CommandState is the acknowledgement state of a dispatched command.
type CommandState string

const (
	StatePending    CommandState = "pending"
	StateAcked      CommandState = "acked"
	StateSuperseded CommandState = "superseded"
)

// defaultTrackDepth is how many commands are remembered per device.
const defaultTrackDepth = 16

// Command is a dispatched command as seen by the tracker.
type Command struct {
	MsgID    string       `json:"msgId"`
	DeviceID int64        `json:"deviceId"`
	MsgType  string       `json:"msgType"`
	SentAt   time.Time    `json:"sentAt"`
	State    CommandState `json:"state"`
	AckedAt  *time.Time   `json:"ackedAt,omitempty"`
}

// AckTracker matches device acknowledgements to dispatched commands.
//
// Devices usually do not echo the message id they are acknowledging, so an
// ack without an id matches the newest pending command for that device and
// every older pending command becomes superseded. An ack that does echo an
// id matches that command exactly.
//
// All methods are thread-safe.
type AckTracker struct {
	mu       sync.Mutex
	byDevice map[int64][]*Command
	depth    int
}

// NewAckTracker creates a tracker remembering depth commands per device.
func NewAckTracker(depth int) *AckTracker {
	if depth <= 0 {
		depth = defaultTrackDepth
	}
	return &AckTracker{byDevice: make(map[int64][]*Command), depth: depth}
}

// Track records a newly dispatched command.
func (t *AckTracker) Track(deviceID int64, msgType, msgID string, sentAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmds := append(t.byDevice[deviceID], &Command{
		MsgID:    msgID,
		DeviceID: deviceID,
		MsgType:  msgType,
		SentAt:   sentAt,
		State:    StatePending,
	})
	if len(cmds) > t.depth {
		cmds = cmds[len(cmds)-t.depth:]
	}
	t.byDevice[deviceID] = cmds
}

// Ack applies an acknowledgement from deviceID. ackMsgID may be empty.
// It returns the matched command, or false if nothing pending matched.
func (t *AckTracker) Ack(deviceID int64, ackMsgID string, at time.Time) (Command, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmds := t.byDevice[deviceID]
	match := -1
	if ackMsgID != "" {
		for i, c := range cmds {
			if c.MsgID == ackMsgID && c.State == StatePending {
				match = i
				break
			}
		}
	} else {
		for i := len(cmds) - 1; i >= 0; i-- {
			if cmds[i].State == StatePending {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return Command{}, false
	}

	ackedAt := at
	cmds[match].State = StateAcked
	cmds[match].AckedAt = &ackedAt
	for _, c := range cmds[:match] {
		if c.State == StatePending {
			c.State = StateSuperseded
		}
	}
	return *cmds[match], true
}

// Commands returns a copy of the commands remembered for deviceID, oldest
// first.
func (t *AckTracker) Commands(deviceID int64) []Command {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Command, 0, len(t.byDevice[deviceID]))
	for _, c := range t.byDevice[deviceID] {
		out = append(out, *c)
	}
	return out
}

// Pending reports whether deviceID has an unacknowledged command.
func (t *AckTracker) Pending(deviceID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.byDevice[deviceID] {
		if c.State == StatePending {
			return true
		}
	}
	return false
}
