package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestAckTracker_ExplicitID(t *testing.T) {
	tr := NewAckTracker(0)
	now := time.Now()
	tr.Track(7, MsgTypePrescription, "m1", now)
	tr.Track(7, MsgTypePrescription, "m2", now)

	cmd, ok := tr.Ack(7, "m1", now)
	if !ok || cmd.MsgID != "m1" || cmd.State != StateAcked || cmd.AckedAt == nil {
		t.Fatalf("Ack(m1) = %+v, %v", cmd, ok)
	}
	// m2 is newer, so an explicit ack for m1 leaves it pending.
	if !tr.Pending(7) {
		t.Error("m2 should still be pending")
	}
	if _, ok := tr.Ack(7, "m1", now); ok {
		t.Error("second ack for m1 matched again")
	}
}

func TestAckTracker_NoMatch(t *testing.T) {
	tr := NewAckTracker(0)
	if _, ok := tr.Ack(7, "", time.Now()); ok {
		t.Error("ack with nothing tracked matched")
	}
	tr.Track(7, MsgTypeCancel, "m1", time.Now())
	if _, ok := tr.Ack(8, "", time.Now()); ok {
		t.Error("ack from another device matched")
	}
	if _, ok := tr.Ack(7, "nope", time.Now()); ok {
		t.Error("ack with unknown id matched")
	}
}

func TestAckTracker_Depth(t *testing.T) {
	tr := NewAckTracker(2)
	now := time.Now()
	tr.Track(7, MsgTypeCancel, "m1", now)
	tr.Track(7, MsgTypeCancel, "m2", now)
	tr.Track(7, MsgTypeCancel, "m3", now)

	cmds := tr.Commands(7)
	if len(cmds) != 2 || cmds[0].MsgID != "m2" || cmds[1].MsgID != "m3" {
		t.Errorf("Commands() = %+v, want m2, m3", cmds)
	}
}

func TestAckTracker_Concurrent(t *testing.T) {
	tr := NewAckTracker(0)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(dev int64) {
			defer wg.Done()
			for range 50 {
				tr.Track(dev, MsgTypeCancel, "m", time.Now())
				tr.Ack(dev, "", time.Now())
			}
		}(int64(i % 3))
	}
	wg.Wait()

	for dev := range int64(3) {
		if tr.Pending(dev) {
			t.Errorf("device %d has pending commands after matched acks", dev)
		}
	}
}
