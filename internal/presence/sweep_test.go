package presence

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
)

func TestHeartbeatSweep_ForcesStaleOffline(t *testing.T) {
	f := setup(t, device.Device{ID: 7}, device.Device{ID: 8}, device.Device{ID: 9})
	ctx := context.Background()

	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	f.rec.now = func() time.Time { return base }
	f.rec.Connect(ctx, newFakeConn("c7"), 7, device.Metrics{})
	f.rec.Connect(ctx, newFakeConn("c8"), 8, device.Metrics{})
	f.rec.Connect(ctx, newFakeConn("c9"), 9, device.Metrics{})

	// Device 8 keeps beating; device 9's key has expired.
	f.rec.now = func() time.Time { return base.Add(3 * time.Minute) }
	f.rec.Heartbeat(ctx, nil, 8, device.Metrics{})
	f.cache.ClearHeartbeat(ctx, 9) //nolint:errcheck // Fake

	sweep := NewHeartbeatSweep(f.cache, f.rec, 2*time.Minute, time.Minute)
	sweep.now = func() time.Time { return base.Add(3 * time.Minute) }

	forced := sweep.SweepOnce(ctx)
	if !slices.Equal(forced, []int64{7, 9}) {
		t.Fatalf("forced = %v, want [7 9]", forced)
	}
	for _, id := range forced {
		if d := f.device(t, id); d.Status != device.StatusOffline {
			t.Errorf("device %d status = %q, want offline", id, d.Status)
		}
	}
	if d := f.device(t, 8); d.Status != device.StatusOnline {
		t.Errorf("device 8 status = %q, want online", d.Status)
	}

	last := f.events.all()
	if e := last[len(last)-1]; e.Reason != ReasonHeartbeatTimeout {
		t.Errorf("reason = %q, want heartbeat timeout", e.Reason)
	}

	// The next cycle finds nothing.
	if again := sweep.SweepOnce(ctx); len(again) != 0 {
		t.Errorf("second sweep forced %v", again)
	}
}

func TestHeartbeatSweep_SkipsWhenCacheDown(t *testing.T) {
	f := setup(t, device.Device{ID: 7})
	ctx := context.Background()

	f.rec.Connect(ctx, newFakeConn("c7"), 7, device.Metrics{})
	f.cache.ClearHeartbeat(ctx, 7) //nolint:errcheck // Fake
	f.cache.pingErr = errors.New("connection refused")

	sweep := NewHeartbeatSweep(f.cache, f.rec, 2*time.Minute, time.Minute)
	if forced := sweep.SweepOnce(ctx); forced != nil {
		t.Errorf("forced = %v, want nil while cache is down", forced)
	}
	if d := f.device(t, 7); d.Status != device.StatusOnline {
		t.Errorf("status = %q, want online", d.Status)
	}
}

func TestLivenessSweep_ClosedSession(t *testing.T) {
	f := setup(t, device.Device{ID: 7}, device.Device{ID: 8})
	ctx := context.Background()

	dead, alive := newFakeConn("c7"), newFakeConn("c8")
	f.rec.Connect(ctx, dead, 7, device.Metrics{TreatmentStatus: tsPtr(device.TreatmentStimulating)})
	f.rec.Connect(ctx, alive, 8, device.Metrics{})
	dead.open.Store(false)

	sweep := NewLivenessSweep(f.cache, f.repo, f.sessions, f.rec, time.Minute)
	forced := sweep.SweepOnce(ctx)
	if !slices.Equal(forced, []int64{7}) {
		t.Fatalf("forced = %v, want [7]", forced)
	}

	d := f.device(t, 7)
	if d.Status != device.StatusOffline || d.TreatmentStatus != device.TreatmentIdle {
		t.Errorf("device 7 = status %q treatment %d", d.Status, d.TreatmentStatus)
	}
	last := f.events.all()
	if e := last[len(last)-1]; e.Reason != ReasonConnectionLost {
		t.Errorf("reason = %q, want connection lost", e.Reason)
	}
}

func TestLivenessSweep_HealsDurableAfterRestart(t *testing.T) {
	f := setup(t, device.Device{ID: 7})
	ctx := context.Background()

	// A previous process left the record online. The cache is empty and no
	// session exists.
	d := f.device(t, 7)
	d.Status = device.StatusOnline
	if err := f.repo.SavePresence(ctx, d); err != nil {
		t.Fatalf("SavePresence() error = %v", err)
	}

	sweep := NewLivenessSweep(f.cache, f.repo, f.sessions, f.rec, time.Minute)
	if forced := sweep.SweepOnce(ctx); !slices.Equal(forced, []int64{7}) {
		t.Fatalf("forced = %v, want [7]", forced)
	}
	if d := f.device(t, 7); d.Status != device.StatusOffline {
		t.Errorf("status = %q, want offline", d.Status)
	}
}

func TestLivenessSweep_SkipsWhenCacheDown(t *testing.T) {
	f := setup(t, device.Device{ID: 7}, device.Device{ID: 8})
	ctx := context.Background()

	dead := newFakeConn("c7")
	f.rec.Connect(ctx, dead, 7, device.Metrics{})
	dead.open.Store(false)
	d := f.device(t, 8)
	d.Status = device.StatusOnline
	if err := f.repo.SavePresence(ctx, d); err != nil {
		t.Fatalf("SavePresence() error = %v", err)
	}
	f.cache.pingErr = errors.New("connection refused")

	sweep := NewLivenessSweep(f.cache, f.repo, f.sessions, f.rec, time.Minute)
	if forced := sweep.SweepOnce(ctx); forced != nil {
		t.Errorf("forced = %v, want nil while cache is down", forced)
	}
	for _, id := range []int64{7, 8} {
		if d := f.device(t, id); d.Status != device.StatusOnline {
			t.Errorf("device %d status = %q, want online", id, d.Status)
		}
	}

	// The next cycle after recovery catches up.
	f.cache.pingErr = nil
	forced := sweep.SweepOnce(ctx)
	if !slices.Equal(forced, []int64{7, 8}) {
		t.Errorf("forced after recovery = %v, want [7 8]", forced)
	}
}

func TestSweep_RunStopsOnCancel(t *testing.T) {
	f := setup(t)
	sweep := NewHeartbeatSweep(f.cache, f.rec, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweep.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
