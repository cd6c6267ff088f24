package presence

import (
	"testing"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	at          time.Time
}

type mockWriter struct {
	points []point
}

func (m *mockWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	m.points = append(m.points, point{measurement, tags, fields, at})
}

func TestTelemetry_Notify(t *testing.T) {
	w := &mockWriter{}
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	NewTelemetry(w).Notify(Event{
		Kind:            EventOffline,
		DeviceID:        7,
		Status:          device.StatusOffline,
		TreatmentStatus: device.TreatmentIdle,
		UsageCount:      12,
		Reason:          ReasonHeartbeatTimeout,
		At:              at,
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.measurement != "device_presence" || !p.at.Equal(at) {
		t.Errorf("point = %+v", p)
	}
	if p.tags["device_id"] != "7" || p.tags["kind"] != "offline" || p.tags["reason"] != "heartbeat timeout" {
		t.Errorf("tags = %v", p.tags)
	}
	if p.fields["online"] != false || p.fields["usage_count"] != int64(12) {
		t.Errorf("fields = %v", p.fields)
	}
}
