package presence

import (
	"strconv"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
)

// PointWriter queues a time-series point. Implemented by influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time)
}

// measurementPresence is the time-series measurement for presence events.
const measurementPresence = "device_presence"

// Telemetry records each presence event as a time-series point.
type Telemetry struct {
	writer PointWriter
}

// NewTelemetry creates a notifier writing to w.
func NewTelemetry(w PointWriter) *Telemetry {
	return &Telemetry{writer: w}
}

// Notify implements Notifier.
func (t *Telemetry) Notify(e Event) {
	tags := map[string]string{
		"device_id": strconv.FormatInt(e.DeviceID, 10),
		"kind":      string(e.Kind),
	}
	if e.Reason != "" {
		tags["reason"] = string(e.Reason)
	}
	t.writer.WritePoint(measurementPresence, tags, map[string]any{
		"online":           e.Status == device.StatusOnline,
		"treatment_status": int(e.TreatmentStatus),
		"usage_count":      e.UsageCount,
		"usage_minutes":    e.UsageMinutes,
	}, e.At)
}
