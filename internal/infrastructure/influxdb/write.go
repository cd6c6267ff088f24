package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. It is non-blocking and a no-op when the
// client is not connected.
//
// Parameters:
//   - measurement: The measurement name, e.g. "device_presence"
//   - tags: Indexed, low-cardinality values such as the device id
//   - fields: The recorded values
//   - at: Point timestamp; zero means now
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
