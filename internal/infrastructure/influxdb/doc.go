// Package influxdb writes time-series telemetry to InfluxDB v2.
//
// The service records one point per presence event (device id, status,
// treatment flag and usage counters) so uptime and usage can be charted
// outside the clinical database. The integration is optional and disabled
// by default.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
// Writes are batched per the batch_size and flush_interval settings and
// never block the caller.
package influxdb
