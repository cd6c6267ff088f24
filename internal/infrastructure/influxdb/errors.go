package influxdb

import "errors"

var (
	// ErrNotConnected is returned by writes and health checks after Close
	// or before a successful ping.
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false, so
	// callers can skip telemetry without treating it as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
