package influxdb

import "errors"

// Errors returned by Connect and HealthCheck. Write failures are
// asynchronous and reach the SetOnError callback instead.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrUnhealthy        = errors.New("influxdb: server not healthy")

	// ErrDisabled is returned by Connect when telemetry is switched off.
	// cmd/cmdbroker never calls Connect in that case.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
