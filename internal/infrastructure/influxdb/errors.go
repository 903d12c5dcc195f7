package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the startup ping failure.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by writes after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps a rejected or unreachable write.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
