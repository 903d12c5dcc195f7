package tsdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrDisabled is returned by Connect when tsdb.enabled is false.
	ErrDisabled = errors.New("tsdb: disabled in configuration")

	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrNotConnected is returned by writes after Close.
	ErrNotConnected = errors.New("tsdb: client closed")

	// ErrWriteFailed wraps flush failures delivered to SetOnError.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrQuery covers rejected query arguments and failed query requests.
	ErrQuery = errors.New("tsdb: query failed")
)
