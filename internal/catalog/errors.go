package catalog

import (
	"errors"
	"fmt"
)

// Domain errors for catalog construction.
var (
	// ErrCache means the persisted catalog exists but cannot be read or decoded.
	ErrCache = errors.New("catalog cache unusable")

	// ErrCacheNotFound means no catalog has been persisted yet. It is an
	// ErrCache: only a forced load may start without a cache.
	ErrCacheNotFound = fmt.Errorf("%w: not found", ErrCache)

	// ErrDiscovery means the station list could not be fetched, or no
	// station yielded a sensor list.
	ErrDiscovery = errors.New("station discovery failed")

	// ErrStationSensors marks one station whose sensor list could not be
	// fetched or decoded. Discovery skips the station and continues.
	ErrStationSensors = errors.New("station sensor discovery failed")
)
