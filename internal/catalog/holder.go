package catalog

import (
	"slices"
	"sync/atomic"
	"time"
)

// Snapshot is one published catalog.
type Snapshot struct {
	Sensors  []Sensor
	LoadedAt time.Time
}

// Holder publishes the current catalog to concurrent readers. Replacing
// it never affects a snapshot already taken.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder with an initial catalog.
func NewHolder(sensors []Sensor) *Holder {
	h := &Holder{}
	h.Replace(sensors)
	return h
}

// Replace swaps in a new catalog wholesale.
func (h *Holder) Replace(sensors []Sensor) {
	h.current.Store(&Snapshot{
		Sensors:  slices.Clone(sensors),
		LoadedAt: time.Now().UTC(),
	})
}

// Snapshot returns the current catalog. The returned slice is a private
// copy.
func (h *Holder) Snapshot() Snapshot {
	snap := h.current.Load()
	if snap == nil {
		return Snapshot{}
	}
	return Snapshot{Sensors: slices.Clone(snap.Sensors), LoadedAt: snap.LoadedAt}
}

// Len returns the number of sensors in the current catalog.
func (h *Holder) Len() int {
	snap := h.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.Sensors)
}
