// Package catalog discovers and caches the list of CEAZA-Met sensors the
// poller monitors.
//
// A catalog is a flat, ordered []Sensor: one entry per whitelisted sensor,
// each carrying a denormalised copy of its station's metadata. It is built
// once at startup, either from the cache store or by discovery against
// the remote service, and afterwards only ever replaced wholesale.
//
// Discovery:
//  1. Fetch the station list of the network (failure: ErrDiscovery)
//  2. Add the PTN baseline station when the service omits it
//  3. Fetch each station's sensors (failure: ErrStationSensors, station skipped)
//  4. Keep whitelisted variables, flatten, persist to the Store
//
// Two stores are provided: FileStore (JSON file compatible with the
// stations-ceazamet cache of earlier deployments) and SQLiteStore.
//
// Holder publishes the current catalog to concurrent readers.
package catalog
