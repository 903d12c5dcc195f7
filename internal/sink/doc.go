// Package sink persists normalised readings.
//
// Each Reading becomes one point in the ceazamet measurement: the sensor's
// full metadata as tags, min/mean/max as float fields, and the reading
// time at second precision. Points sharing tags and timestamp overwrite
// each other in the store, so re-polling an overlapping window is
// harmless.
//
// Backends:
//   - InfluxDB: blocking write through influxdb-client-go
//   - TSDB: VictoriaMetrics /write, batched and flushed in the background
//   - MQTT: JSON mirror of each reading on ceazamet/reading/{station}/{sensor}
//   - Multi: fan-out to several backends
//
// Every error returned by Write wraps ErrWrite.
package sink
