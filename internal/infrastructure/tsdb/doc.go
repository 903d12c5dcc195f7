// Package tsdb provides VictoriaMetrics connectivity for ceazamet-ingest.
//
// It mirrors reading points to VictoriaMetrics using InfluxDB line protocol
// over HTTP and reads them back using PromQL. Line encoding is shared with
// the influxdb package through the influxdb client's write.Point type.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Error("tsdb flush failed", "error", err) })
//	_ = client.WritePoints(points...)
//
//	sel := tsdb.FieldSelector("ceazamet", "mean", map[string]string{"station_code": "PC"})
//	raw, err := client.QueryRange(ctx, sel, start, end, 10*time.Minute)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched internally and flushed on size threshold or timer.
//
// # Error Handling
//
// Writes are non-blocking and flush errors are reported via a callback.
// Connection, health check and query errors are returned directly.
package tsdb
