// Package influxdb provides InfluxDB connectivity for ceazamet-ingest.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, blocking point writes, and health monitoring.
//
// # Authentication
//
// Both server generations are supported:
//   - v2: token, org and bucket
//   - v1 (1.8+ compatibility endpoints): username and password are sent as
//     the "username:password" token, and database[/retention_policy] is
//     used as the bucket
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	p := write.NewPoint(client.Measurement(), tags, fields, ts)
//	if err := client.WritePoints(ctx, p); err != nil {
//	    // attribute the failure to the sensor
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are synchronous; failures are returned wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
