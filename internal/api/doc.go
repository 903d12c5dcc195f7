// Package api implements the operations HTTP API and live WebSocket feed
// for ceazamet-ingest.
//
// This package provides:
//   - Health, Prometheus metrics and catalog inspection endpoints
//   - A forced catalog rediscovery endpoint that swaps the catalog wholesale
//   - The last finished round report
//   - Sensor history and latest samples from VictoriaMetrics when the TSDB
//     sink is enabled
//   - A WebSocket hub broadcasting round reports and mirrored readings
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// The server never drives polling. main wires the scheduler's round hook to
// Server.RecordRound, which stores the report and broadcasts it. When MQTT is
// configured the server also subscribes to the reading mirror topics and
// relays each reading to WebSocket clients.
//
// # Graceful Degradation
//
// Every collaborator except the logger is optional. Endpoints whose backing
// dependency is missing answer 503.
package api
