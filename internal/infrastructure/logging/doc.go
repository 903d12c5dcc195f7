// Package logging provides structured logging for ceazamet-ingest.
//
// It wraps log/slog with service defaults (service name, version) and
// selects a handler from configuration:
//
//   - json: machine-readable output for production
//   - text: slog's key=value output
//   - tint: colourised human output for terminals
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("round finished", "sensors", 42, "duration", d)
//
//	pollLog := log.With("component", "poller")
package logging
