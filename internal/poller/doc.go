// Package poller runs the periodic polling rounds.
//
// Each round snapshots the catalog and walks it sequentially. Per sensor:
//
//	classify → fetch → normalize → write
//
// Every step runs inside a per-sensor error boundary, panics included, so
// one bad sensor never stops the round. The outcome of each sensor is a
// SensorResult; the round returns a RoundReport and the Scheduler is the
// single place both are logged.
//
// The Scheduler dispatches a round every interval via gocron without
// waiting for the previous one. Overlap is permitted, logged and counted;
// singleton mode opts into skipping ticks while a round is in flight.
package poller
