package sink

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/normalize"
)

// BatchWriter queues points for a background flush (tsdb.Client).
type BatchWriter interface {
	WritePoints(points ...*write.Point) error
}

// TSDB queues readings for VictoriaMetrics. Flush failures are reported
// by the client's error callback, not by Write.
type TSDB struct {
	writer      BatchWriter
	measurement string
}

// NewTSDB creates a VictoriaMetrics sink.
func NewTSDB(writer BatchWriter, measurement string) *TSDB {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &TSDB{writer: writer, measurement: measurement}
}

// Write queues the readings.
func (s *TSDB) Write(ctx context.Context, sensor catalog.Sensor, readings []normalize.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: tsdb %s: %w", ErrWrite, sensor.Key(), err)
	}
	if err := s.writer.WritePoints(Points(s.measurement, sensor, readings)...); err != nil {
		return fmt.Errorf("%w: tsdb %s: %w", ErrWrite, sensor.Key(), err)
	}
	return nil
}

// Name returns "tsdb".
func (s *TSDB) Name() string { return "tsdb" }
