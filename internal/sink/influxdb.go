package sink

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/normalize"
)

// PointWriter writes points synchronously (influxdb.Client).
type PointWriter interface {
	WritePoints(ctx context.Context, points ...*write.Point) error
}

// InfluxDB writes each sensor's readings in one blocking request.
type InfluxDB struct {
	writer      PointWriter
	measurement string
}

// NewInfluxDB creates an InfluxDB sink. An empty measurement uses
// DefaultMeasurement.
func NewInfluxDB(writer PointWriter, measurement string) *InfluxDB {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxDB{writer: writer, measurement: measurement}
}

// Write sends the readings as points.
func (s *InfluxDB) Write(ctx context.Context, sensor catalog.Sensor, readings []normalize.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := s.writer.WritePoints(ctx, Points(s.measurement, sensor, readings)...); err != nil {
		return fmt.Errorf("%w: influxdb %s: %w", ErrWrite, sensor.Key(), err)
	}
	return nil
}

// Name returns "influxdb".
func (s *InfluxDB) Name() string { return "influxdb" }
