package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/normalize"
)

// ErrWrite wraps every backend failure.
var ErrWrite = errors.New("sink write failed")

// DefaultMeasurement is the measurement every point is written to.
const DefaultMeasurement = "ceazamet"

// Field names of a point.
const (
	FieldMin  = "min"
	FieldMean = "mean"
	FieldMax  = "max"
)

// Sink writes one sensor's readings. An empty readings slice is a no-op.
type Sink interface {
	Write(ctx context.Context, sensor catalog.Sensor, readings []normalize.Reading) error
	Name() string
}

// NewPoint builds the point for one reading. Empty tag values are left
// out; line protocol has no representation for them.
func NewPoint(measurement string, sensor catalog.Sensor, r normalize.Reading) *write.Point {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	tags := sensor.Tags()
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return write.NewPoint(
		measurement,
		tags,
		map[string]any{
			FieldMin:  r.Min,
			FieldMean: r.Mean,
			FieldMax:  r.Max,
		},
		r.Time.UTC().Truncate(time.Second),
	)
}

// Points builds one point per reading.
func Points(measurement string, sensor catalog.Sensor, readings []normalize.Reading) []*write.Point {
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, NewPoint(measurement, sensor, r))
	}
	return points
}

// Multi fans a write out to every backend. All backends are attempted;
// their errors are joined.
type Multi []Sink

// Write calls every backend in order.
func (m Multi) Write(ctx context.Context, sensor catalog.Sensor, readings []normalize.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, sensor, readings); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrWrite, errors.Join(errs...))
}

// Name lists the backends, e.g. "multi(influxdb,mqtt)".
func (m Multi) Name() string {
	name := "multi("
	for i, s := range m {
		if i > 0 {
			name += ","
		}
		name += s.Name()
	}
	return name + ")"
}
