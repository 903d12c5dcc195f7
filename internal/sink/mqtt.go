package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ceazamet-ingest/internal/normalize"
)

// Publisher publishes JSON payloads (mqtt.Client).
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// ReadingMessage is the JSON payload of a mirrored reading.
type ReadingMessage struct {
	StationCode string    `json:"station_code"`
	SensorCode  string    `json:"sensor_code"`
	Category    string    `json:"category"`
	Variable    string    `json:"variable"`
	Unit        string    `json:"unit"`
	Time        time.Time `json:"time"`
	Min         float64   `json:"min"`
	Mean        float64   `json:"mean"`
	Max         float64   `json:"max"`
}

// MQTT mirrors readings to ceazamet/reading/{station}/{sensor}. The newest
// reading of each write is published retained, the rest are not.
type MQTT struct {
	publisher Publisher
	topics    mqtt.Topics
}

// NewMQTT creates an MQTT mirror sink.
func NewMQTT(publisher Publisher) *MQTT {
	return &MQTT{publisher: publisher}
}

// Write publishes one message per reading, stopping at the first failure.
func (s *MQTT) Write(ctx context.Context, sensor catalog.Sensor, readings []normalize.Reading) error {
	topic := s.topics.Reading(sensor.StationCode, sensor.SensorCode)
	newest := newestIndex(readings)
	for i, r := range readings {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: mqtt %s: %w", ErrWrite, sensor.Key(), err)
		}
		msg := ReadingMessage{
			StationCode: sensor.StationCode,
			SensorCode:  sensor.SensorCode,
			Category:    sensor.Category,
			Variable:    sensor.Variable,
			Unit:        sensor.Unit,
			Time:        r.Time.UTC().Truncate(time.Second),
			Min:         r.Min,
			Mean:        r.Mean,
			Max:         r.Max,
		}
		if err := s.publisher.PublishJSON(topic, msg, i == newest); err != nil {
			return fmt.Errorf("%w: mqtt %s: %w", ErrWrite, sensor.Key(), err)
		}
	}
	return nil
}

// newestIndex returns the index of the latest reading; on equal times the
// later one wins. -1 for an empty slice.
func newestIndex(readings []normalize.Reading) int {
	newest := -1
	for i, r := range readings {
		if newest < 0 || !r.Time.Before(readings[newest].Time) {
			newest = i
		}
	}
	return newest
}

// Name returns "mqtt".
func (s *MQTT) Name() string { return "mqtt" }
