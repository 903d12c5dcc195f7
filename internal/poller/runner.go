package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/cmet"
	"github.com/nerrad567/ceazamet-ingest/internal/granularity"
	"github.com/nerrad567/ceazamet-ingest/internal/normalize"
	"github.com/nerrad567/ceazamet-ingest/internal/sink"
)

// Request windows relative to the round's clock.
const (
	minuteLookback  = 50 * time.Minute
	minuteLookahead = 10 * time.Minute
	hourlyLookback  = 59 * time.Minute
)

// Fetcher is the subset of the CEAZA-Met client a round needs.
type Fetcher interface {
	Series(ctx context.Context, q cmet.SeriesQuery) ([]cmet.Row, error)
	RawSeries(ctx context.Context, q cmet.RawQuery) ([]cmet.Row, error)
}

// CatalogSource provides the catalog snapshot a round iterates.
type CatalogSource interface {
	Snapshot() catalog.Snapshot
}

// Classifier picks a polling path per station.
type Classifier interface {
	Classify(stationCode string) granularity.Granularity
}

// Logger is the logging interface used by the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds everything a round needs.
type Deps struct {
	Catalog    CatalogSource
	Classifier Classifier
	Fetcher    Fetcher
	Sink       sink.Sink
	// Location is the source zone of minute timestamps.
	Location *time.Location
	// Now defaults to time.Now.
	Now     func() time.Time
	Logger  Logger
	Metrics *Metrics
}

func (d *Deps) validate() error {
	switch {
	case d.Catalog == nil:
		return errors.New("poller: catalog source is required")
	case d.Classifier == nil:
		return errors.New("poller: classifier is required")
	case d.Fetcher == nil:
		return errors.New("poller: fetcher is required")
	case d.Sink == nil:
		return errors.New("poller: sink is required")
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	return nil
}

// Runner executes polling rounds. Rounds may run concurrently.
type Runner struct {
	deps Deps
}

// NewRunner validates deps and creates a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Runner{deps: deps}, nil
}

// Run polls every sensor of the current catalog once, sequentially.
// Cancelling ctx stops the round after the current sensor.
func (r *Runner) Run(ctx context.Context) RoundReport {
	snap := r.deps.Catalog.Snapshot()
	report := RoundReport{
		ID:          uuid.NewString(),
		Started:     r.deps.Now().UTC(),
		CatalogSize: len(snap.Sensors),
		Results:     make([]SensorResult, 0, len(snap.Sensors)),
	}

	for _, sensor := range snap.Sensors {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		res := r.pollSensor(ctx, sensor)
		r.deps.Metrics.observeSensor(res)
		report.add(res)
	}

	report.Finished = r.deps.Now().UTC()
	return report
}

// pollSensor is the per-sensor error boundary.
func (r *Runner) pollSensor(ctx context.Context, sensor catalog.Sensor) (res SensorResult) {
	res = SensorResult{
		StationCode: sensor.StationCode,
		SensorCode:  sensor.SensorCode,
	}
	defer func() {
		if p := recover(); p != nil {
			res.Stage = StagePanic
			res.Err = fmt.Errorf("panic polling %s: %v", sensor.Key(), p)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	g := r.deps.Classifier.Classify(sensor.StationCode)
	res.Granularity = g.String()

	var (
		readings []normalize.Reading
		dropped  []error
	)
	res.Stage = StageFetch
	switch g {
	case granularity.Minute:
		rows, err := r.fetchMinute(ctx, sensor)
		res.RowsFetched = len(rows)
		if err != nil {
			res.Err = err
			return res
		}
		res.Stage = StageNormalize
		readings, dropped = normalize.Minute(rows, r.deps.Location)
	default:
		rows, err := r.fetchHourly(ctx, sensor)
		res.RowsFetched = len(rows)
		if err != nil {
			res.Err = err
			return res
		}
		res.Stage = StageNormalize
		if len(rows) > 0 {
			var verr error
			readings, verr = normalize.Hourly(rows[0], r.deps.Now())
			if verr != nil {
				dropped = append(dropped, verr)
			}
		}
	}

	res.RowsDropped = len(dropped)
	for _, err := range dropped {
		r.deps.Logger.Debug("reading dropped",
			"station", sensor.StationCode,
			"sensor", sensor.SensorCode,
			"error", err,
		)
	}

	res.Stage = StageWrite
	if err := r.deps.Sink.Write(ctx, sensor, readings); err != nil {
		res.Err = err
		return res
	}
	res.ReadingsWritten = len(readings)
	res.Stage = StageDone
	return res
}

func (r *Runner) fetchMinute(ctx context.Context, sensor catalog.Sensor) ([]cmet.Row, error) {
	now := r.deps.Now()
	return r.deps.Fetcher.RawSeries(ctx, cmet.RawQuery{
		NodeID:     cmet.NodePrefix + sensor.StationCode,
		SensorCode: sensor.SensorCode,
		From:       now.Add(-minuteLookback),
		To:         now.Add(minuteLookahead),
	})
}

func (r *Runner) fetchHourly(ctx context.Context, sensor catalog.Sensor) ([]cmet.Row, error) {
	now := r.deps.Now()
	return r.deps.Fetcher.Series(ctx, cmet.SeriesQuery{
		SensorCode: sensor.SensorCode,
		From:       now.Add(-hourlyLookback),
		To:         now,
	})
}
