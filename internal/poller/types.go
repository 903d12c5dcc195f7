package poller

import (
	"time"
)

// Stage names the step a sensor stopped at.
type Stage string

// Sensor stages.
const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageWrite     Stage = "write"
	StagePanic     Stage = "panic"
	StageDone      Stage = "done"
)

// SensorResult is the outcome of polling one sensor in one round.
type SensorResult struct {
	StationCode string `json:"station_code"`
	SensorCode  string `json:"sensor_code"`
	Granularity string `json:"granularity"`
	// RowsFetched counts rows returned by the remote service.
	RowsFetched int `json:"rows_fetched"`
	// ReadingsWritten counts readings accepted by the sink.
	ReadingsWritten int `json:"readings_written"`
	// RowsDropped counts rows that failed validation.
	RowsDropped int   `json:"rows_dropped"`
	Stage       Stage `json:"stage"`
	// Err is set when the sensor failed at fetch, write or panic.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the sensor produced an error.
func (r SensorResult) Failed() bool {
	return r.Err != nil
}

// RoundReport summarises one polling round. CatalogSize is the catalog the
// round started from; Sensors counts the ones actually polled, which is
// fewer when the round was cancelled.
type RoundReport struct {
	ID              string         `json:"id"`
	Started         time.Time      `json:"started"`
	Finished        time.Time      `json:"finished"`
	CatalogSize     int            `json:"catalog_size"`
	Sensors         int            `json:"sensors"`
	Failed          int            `json:"failed"`
	RowsFetched     int            `json:"rows_fetched"`
	ReadingsWritten int            `json:"readings_written"`
	RowsDropped     int            `json:"rows_dropped"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	Results         []SensorResult `json:"results"`
}

// Duration returns how long the round took.
func (r RoundReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *RoundReport) add(res SensorResult) {
	r.Sensors++
	r.RowsFetched += res.RowsFetched
	r.ReadingsWritten += res.ReadingsWritten
	r.RowsDropped += res.RowsDropped
	if res.Failed() {
		r.Failed++
	}
	r.Results = append(r.Results, res)
}
