package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the poller's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RoundsTotal       prometheus.Counter
	RoundDuration     prometheus.Histogram
	RoundsInFlight    prometheus.Gauge
	OverlappingRounds prometheus.Counter
	PointsWritten     *prometheus.CounterVec
	RowsDropped       *prometheus.CounterVec
	SensorFailures    *prometheus.CounterVec
	CatalogSensors    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceazamet_rounds_total",
			Help: "Total number of polling rounds completed",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ceazamet_round_duration_seconds",
			Help:    "Polling round duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
		}),
		RoundsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceazamet_rounds_in_flight",
			Help: "Number of polling rounds currently running",
		}),
		OverlappingRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceazamet_rounds_overlapping_total",
			Help: "Rounds started while another round was still running",
		}),
		PointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceazamet_points_written_total",
			Help: "Readings written to the sink",
		}, []string{"granularity"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceazamet_rows_dropped_total",
			Help: "Fetched rows dropped by validation",
		}, []string{"granularity"}),
		SensorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceazamet_sensor_failures_total",
			Help: "Sensors that failed within a round",
		}, []string{"stage"}),
		CatalogSensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceazamet_catalog_sensors",
			Help: "Number of sensors in the current catalog",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RoundsTotal,
			m.RoundDuration,
			m.RoundsInFlight,
			m.OverlappingRounds,
			m.PointsWritten,
			m.RowsDropped,
			m.SensorFailures,
			m.CatalogSensors,
		)
	}
	return m
}

func (m *Metrics) observeSensor(res SensorResult) {
	if m == nil {
		return
	}
	if res.ReadingsWritten > 0 {
		m.PointsWritten.WithLabelValues(res.Granularity).Add(float64(res.ReadingsWritten))
	}
	if res.RowsDropped > 0 {
		m.RowsDropped.WithLabelValues(res.Granularity).Add(float64(res.RowsDropped))
	}
	if res.Failed() {
		m.SensorFailures.WithLabelValues(string(res.Stage)).Inc()
	}
}

func (m *Metrics) observeRound(report RoundReport) {
	if m == nil {
		return
	}
	m.RoundsTotal.Inc()
	m.RoundDuration.Observe(report.Duration().Seconds())
	m.CatalogSensors.Set(float64(report.CatalogSize))
}

func (m *Metrics) roundStarted(overlapping bool) {
	if m == nil {
		return
	}
	m.RoundsInFlight.Inc()
	if overlapping {
		m.OverlappingRounds.Inc()
	}
}

func (m *Metrics) roundFinished() {
	if m == nil {
		return
	}
	m.RoundsInFlight.Dec()
}
