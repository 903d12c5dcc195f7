package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/tsdb"
	"github.com/nerrad567/ceazamet-ingest/internal/sink"
)

// Series query limits.
const (
	defaultSeriesRange = 24 * time.Hour
	maxSeriesRange     = 31 * 24 * time.Hour
	defaultSeriesStep  = 10 * time.Minute
	maxSeriesPoints    = 11000
)

// handleSeries proxies a range query for one sensor field to the
// time-series store.
//
// Query parameters: field (min|mean|max, default mean), range and step as
// Go durations (defaults 24h and 10m).
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if s.series == nil {
		writeError(w, r, http.StatusServiceUnavailable, "series queries need the tsdb sink")
		return
	}
	query, ok := s.seriesSelector(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	span, err := durationParam(q.Get("range"), defaultSeriesRange)
	if err != nil || span > maxSeriesRange {
		writeError(w, r, http.StatusBadRequest, "range must be a positive duration up to 744h")
		return
	}
	step, err := durationParam(q.Get("step"), defaultSeriesStep)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "step must be a positive duration")
		return
	}
	if int64(span/step) > maxSeriesPoints {
		writeError(w, r, http.StatusBadRequest, "range/step yields too many points")
		return
	}

	end := time.Now().UTC()
	raw, err := s.series.QueryRange(r.Context(), query, end.Add(-span), end, step)
	s.writeQueryResult(w, r, query, raw, err)
}

// handleLatest returns the newest stored sample of one sensor field.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.series == nil {
		writeError(w, r, http.StatusServiceUnavailable, "series queries need the tsdb sink")
		return
	}
	query, ok := s.seriesSelector(w, r)
	if !ok {
		return
	}

	raw, err := s.series.QueryInstant(r.Context(), query)
	s.writeQueryResult(w, r, query, raw, err)
}

// seriesSelector builds the PromQL selector for the station, sensor and
// field in r. It answers 400 itself and returns false on a bad field.
func (s *Server) seriesSelector(w http.ResponseWriter, r *http.Request) (string, bool) {
	field := r.URL.Query().Get("field")
	if field == "" {
		field = sink.FieldMean
	}
	if field != sink.FieldMin && field != sink.FieldMean && field != sink.FieldMax {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown field %q", field))
		return "", false
	}

	measurement := s.measurement
	if measurement == "" {
		measurement = sink.DefaultMeasurement
	}
	return tsdb.FieldSelector(measurement, field, map[string]string{
		"station_code": chi.URLParam(r, "station"),
		"sensor_code":  chi.URLParam(r, "sensor"),
	}), true
}

// writeQueryResult passes the store's JSON through, or answers 502.
func (s *Server) writeQueryResult(w http.ResponseWriter, r *http.Request, query string, raw []byte, err error) {
	if err != nil {
		s.logger.Warn("series query failed", "query", query, "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, r, http.StatusBadGateway, "series query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(raw)
}

// durationParam parses v as a positive duration, returning def when empty.
func durationParam(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
