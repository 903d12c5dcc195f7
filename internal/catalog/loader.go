package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/ceazamet-ingest/internal/cmet"
)

// Fetcher is the subset of the CEAZA-Met client discovery needs.
type Fetcher interface {
	Stations(ctx context.Context, q cmet.StationQuery) ([]cmet.Row, error)
	Sensors(ctx context.Context, network, stationCode string) ([]cmet.Row, error)
}

// Logger is the logging interface used by the loader.
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

// LoaderConfig holds the discovery parameters.
type LoaderConfig struct {
	// Network is the p_cod project code.
	Network string
	// Owner is the e_owner filter; empty lists every owner.
	Owner string
	// Timezone is assigned to every discovered sensor.
	Timezone string
}

// Loader builds the catalog from the cache store or by discovery.
type Loader struct {
	fetcher Fetcher
	store   Store
	cfg     LoaderConfig
	logger  Logger
}

// NewLoader creates a catalog loader.
//
// Parameters:
//   - fetcher: Remote metadata client
//   - store: Cache store the discovered catalog is persisted to
//   - cfg: Discovery parameters (empty Timezone means DefaultTimezone)
//   - logger: Logger instance (may be nil)
func NewLoader(fetcher Fetcher, store Store, cfg LoaderConfig, logger Logger) *Loader {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	return &Loader{fetcher: fetcher, store: store, cfg: cfg, logger: logger}
}

// Load returns the catalog.
//
// Without force, the cache is returned as-is and no remote call is made;
// a missing or unreadable cache is ErrCache. With force, discovery runs
// and overwrites the cache. A failed discovery leaves the cache untouched.
//
// Returns:
//   - []Sensor: The catalog, in discovery order
//   - error: ErrCache, ErrDiscovery, or a cache write failure
func (l *Loader) Load(ctx context.Context, force bool) ([]Sensor, error) {
	if !force {
		sensors, err := l.store.Load(ctx)
		switch {
		case err == nil:
			l.logger.Info("catalog loaded from cache", "sensors", len(sensors))
			return sensors, nil
		case errors.Is(err, ErrCacheNotFound):
			return nil, fmt.Errorf("%w (run with --reload to discover the catalog)", err)
		default:
			return nil, err
		}
	}

	sensors, err := l.Discover(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.store.Save(ctx, sensors); err != nil {
		return nil, fmt.Errorf("%w: saving discovered catalog: %w", ErrCache, err)
	}
	return sensors, nil
}

// Discover queries the remote service and builds a fresh catalog without
// touching the cache. Per-station failures are logged and skipped, but if
// every station fails the result is ErrDiscovery.
func (l *Loader) Discover(ctx context.Context) ([]Sensor, error) {
	rows, err := l.fetcher.Stations(ctx, cmet.StationQuery{Network: l.cfg.Network, Owner: l.cfg.Owner})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	stations := make([]Station, 0, len(rows))
	for _, row := range rows {
		st, err := stationFromRow(row)
		if err != nil {
			l.logger.Warn("skipping station", "station", row.Get("e_cod"), "error", err)
			continue
		}
		stations = append(stations, st)
	}
	stations = WithBaseline(stations)

	var (
		sensors []Sensor
		skipped int
	)
	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}

		found, err := l.stationSensors(ctx, st)
		if err != nil {
			skipped++
			l.logger.Warn("skipping station", "station", st.Code, "error", err)
			continue
		}
		sensors = append(sensors, found...)
	}

	if skipped == len(stations) {
		return nil, fmt.Errorf("%w: no sensor list from any of %d stations", ErrDiscovery, len(stations))
	}

	l.logger.Info("catalog discovery complete",
		"stations", len(stations),
		"stations_skipped", skipped,
		"sensors", len(sensors),
	)
	return sensors, nil
}

func (l *Loader) stationSensors(ctx context.Context, st Station) ([]Sensor, error) {
	rows, err := l.fetcher.Sensors(ctx, l.cfg.Network, st.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStationSensors, st.Code, err)
	}

	var sensors []Sensor
	for _, row := range rows {
		variable := row.Get("tf_nombre")
		category, ok := CategoryFor(variable)
		if !ok {
			continue
		}
		sensors = append(sensors, Sensor{
			StationCode: st.Code,
			StationName: st.Name,
			Latitude:    st.Latitude,
			Longitude:   st.Longitude,
			Altitude:    st.Altitude,
			Region:      st.Region,
			SensorCode:  row.Get("s_cod"),
			Variable:    variable,
			Unit:        row.Get("um_notacion"),
			Height:      row.Get("s_altura"),
			Category:    category,
			Timezone:    l.cfg.Timezone,
		})
	}
	return sensors, nil
}

// WithBaseline returns stations with the PTN baseline appended when no
// station already carries that code. The input slice is not modified.
func WithBaseline(stations []Station) []Station {
	for _, st := range stations {
		if st.Code == BaselineCode {
			return stations
		}
	}
	out := make([]Station, len(stations), len(stations)+1)
	copy(out, stations)
	return append(out, Station{
		Code:      BaselineCode,
		Name:      BaselineName,
		Latitude:  -30.0,
		Longitude: -70.0,
		Altitude:  0,
	})
}

func stationFromRow(row cmet.Row) (Station, error) {
	st := Station{
		Code:   row.Get("e_cod"),
		Name:   row.Get("e_nombre"),
		Region: row.Get("e_cod_provincia"),
	}
	if st.Code == "" {
		return Station{}, errors.New("station row without e_cod")
	}

	var err error
	if st.Latitude, err = parseOptionalFloat(row.Get("e_lat")); err != nil {
		return Station{}, fmt.Errorf("e_lat: %w", err)
	}
	if st.Longitude, err = parseOptionalFloat(row.Get("e_lon")); err != nil {
		return Station{}, fmt.Errorf("e_lon: %w", err)
	}
	if st.Altitude, err = parseOptionalFloat(row.Get("e_altitud")); err != nil {
		return Station{}, fmt.Errorf("e_altitud: %w", err)
	}
	return st, nil
}

// parseOptionalFloat treats blank values as zero.
func parseOptionalFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
