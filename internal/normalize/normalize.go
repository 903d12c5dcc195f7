package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/cmet"
)

// ErrValidation marks a row that cannot become a Reading.
var ErrValidation = errors.New("invalid reading")

// Reading is one validated min/mean/max sample.
type Reading struct {
	// SensorCode is the s_cod reported by the row, if any.
	SensorCode string
	// Time is always UTC.
	Time time.Time
	Min  float64
	Mean float64
	Max  float64
}

// Hourly validates one aggregated-series row and stamps it with now.
//
// Returns exactly one Reading on success, or none and an error wrapping
// ErrValidation.
func Hourly(row cmet.Row, now time.Time) ([]Reading, error) {
	r, err := values(row)
	if err != nil {
		return nil, err
	}
	r.Time = now.UTC().Truncate(time.Second)
	return []Reading{r}, nil
}

// Minute validates raw-series rows, converting each row's local datetime
// in loc to UTC. Failing rows are skipped; one error per skipped row is
// returned alongside the surviving readings, which keep input order.
func Minute(rows []cmet.Row, loc *time.Location) ([]Reading, []error) {
	var (
		readings []Reading
		errs     []error
	)
	for i, row := range rows {
		ts, err := ToUTC(row.Get("datetime"), loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		r, err := values(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		r.Time = ts
		readings = append(readings, r)
	}
	return readings, errs
}

// ToUTC parses a cmet.DateLayout timestamp in loc and returns it in UTC.
// During the autumn fall-back hour the earlier instant is chosen.
func ToUTC(local string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(cmet.DateLayout, strings.TrimSpace(local), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: datetime %q: %w", ErrValidation, local, err)
	}
	return t.UTC(), nil
}

func values(row cmet.Row) (Reading, error) {
	var (
		r   Reading
		err error
	)
	r.SensorCode = row.Get("s_cod")
	if r.Min, err = parseValue(row, "min"); err != nil {
		return Reading{}, err
	}
	if r.Mean, err = parseValue(row, "prom"); err != nil {
		return Reading{}, err
	}
	if r.Max, err = parseValue(row, "max"); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func parseValue(row cmet.Row, field string) (float64, error) {
	raw := row.Get(field)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is missing", ErrValidation, field)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrValidation, field, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not finite", ErrValidation, field, raw)
	}
	return v, nil
}
