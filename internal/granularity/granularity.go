package granularity

import (
	"context"
	"slices"
	"strings"
)

// Granularity is a polling path.
type Granularity int

const (
	// Hourly polls the aggregated series and stamps readings with the
	// ingestion time.
	Hourly Granularity = iota
	// Minute polls the raw series and keeps each row's own timestamp.
	Minute
)

// String returns the lower-case path name used in logs and metrics.
func (g Granularity) String() string {
	switch g {
	case Minute:
		return "minute"
	case Hourly:
		return "hourly"
	default:
		return "unknown"
	}
}

// DefaultMinuteStations is the built-in minute allow-list.
var DefaultMinuteStations = []string{"8", "6", "PC", "MARPCH"}

// Classifier maps station codes to a granularity. It is read-only after
// construction and safe for concurrent use.
type Classifier struct {
	minute map[string]struct{}
}

// NewClassifier creates a classifier over the given minute allow-list.
// Codes are compared exactly after trimming surrounding space.
func NewClassifier(minuteStations []string) *Classifier {
	set := make(map[string]struct{}, len(minuteStations))
	for _, code := range minuteStations {
		if code = strings.TrimSpace(code); code != "" {
			set[code] = struct{}{}
		}
	}
	return &Classifier{minute: set}
}

// Classify returns Minute for allow-listed stations, Hourly otherwise.
func (c *Classifier) Classify(stationCode string) Granularity {
	if _, ok := c.minute[strings.TrimSpace(stationCode)]; ok {
		return Minute
	}
	return Hourly
}

// MinuteStations returns the allow-list, sorted.
func (c *Classifier) MinuteStations() []string {
	codes := make([]string, 0, len(c.minute))
	for code := range c.minute {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Logger is the logging interface used when resolving the allow-list.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Resolve builds a classifier from provider, falling back to fallback
// when the provider fails or returns nothing.
func Resolve(ctx context.Context, provider Provider, fallback []string, logger Logger) *Classifier {
	codes, err := provider.StationCodes(ctx)
	switch {
	case err != nil:
		if logger != nil {
			logger.Warn("minute allow-list unavailable, using default", "error", err)
		}
		codes = fallback
	case len(codes) == 0:
		if logger != nil {
			logger.Warn("minute allow-list empty, using default")
		}
		codes = fallback
	}

	c := NewClassifier(codes)
	if logger != nil {
		logger.Info("minute allow-list loaded", "stations", len(c.minute))
	}
	return c
}
