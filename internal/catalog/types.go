package catalog

import (
	"strconv"
	"strings"
)

// DefaultTimezone is assigned to every sensor; the whole network reports
// in Chilean local time.
const DefaultTimezone = "America/Santiago"

// Baseline station injected when the service omits it.
const (
	BaselineCode = "PTN"
	BaselineName = "Patron"
)

// Variables maps whitelisted sensor variable names to category codes.
// Sensors measuring anything else are not monitored.
var Variables = map[string]string{
	"Temperatura del Aire":      "sensor_ta",
	"Velocidad de Viento":       "sensor_vv",
	"Radiación Solar":           "sensor_rs",
	"Radiación Solar Difusa":    "sensor_rs_dif",
	"Radiación Solar Directa":   "sensor_rs_dir",
	"Radiación Solar Reflejada": "sensor_rs_ref",
	"Presión Atmosférica":       "sensor_pa",
}

// CategoryFor returns the category code of a whitelisted variable.
func CategoryFor(variable string) (string, bool) {
	code, ok := Variables[strings.TrimSpace(variable)]
	return code, ok
}

// Station is one monitoring station as reported by the station list.
type Station struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
	Altitude  float64
	// Region is the province code.
	Region string
}

// Sensor is one catalog entry: a whitelisted sensor flattened with its
// station's metadata. The pair (StationCode, SensorCode) is unique.
//
// Catalog entries are values and are never mutated once loaded.
type Sensor struct {
	StationCode string  `json:"station_code"`
	StationName string  `json:"station_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude"`
	Region      string  `json:"region"`
	SensorCode  string  `json:"sensor_code"`
	Variable    string  `json:"variable"`
	Unit        string  `json:"unit"`
	Height      string  `json:"height"`
	Category    string  `json:"category"`
	Timezone    string  `json:"timezone"`
}

// Key returns "station/sensor", unique within a catalog.
func (s Sensor) Key() string {
	return s.StationCode + "/" + s.SensorCode
}

// Tags returns the sensor metadata as string tags for time-series points.
func (s Sensor) Tags() map[string]string {
	return map[string]string{
		"station_code": s.StationCode,
		"station_name": s.StationName,
		"sensor_code":  s.SensorCode,
		"latitude":     formatFloat(s.Latitude),
		"longitude":    formatFloat(s.Longitude),
		"altitude":     formatFloat(s.Altitude),
		"region":       s.Region,
		"variable":     s.Variable,
		"unit":         s.Unit,
		"height":       s.Height,
		"timezone":     s.Timezone,
		"category":     s.Category,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
