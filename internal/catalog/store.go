package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store persists a catalog between runs.
type Store interface {
	// Load returns the persisted catalog, ErrCacheNotFound when none was
	// saved yet, or an error wrapping ErrCache when it cannot be read.
	Load(ctx context.Context) ([]Sensor, error)
	// Save replaces the persisted catalog.
	Save(ctx context.Context, sensors []Sensor) error
}

// DefaultCachePath is the cache file name used by earlier deployments.
const DefaultCachePath = "stations-ceazamet"

const cacheFilePermissions = 0o644

// FileStore keeps the catalog as a JSON array in a single file.
//
// The record keys (e_lat, e_cod, s_cod, tf_nombre, ...) match the cache
// files written by earlier deployments so they stay loadable.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store. An empty path uses
// DefaultCachePath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultCachePath
	}
	return &FileStore{path: path}
}

// Path returns the cache file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the cache file.
func (s *FileStore) Load(_ context.Context) ([]Sensor, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCache, s.path, err)
	}

	var records []cacheRecord
	if err := json.Unmarshal(legacyNaN(data), &records); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCache, s.path, err)
	}

	sensors := make([]Sensor, 0, len(records))
	for _, r := range records {
		sensors = append(sensors, r.sensor())
	}
	return sensors, nil
}

// Save writes the catalog to a temporary file and renames it over the
// cache so readers never see a partial file.
func (s *FileStore) Save(_ context.Context, sensors []Sensor) error {
	records := make([]cacheRecord, 0, len(sensors))
	for _, sensor := range sensors {
		records = append(records, recordFrom(sensor))
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Chmod(tmpName, cacheFilePermissions); err != nil {
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// legacyNaN rewrites bare NaN values, which older writers emitted for
// missing numbers, to null so the file is valid JSON.
func legacyNaN(data []byte) []byte {
	if !bytes.Contains(data, []byte("NaN")) {
		return data
	}
	data = bytes.ReplaceAll(data, []byte(": NaN"), []byte(": null"))
	return bytes.ReplaceAll(data, []byte(":NaN"), []byte(":null"))
}

// cacheRecord is the on-disk form of a Sensor.
type cacheRecord struct {
	Lat        flexFloat  `json:"e_lat"`
	Lon        flexFloat  `json:"e_lon"`
	Altitude   flexFloat  `json:"e_altitud"`
	Station    flexString `json:"e_cod"`
	Name       flexString `json:"e_nombre"`
	Region     flexString `json:"e_cod_provincia"`
	SensorCode flexString `json:"s_cod"`
	Variable   flexString `json:"tf_nombre"`
	Unit       flexString `json:"um_notacion"`
	Height     flexString `json:"s_altura"`
	Category   flexString `json:"code"`
	Timezone   flexString `json:"timezone"`
}

func recordFrom(s Sensor) cacheRecord {
	return cacheRecord{
		Lat:        flexFloat(s.Latitude),
		Lon:        flexFloat(s.Longitude),
		Altitude:   flexFloat(s.Altitude),
		Station:    flexString(s.StationCode),
		Name:       flexString(s.StationName),
		Region:     flexString(s.Region),
		SensorCode: flexString(s.SensorCode),
		Variable:   flexString(s.Variable),
		Unit:       flexString(s.Unit),
		Height:     flexString(s.Height),
		Category:   flexString(s.Category),
		Timezone:   flexString(s.Timezone),
	}
}

func (r cacheRecord) sensor() Sensor {
	return Sensor{
		StationCode: string(r.Station),
		StationName: string(r.Name),
		Latitude:    float64(r.Lat),
		Longitude:   float64(r.Lon),
		Altitude:    float64(r.Altitude),
		Region:      string(r.Region),
		SensorCode:  string(r.SensorCode),
		Variable:    string(r.Variable),
		Unit:        string(r.Unit),
		Height:      string(r.Height),
		Category:    string(r.Category),
		Timezone:    string(r.Timezone),
	}
}

// flexString decodes a JSON string, number or null. Numbers keep their
// literal text, so 8 decodes as "8".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*f = flexString(n.String())
	}
	return nil
}

// flexFloat decodes a JSON number, numeric string or null (zero).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expected numeric string, got %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
