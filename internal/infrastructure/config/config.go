package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Embedded zone database for hosts without /usr/share/zoneinfo

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ceazamet-ingest.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	CEAZAMet    CEAZAMetConfig    `yaml:"ceazamet"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Granularity GranularityConfig `yaml:"granularity"`
	Poll        PollConfig        `yaml:"poll"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	TSDB        TSDBConfig        `yaml:"tsdb"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CEAZAMetConfig contains settings for the remote CEAZA-Met web service.
type CEAZAMetConfig struct {
	BaseURL  string `yaml:"base_url"`
	User     string `yaml:"user"`
	Network  string `yaml:"network"`
	Owner    string `yaml:"owner"`
	Timezone string `yaml:"timezone"`
	// Timeout is the per-request timeout in seconds. 0 disables it.
	Timeout int `yaml:"timeout"`
}

// CatalogConfig contains station catalog discovery and cache settings.
type CatalogConfig struct {
	ForceReload bool        `yaml:"force_reload"`
	Cache       CacheConfig `yaml:"cache"`
}

// CacheConfig selects where the discovered catalog is persisted.
type CacheConfig struct {
	// Driver is "file" (JSON array) or "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// GranularityConfig contains the minute-path allow-list settings.
type GranularityConfig struct {
	MinuteStations []string            `yaml:"minute_stations"`
	NetworkStatus  NetworkStatusConfig `yaml:"network_status"`
}

// NetworkStatusConfig controls the optional HTML network-status allow-list source.
type NetworkStatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Prefix  string `yaml:"prefix"`
}

// PollConfig contains polling scheduler settings.
type PollConfig struct {
	// Interval is the time between round dispatches in seconds.
	Interval int `yaml:"interval"`
	// SingletonRounds skips a tick while the previous round is still running.
	SingletonRounds bool `yaml:"singleton_rounds"`
}

// InfluxDBConfig contains InfluxDB connection settings.
//
// Either Token/Org/Bucket (v2) or Username/Password/Database (v1
// compatibility endpoints) may be used.
type InfluxDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	RetentionPolicy string `yaml:"retention_policy"`
	Measurement     string `yaml:"measurement"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains MQTT broker settings for the reading mirror.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the operations HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the live round-report stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is not an error: the service is fully configurable from
// the environment, as earlier deployments were. Unreadable or malformed
// files are.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		CEAZAMet: CEAZAMetConfig{
			BaseURL:  "http://www.ceazamet.cl",
			User:     "anon@nohost.com",
			Network:  "ceazamet",
			Owner:    "ceaza",
			Timezone: "America/Santiago",
			Timeout:  60,
		},
		Catalog: CatalogConfig{
			Cache: CacheConfig{
				Driver: "file",
				Path:   "stations-ceazamet",
			},
		},
		Granularity: GranularityConfig{
			MinuteStations: []string{"8", "6", "PC", "MARPCH"},
			NetworkStatus: NetworkStatusConfig{
				Path:   "/ws/davis/estado_red_cmet.php",
				Prefix: "cmet_",
			},
		},
		Poll: PollConfig{
			Interval: 180,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:     true,
			URL:         "http://localhost:8086",
			Username:    "root",
			Password:    "root",
			Database:    "ceazamet",
			Measurement: "ceazamet",
		},
		TSDB: TSDBConfig{
			URL:           "http://localhost:8428",
			BatchSize:     1000,
			FlushInterval: 1,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ceazamet-ingest",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9180,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/api/v1/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Variable names match the ones used by earlier deployments of the poller.
func applyEnvOverrides(cfg *Config) error {
	// CEAZAMET_INFLUXDB_HOST and _PORT rebuild the URL together.
	host := os.Getenv("CEAZAMET_INFLUXDB_HOST")
	port := os.Getenv("CEAZAMET_INFLUXDB_PORT")
	if host != "" || port != "" {
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = "8086"
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid CEAZAMET_INFLUXDB_PORT %q: %w", port, err)
		}
		cfg.InfluxDB.URL = fmt.Sprintf("http://%s:%s", host, port)
	}
	if v := os.Getenv("CEAZAMET_INFLUXDB_USER"); v != "" {
		cfg.InfluxDB.Username = v
	}
	if v := os.Getenv("CEAZAMET_INFLUXDB_PASSWORD"); v != "" {
		cfg.InfluxDB.Password = v
	}
	if v := os.Getenv("CEAZAMET_INFLUXDB_DBNAME"); v != "" {
		cfg.InfluxDB.Database = v
	}
	if v := os.Getenv("CEAZAMET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CEAZAMET_USER"); v != "" {
		cfg.CEAZAMet.User = v
	}

	if v := os.Getenv("CEAZAMET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CEAZAMET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CEAZAMET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.CEAZAMet.BaseURL == "" {
		errs = append(errs, "ceazamet.base_url is required")
	}
	// The web service rejects anonymous requests.
	if strings.TrimSpace(c.CEAZAMet.User) == "" {
		errs = append(errs, "ceazamet.user is required (set CEAZAMET_USER environment variable)")
	}
	if c.CEAZAMet.Network == "" {
		errs = append(errs, "ceazamet.network is required")
	}
	if _, err := time.LoadLocation(c.CEAZAMet.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("ceazamet.timezone %q is not a valid IANA zone", c.CEAZAMet.Timezone))
	}
	if c.CEAZAMet.Timeout < 0 {
		errs = append(errs, "ceazamet.timeout must not be negative")
	}

	switch c.Catalog.Cache.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, "catalog.cache.driver must be \"file\" or \"sqlite\"")
	}
	if c.Catalog.Cache.Path == "" {
		errs = append(errs, "catalog.cache.path is required")
	}

	if c.Poll.Interval < 1 {
		errs = append(errs, "poll.interval must be at least 1 second")
	}

	if !c.InfluxDB.Enabled && !c.TSDB.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "at least one of influxdb, tsdb or mqtt must be enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Token == "" && c.InfluxDB.Database == "" {
			errs = append(errs, "influxdb.database is required when no token is set")
		}
		if c.InfluxDB.Token != "" && c.InfluxDB.Bucket == "" && c.InfluxDB.Database == "" {
			errs = append(errs, "influxdb.bucket is required when a token is set")
		}
		if c.InfluxDB.Measurement == "" {
			errs = append(errs, "influxdb.measurement is required")
		}
	}
	if c.TSDB.Enabled && c.TSDB.URL == "" {
		errs = append(errs, "tsdb.url is required")
	}
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be at least 1 second")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the round dispatch interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Second
}

// RequestTimeout returns the remote request timeout as a Duration.
// Zero means no timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.CEAZAMet.Timeout) * time.Second
}

// ReadTimeout returns the API read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
