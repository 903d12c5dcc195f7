package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

const (
	connectPingTimeout = 10 * time.Second
	healthPingTimeout  = 5 * time.Second
)

// Precision is the timestamp precision of every point written.
const Precision = time.Second

// Client writes readings to one InfluxDB bucket (or v1 database).
//
// Writes use the blocking API, so a failed request is reported to the
// caller of WritePoints. Safe for concurrent use.
type Client struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	open        atomic.Bool
}

// Connect pings the server and prepares the write API. The bucket or
// database must already exist.
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		client: influxdb2.NewClientWithOptions(cfg.URL, authToken(cfg),
			influxdb2.DefaultOptions().SetPrecision(Precision)),
		measurement: cfg.Measurement,
	}
	if err := c.ping(ctx, connectPingTimeout); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writeAPI = c.client.WriteAPIBlocking(cfg.Org, bucket(cfg))
	c.open.Store(true)
	return c, nil
}

// authToken returns the v2 token, or the v1 compatibility "username:password"
// form when no token is configured.
func authToken(cfg config.InfluxDBConfig) string {
	switch {
	case cfg.Token != "":
		return cfg.Token
	case cfg.Username == "" && cfg.Password == "":
		return ""
	default:
		return cfg.Username + ":" + cfg.Password
	}
}

// bucket returns the configured bucket, or the v1 compatibility
// "database/retention_policy" form.
func bucket(cfg config.InfluxDBConfig) string {
	switch {
	case cfg.Bucket != "":
		return cfg.Bucket
	case cfg.RetentionPolicy != "":
		return cfg.Database + "/" + cfg.RetentionPolicy
	default:
		return cfg.Database
	}
}

// ping asks the server whether it is ready, bounded by d.
func (c *Client) ping(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ok, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !ok:
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

// Measurement returns the measurement name points are written under.
func (c *Client) Measurement() string {
	return c.measurement
}

// Close releases the underlying HTTP client. Safe on a nil client and
// safe to call twice.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.ping(ctx, healthPingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not run.
// It does not touch the network; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}
