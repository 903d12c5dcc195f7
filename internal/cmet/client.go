package cmet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service paths and request conventions.
const (
	DefaultBaseURL = "http://www.ceazamet.cl"
	DefaultUser    = "anon@nohost.com"

	popPath = "/ws/pop_ws.php"
	rawPath = "/ws/davis/get_datos_scod.php"

	// DateLayout is the fecha_inicio / fecha_fin format, in source local time.
	DateLayout = "2006-01-02 15:04:05"

	// NodePrefix turns a station code into a raw-series node_id.
	NodePrefix = "cmet_"

	// maxBodySize bounds a single response read.
	maxBodySize = 16 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	User    string
	// Location is the zone request dates are rendered in. Nil means UTC.
	Location *time.Location
	// Timeout bounds every request. Zero disables it.
	Timeout time.Duration
	// HTTPClient overrides the default transport; mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the CEAZA-Met web service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	user       string
	loc        *time.Location
	timeout    time.Duration
	httpClient *http.Client
}

// StationQuery selects the station list of one network.
type StationQuery struct {
	// Network is the p_cod project code, e.g. "ceazamet". Required.
	Network string
	// Owner is the optional e_owner filter.
	Owner string
}

// SeriesQuery selects an aggregated series window for one sensor.
type SeriesQuery struct {
	SensorCode string
	From, To   time.Time
	// Interval is the optional interv aggregation ("hora", "dia", "mes").
	Interval string
}

// RawQuery selects the raw per-minute series of one sensor on one node.
type RawQuery struct {
	// NodeID is the logger node, NodePrefix + station code.
	NodeID     string
	SensorCode string
	From, To   time.Time
}

// New creates a Client. Empty BaseURL and User fall back to the public
// defaults.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		user:       cfg.User,
		loc:        cfg.Location,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.user == "" {
		c.user = DefaultUser
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// Location returns the zone request dates are rendered in.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Stations fetches the station list (headered response).
//
// Returned rows carry at least e_lat, e_lon, e_altitud, e_cod, e_nombre
// and e_cod_provincia.
func (c *Client) Stations(ctx context.Context, q StationQuery) ([]Row, error) {
	if q.Network == "" {
		return nil, fmt.Errorf("%w: p_cod", ErrMissingParam)
	}
	params := url.Values{
		"fn":         {"GetListaEstaciones"},
		"p_cod":      {q.Network},
		"encabezado": {"1"},
	}
	if q.Owner != "" {
		params.Set("e_owner", q.Owner)
	}

	body, err := c.get(ctx, popPath, params)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Read-only body
	return parseHeadered(body)
}

// Sensors fetches the sensor list of one station (positional response,
// see SensorListColumns).
func (c *Client) Sensors(ctx context.Context, network, stationCode string) ([]Row, error) {
	if network == "" {
		return nil, fmt.Errorf("%w: p_cod", ErrMissingParam)
	}
	if stationCode == "" {
		return nil, fmt.Errorf("%w: e_cod", ErrMissingParam)
	}
	params := url.Values{
		"fn":         {"GetListaSensores"},
		"p_cod":      {network},
		"e_cod":      {stationCode},
		"encabezado": {"1"},
	}

	body, err := c.get(ctx, popPath, params)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Read-only body
	return parsePositional(body, SensorListColumns)
}

// Series fetches an aggregated series window (positional response, see
// AggregatedSeriesColumns).
func (c *Client) Series(ctx context.Context, q SeriesQuery) ([]Row, error) {
	if err := requireSeries(q.SensorCode, q.From, q.To); err != nil {
		return nil, err
	}
	params := url.Values{
		"fn":           {"GetSerieSensor"},
		"s_cod":        {q.SensorCode},
		"fecha_inicio": {c.FormatDate(q.From)},
		"fecha_fin":    {c.FormatDate(q.To)},
		"encabezado":   {"1"},
	}
	if q.Interval != "" {
		params.Set("interv", q.Interval)
	}

	body, err := c.get(ctx, popPath, params)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Read-only body
	return parsePositional(body, AggregatedSeriesColumns)
}

// RawSeries fetches the raw per-minute series of a sensor (positional
// response, '#' comment lines skipped, see RawSeriesColumns).
func (c *Client) RawSeries(ctx context.Context, q RawQuery) ([]Row, error) {
	if q.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id", ErrMissingParam)
	}
	if err := requireSeries(q.SensorCode, q.From, q.To); err != nil {
		return nil, err
	}
	params := url.Values{
		"fn":           {""},
		"node_id":      {q.NodeID},
		"s_cod":        {q.SensorCode},
		"fecha_inicio": {c.FormatDate(q.From)},
		"fecha_fin":    {c.FormatDate(q.To)},
	}

	body, err := c.get(ctx, rawPath, params)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Read-only body
	return parsePositional(body, RawSeriesColumns)
}

// Page fetches an arbitrary service page (e.g. the network status HTML).
func (c *Client) Page(ctx context.Context, path string) ([]byte, error) {
	body, err := c.get(ctx, path, url.Values{})
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Read-only body

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRemoteFetch, err)
	}
	return data, nil
}

// FormatDate renders t in the client's zone using DateLayout.
func (c *Client) FormatDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

func requireSeries(sensorCode string, from, to time.Time) error {
	switch {
	case sensorCode == "":
		return fmt.Errorf("%w: s_cod", ErrMissingParam)
	case from.IsZero():
		return fmt.Errorf("%w: fecha_inicio", ErrMissingParam)
	case to.IsZero():
		return fmt.Errorf("%w: fecha_fin", ErrMissingParam)
	}
	return nil
}

// get performs a GET and returns the body of a 200 response. The caller
// closes it. The request timeout covers the body read.
func (c *Client) get(ctx context.Context, path string, params url.Values) (io.ReadCloser, error) {
	params.Set("user", c.user)
	endpoint := c.baseURL + path + "?" + params.Encode()

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: creating request: %w", ErrRemoteFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteFetch, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // Best effort for error message
		resp.Body.Close()                                         //nolint:errcheck // Discarding body
		cancel()
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrRemoteFetch, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose releases the request context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
