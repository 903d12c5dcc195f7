package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxQueryResponse caps a query body at 10MB.
const maxQueryResponse = 10 << 20

// QueryRange runs a PromQL range query and returns the Prometheus API
// JSON untouched.
//
// Parameters:
//   - ctx: Cancels the request
//   - query: PromQL, usually built with FieldSelector
//   - start, end: Window; end must not precede start
//   - step: Resolution, must be positive
//
// Returns:
//   - json.RawMessage: The /api/v1/query_range body
//   - error: ErrNotConnected, or ErrQuery wrapping the cause
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (json.RawMessage, error) {
	switch {
	case strings.TrimSpace(query) == "":
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	case step <= 0:
		return nil, fmt.Errorf("%w: step %v is not positive", ErrQuery, step)
	case end.Before(start):
		return nil, fmt.Errorf("%w: end %s precedes start %s", ErrQuery,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	return c.query(ctx, "/api/v1/query_range", url.Values{
		"query": {query},
		"start": {unixSeconds(start)},
		"end":   {unixSeconds(end)},
		"step":  {strconv.FormatFloat(step.Seconds(), 'f', -1, 64)},
	})
}

// QueryInstant runs a PromQL instant query (latest sample per series).
func (c *Client) QueryInstant(ctx context.Context, query string) (json.RawMessage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	}
	return c.query(ctx, "/api/v1/query", url.Values{"query": {query}})
}

// FieldSelector builds the PromQL selector for one field of a line
// protocol measurement. VictoriaMetrics stores field f of measurement m as
// the metric "m_f" with tags as labels. Empty label values are left out.
//
//	FieldSelector("ceazamet", "mean", map[string]string{"station_code": "PC"})
//	// ceazamet_mean{station_code="PC"}
func FieldSelector(measurement, field string, labels map[string]string) string {
	name := measurement + "_" + field

	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return name
	}
	sort.Strings(keys)

	matchers := make([]string, len(keys))
	for i, k := range keys {
		matchers[i] = k + "=" + strconv.Quote(labels[k])
	}
	return name + "{" + strings.Join(matchers, ",") + "}"
}

func (c *Client) query(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQueryResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrQuery, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrQuery, path, resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

// unixSeconds renders t as fractional seconds since the epoch.
func unixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
}
