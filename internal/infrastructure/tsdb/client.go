package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	requestTimeout = 5 * time.Second

	defaultBatchSize     = 1000
	defaultFlushInterval = time.Second
)

// Client writes reading points to VictoriaMetrics and queries them back.
//
// Writes are buffered as line protocol and POSTed to /write when the
// buffer holds batch_size lines or every flush_interval, whichever comes
// first. Safe for concurrent use.
type Client struct {
	url  string
	http *http.Client

	closed atomic.Bool

	bufMu     sync.Mutex
	buf       bytes.Buffer
	lines     int
	batchSize int

	// flushMu keeps POSTs in order.
	flushMu sync.Mutex

	ticker *time.Ticker
	stop   chan struct{}
	loop   sync.WaitGroup

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect checks GET /health and starts the flush loop.
//
// Parameters:
//   - ctx: Bounds the health check (at most 10s)
//   - cfg: The tsdb config section
//
// Returns:
//   - *Client: Ready for WritePoints and queries
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	interval := time.Duration(cfg.FlushInterval) * time.Second
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	c := &Client{
		url:       strings.TrimRight(cfg.URL, "/"),
		http:      &http.Client{Timeout: requestTimeout},
		batchSize: batchSize,
		stop:      make(chan struct{}),
	}

	checkCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.HealthCheck(checkCtx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.url, err)
	}

	c.ticker = time.NewTicker(interval)
	c.loop.Add(1)
	go c.flushLoop()
	return c, nil
}

func (c *Client) flushLoop() {
	defer c.loop.Done()
	for {
		select {
		case <-c.ticker.C:
			c.Flush()
		case <-c.stop:
			return
		}
	}
}

// Close stops the flush loop and sends whatever is still buffered.
// Later writes fail with ErrNotConnected.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.ticker.Stop()
	close(c.stop)
	c.loop.Wait()
	c.Flush()
	return nil
}

// HealthCheck GETs /health and expects 200.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

// IsConnected is true between a successful Connect and Close.
func (c *Client) IsConnected() bool {
	return c != nil && c.http != nil && !c.closed.Load()
}

// SetOnError sets the receiver of flush failures. Flushes happen off the
// caller's goroutine, so this is the only place they surface.
func (c *Client) SetOnError(callback func(err error)) {
	c.errMu.Lock()
	c.onError = callback
	c.errMu.Unlock()
}

// enqueue buffers encoded lines, flushing once the batch is full.
func (c *Client) enqueue(lines []string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.bufMu.Lock()
	for _, l := range lines {
		if c.lines > 0 {
			c.buf.WriteByte('\n')
		}
		c.buf.WriteString(l)
		c.lines++
	}
	full := c.lines >= c.batchSize
	c.bufMu.Unlock()

	if full {
		c.Flush()
	}
	return nil
}

// Pending returns the number of buffered lines.
func (c *Client) Pending() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.lines
}

// Flush POSTs the buffered lines now. The timer and a full batch call it;
// tests and Close call it directly.
func (c *Client) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.bufMu.Lock()
	if c.lines == 0 {
		c.bufMu.Unlock()
		return
	}
	body := bytes.Clone(c.buf.Bytes())
	n := c.lines
	c.buf.Reset()
	c.lines = 0
	c.bufMu.Unlock()

	if err := c.post(body); err != nil {
		c.reportError(fmt.Errorf("%w: %d lines: %w", ErrWriteFailed, n, err))
	}
}

func (c *Client) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) reportError(err error) {
	c.errMu.RLock()
	callback := c.onError
	c.errMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// drain reads the rest of body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
