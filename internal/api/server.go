package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ceazamet-ingest/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CatalogSource exposes the published station catalog.
type CatalogSource interface {
	Snapshot() catalog.Snapshot
}

// ReloadFunc forces a catalog rediscovery and publishes the result.
// It returns the number of sensors now in the catalog.
type ReloadFunc func(ctx context.Context) (int, error)

// MQTTClient is the subset of the MQTT client the reading relay needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// SeriesQuerier runs PromQL queries against the time-series store.
type SeriesQuerier interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (json.RawMessage, error)
	QueryInstant(ctx context.Context, query string) (json.RawMessage, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Catalog  CatalogSource
	Reload   ReloadFunc
	Gatherer prometheus.Gatherer
	MQTT     MQTTClient
	Series   SeriesQuerier
	// Measurement is the line protocol measurement the sinks write.
	Measurement string
	// Checks are probed by the health endpoint, keyed by component name.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the operations HTTP API.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	catalog     CatalogSource
	reload      ReloadFunc
	gatherer    prometheus.Gatherer
	mqtt        MQTTClient
	series      SeriesQuerier
	measurement string
	checks      map[string]HealthChecker
	version     string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	lastRound atomic.Pointer[poller.RoundReport]
	reloading sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required logger plus optional collaborators
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.Config.WebSocket,
		logger:      deps.Logger,
		catalog:     deps.Catalog,
		reload:      deps.Reload,
		gatherer:    deps.Gatherer,
		mqtt:        deps.MQTT,
		series:      deps.Series,
		measurement: deps.Measurement,
		checks:      deps.Checks,
		version:     deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the MQTT reading mirror for
// relay, and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and relay
//
// Returns:
//   - error: Reserved; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if err := s.subscribeReadings(); err != nil {
		s.logger.Warn("failed to subscribe to readings for WebSocket relay", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.mqtt != nil {
		if err := s.mqtt.Unsubscribe(mqtt.Topics{}.AllReadings()); err != nil {
			s.logger.Debug("reading relay unsubscribe failed", "error", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// RecordRound stores report as the last finished round and broadcasts it
// to WebSocket clients. It matches poller.RoundFunc.
func (s *Server) RecordRound(report poller.RoundReport) {
	s.lastRound.Store(&report)
	s.hub.Broadcast(WSTypeRound, "", report)
}

// LastRound returns the most recently recorded round.
func (s *Server) LastRound() (poller.RoundReport, bool) {
	r := s.lastRound.Load()
	if r == nil {
		return poller.RoundReport{}, false
	}
	return *r, true
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
