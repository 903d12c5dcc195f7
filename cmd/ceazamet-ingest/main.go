// ceazamet-ingest polls the CEAZA-Met weather station network and writes
// every sensor reading to InfluxDB, VictoriaMetrics and/or MQTT.
//
// On startup it loads (or discovers) the station catalog, then runs one
// polling round immediately and another every poll interval until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/ceazamet-ingest/migrations"

	"github.com/nerrad567/ceazamet-ingest/internal/api"
	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/cmet"
	"github.com/nerrad567/ceazamet-ingest/internal/granularity"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/database"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ceazamet-ingest/internal/poller"
	"github.com/nerrad567/ceazamet-ingest/internal/sink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command-line overrides. Zero values leave the
// configuration untouched.
type options struct {
	configPath string
	user       string
	reload     bool
	interval   int
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. The config path falls back to
// CEAZAMET_CONFIG, then to configs/config.yaml.
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ceazamet-ingest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML config file (env CEAZAMET_CONFIG)")
	fs.StringVar(&opts.user, "user", "", "CEAZA-Met web service user (overrides ceazamet.user)")
	fs.BoolVar(&opts.reload, "reload", false, "rediscover the station catalog instead of using the cache (required on first run, when no cache exists)")
	fs.IntVar(&opts.interval, "time", 0, "seconds between polling rounds (overrides poll.interval)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.interval < 0 {
		fmt.Fprintln(output, "-time must be positive")
		return options{}, fmt.Errorf("invalid -time %d", opts.interval)
	}
	return opts, nil
}

// applyOptions layers the command-line overrides on top of cfg.
func applyOptions(cfg *config.Config, opts options) error {
	if opts.user != "" {
		cfg.CEAZAMet.User = opts.user
	}
	if opts.reload {
		cfg.Catalog.ForceReload = true
	}
	if opts.interval > 0 {
		cfg.Poll.Interval = opts.interval
	}
	return cfg.Validate()
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line overrides
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting ceazamet-ingest",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := applyOptions(cfg, opts); err != nil {
		return fmt.Errorf("applying flags: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	loc, err := time.LoadLocation(cfg.CEAZAMet.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	client := cmet.New(cmet.Config{
		BaseURL:  cfg.CEAZAMet.BaseURL,
		User:     cfg.CEAZAMet.User,
		Location: loc,
		Timeout:  cfg.RequestTimeout(),
	})

	// Station catalog
	store, catalogDB, err := openCatalogStore(ctx, cfg.Catalog.Cache, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := catalogDB.Close(); closeErr != nil {
			log.Error("error closing catalog database", "error", closeErr)
		}
	}()

	loader := catalog.NewLoader(client, store, catalog.LoaderConfig{
		Network:  cfg.CEAZAMet.Network,
		Owner:    cfg.CEAZAMet.Owner,
		Timezone: cfg.CEAZAMet.Timezone,
	}, log.With("component", "catalog"))

	sensors, err := loader.Load(ctx, cfg.Catalog.ForceReload)
	if err != nil {
		return fmt.Errorf("loading station catalog: %w", err)
	}
	holder := catalog.NewHolder(sensors)
	log.Info("station catalog ready", "sensors", len(sensors), "forced", cfg.Catalog.ForceReload)

	// Minute allow-list
	classifier := granularity.Resolve(ctx, allowListProvider(cfg.Granularity, client),
		cfg.Granularity.MinuteStations, log.With("component", "granularity"))
	log.Info("granularity classifier ready", "minute_stations", classifier.MinuteStations())

	// Sinks
	backends, err := openBackends(ctx, cfg, log)
	defer backends.close(log)
	if err != nil {
		return err
	}

	// Poller
	registry := prometheus.NewRegistry()
	metrics := poller.NewMetrics(registry)
	metrics.CatalogSensors.Set(float64(len(sensors)))

	runner, err := poller.NewRunner(poller.Deps{
		Catalog:    holder,
		Classifier: classifier,
		Fetcher:    client,
		Sink:       backends.sink(),
		Location:   loc,
		Logger:     log.With("component", "poller"),
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	scheduler, err := poller.NewScheduler(runner, poller.SchedulerConfig{
		Interval:  cfg.PollInterval(),
		Singleton: cfg.Poll.SingletonRounds,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	if backends.mqtt != nil {
		scheduler.OnRound(publishRound(backends.mqtt, log))
	}

	// Ops API
	if cfg.API.Enabled {
		reload := func(ctx context.Context) (int, error) {
			fresh, err := loader.Load(ctx, true)
			if err != nil {
				return 0, err
			}
			holder.Replace(fresh)
			metrics.CatalogSensors.Set(float64(len(fresh)))
			return len(fresh), nil
		}

		srv, err := api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log.With("component", "api"),
			Catalog:     holder,
			Reload:      reload,
			Gatherer:    registry,
			MQTT:        backends.mqttRelay(),
			Series:      backends.series(),
			Measurement: cfg.InfluxDB.Measurement,
			Checks:      healthChecks(backends, catalogDB),
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		scheduler.OnRound(srv.RecordRound)
	}

	log.Info("initialisation complete, polling until shutdown signal",
		"interval", cfg.PollInterval().String(),
		"sink", backends.sink().Name(),
	)
	if err := scheduler.Run(ctx); err != nil {
		return fmt.Errorf("running scheduler: %w", err)
	}

	log.Info("ceazamet-ingest stopped")
	return nil
}

// getConfigPath returns the config file path from CEAZAMET_CONFIG or the
// default.
func getConfigPath() string {
	if path := os.Getenv("CEAZAMET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openCatalogStore opens the configured catalog cache. db is nil for the
// file cache; DB.Close is nil-safe.
func openCatalogStore(ctx context.Context, cfg config.CacheConfig, log *logging.Logger) (catalog.Store, *database.DB, error) {
	if cfg.Driver != "sqlite" {
		log.Info("catalog cache", "driver", "file", "path", cfg.Path)
		return catalog.NewFileStore(cfg.Path), nil, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("catalog cache", "driver", "sqlite", "path", db.Path())
	return catalog.NewSQLiteStore(db), db, nil
}

// allowListProvider returns the minute allow-list source.
func allowListProvider(cfg config.GranularityConfig, fetcher granularity.PageFetcher) granularity.Provider {
	if cfg.NetworkStatus.Enabled {
		return granularity.NetworkStatus{
			Fetcher: fetcher,
			Path:    cfg.NetworkStatus.Path,
			Prefix:  cfg.NetworkStatus.Prefix,
		}
	}
	return granularity.Static(cfg.MinuteStations)
}

// publishRound mirrors each round report to the system round topic.
func publishRound(pub sink.Publisher, log *logging.Logger) poller.RoundFunc {
	topic := mqtt.Topics{}.RoundReport()
	return func(report poller.RoundReport) {
		if err := pub.PublishJSON(topic, report, true); err != nil {
			log.Warn("publishing round report failed", "round_id", report.ID, "error", err)
		}
	}
}

// healthChecks adds the catalog database, when in use, to the backend probes.
func healthChecks(b *backends, db *database.DB) map[string]api.HealthChecker {
	checks := b.checks()
	if db != nil {
		checks["catalog_db"] = db
	}
	return checks
}
