package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/granularity"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ceazamet-ingest/internal/poller"
)

// ─── Flags ─────────────────────────────────────────────────────────

func TestParseFlags(t *testing.T) {
	t.Setenv("CEAZAMET_CONFIG", "")

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			want: options{configPath: defaultConfigPath},
		},
		{
			name: "all overrides",
			args: []string{"--config", "/etc/cmet.yaml", "--user", "ops@example.org", "--reload", "--time", "60"},
			want: options{configPath: "/etc/cmet.yaml", user: "ops@example.org", reload: true, interval: 60},
		},
		{
			name:    "negative interval",
			args:    []string{"--time", "-5"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"--verbose"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("parseFlags(-h) error = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "-reload") {
		t.Errorf("usage output missing -reload:\n%s", out.String())
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CEAZAMET_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CEAZAMET_CONFIG", "/srv/cmet.yaml")
	if got := getConfigPath(); got != "/srv/cmet.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestApplyOptions(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	if err := applyOptions(cfg, options{user: "ops@example.org", reload: true, interval: 30}); err != nil {
		t.Fatalf("applyOptions() error = %v", err)
	}
	if cfg.CEAZAMet.User != "ops@example.org" {
		t.Errorf("User = %q", cfg.CEAZAMet.User)
	}
	if !cfg.Catalog.ForceReload {
		t.Error("ForceReload = false, want true")
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval() = %v, want 30s", cfg.PollInterval())
	}

	// Zero options leave the configuration alone.
	before := *cfg
	if err := applyOptions(cfg, options{}); err != nil {
		t.Fatalf("applyOptions() error = %v", err)
	}
	if cfg.CEAZAMet.User != before.CEAZAMet.User || cfg.Poll.Interval != before.Poll.Interval {
		t.Error("zero options changed the configuration")
	}
}

// ─── Wiring helpers ────────────────────────────────────────────────

func TestAllowListProvider(t *testing.T) {
	static := allowListProvider(config.GranularityConfig{MinuteStations: []string{"PC"}}, nil)
	if _, ok := static.(granularity.Static); !ok {
		t.Errorf("provider = %T, want granularity.Static", static)
	}

	scraped := allowListProvider(config.GranularityConfig{
		NetworkStatus: config.NetworkStatusConfig{Enabled: true, Path: "/status", Prefix: "cmet_"},
	}, nil)
	ns, ok := scraped.(granularity.NetworkStatus)
	if !ok {
		t.Fatalf("provider = %T, want granularity.NetworkStatus", scraped)
	}
	if ns.Path != "/status" || ns.Prefix != "cmet_" {
		t.Errorf("provider = %+v", ns)
	}
}

func TestOpenCatalogStore(t *testing.T) {
	ctx := context.Background()
	sensors := []catalog.Sensor{{StationCode: "PC", SensorCode: "TA_PC", Variable: "Temperatura del Aire"}}

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog-"+driver)
			store, db, err := openCatalogStore(ctx, config.CacheConfig{Driver: driver, Path: path}, logging.Nop())
			if err != nil {
				t.Fatalf("openCatalogStore() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // test cleanup

			_, checked := healthChecks(&backends{}, db)["catalog_db"]
			if want := driver == "sqlite"; checked != want {
				t.Errorf("catalog_db health check present = %v, want %v", checked, want)
			}

			if err := store.Save(ctx, sensors); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(got) != 1 || got[0].Key() != "PC/TA_PC" {
				t.Errorf("Load() = %+v", got)
			}
		})
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	topic    string
	retained bool
	payload  any
	err      error
}

func (p *recordingPublisher) PublishJSON(topic string, v any, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic, p.payload, p.retained = topic, v, retained
	return p.err
}

func TestPublishRound(t *testing.T) {
	pub := &recordingPublisher{}
	publishRound(pub, logging.Nop())(poller.RoundReport{ID: "r1", Sensors: 4})

	if pub.topic != "ceazamet/system/round" {
		t.Errorf("topic = %q", pub.topic)
	}
	if !pub.retained {
		t.Error("round report should be retained")
	}
	if r, ok := pub.payload.(poller.RoundReport); !ok || r.ID != "r1" {
		t.Errorf("payload = %+v", pub.payload)
	}

	// A publish failure is logged, not propagated.
	pub.err = errors.New("not connected")
	publishRound(pub, logging.Nop())(poller.RoundReport{ID: "r2"})
}

// ─── run ───────────────────────────────────────────────────────────

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: path}); err == nil {
		t.Fatal("run() should fail with malformed config")
	}
}

func TestRun_DiscoveryFailureIsFatal(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer remote.Close()

	path := writeConfig(t, `
ceazamet:
  base_url: "`+remote.URL+`"
  timeout: 5
catalog:
  cache:
    path: "`+filepath.Join(t.TempDir(), "stations-ceazamet")+`"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: path, reload: true})
	if !errors.Is(err, catalog.ErrDiscovery) {
		t.Fatalf("run() error = %v, want ErrDiscovery", err)
	}
}

func TestRun_MissingCacheIsFatal(t *testing.T) {
	var calls atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	}))
	defer remote.Close()

	path := writeConfig(t, `
ceazamet:
  base_url: "`+remote.URL+`"
catalog:
  cache:
    path: "`+filepath.Join(t.TempDir(), "stations-ceazamet")+`"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: path})
	if !errors.Is(err, catalog.ErrCache) {
		t.Fatalf("run() error = %v, want ErrCache", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
}

// fakeVictoria accepts writes and records their bodies.
type fakeVictoria struct {
	mu     sync.Mutex
	writes []string
	wrote  chan struct{}
	once   sync.Once
}

func (f *fakeVictoria) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		w.WriteHeader(http.StatusOK)
	case "/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		f.once.Do(func() { close(f.wrote) })
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeVictoria) all() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func TestRun_PollsIntoTSDB(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("fn") == "GetListaEstaciones":
			_, _ = io.WriteString(w, "#e_lat,e_lon,e_altitud,e_ultima_lectura,e_cod,e_nombre,e_primera_lectura,e_cod_provincia\n"+
				"-29.91,-71.24,30,2024-01-15 10:00:00,PC,Punta de Choros,2004-01-01 00:00:00,41\n")
		case r.URL.Query().Get("fn") == "GetListaSensores":
			_, _ = io.WriteString(w, "#e_cod,s_cod,tf_nombre,um_notacion,s_altura\n"+
				"PC,TA_PC,Temperatura del Aire,C,2\n"+
				"PC,HR_PC,Humedad Relativa,%,2\n")
		case r.URL.Query().Get("fn") == "GetSerieSensor":
			_, _ = io.WriteString(w, "#s_cod,ultima_lectura,min,prom,max,data_pc\nTA_PC,2024-01-15 10:00:00,1.5,2.0,2.5,100\n")
		case r.URL.Path == "/ws/davis/get_datos_scod.php":
			_, _ = io.WriteString(w, "# s_cod,datetime,min,prom,max\nTA_PC,2024-01-15 10:00:00,1.0,1.5,2.0\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer remote.Close()

	vm := &fakeVictoria{wrote: make(chan struct{})}
	vmServer := httptest.NewServer(http.HandlerFunc(vm.handle))
	defer vmServer.Close()

	cachePath := filepath.Join(t.TempDir(), "stations-ceazamet")
	path := writeConfig(t, `
ceazamet:
  base_url: "`+remote.URL+`"
  timeout: 5
catalog:
  cache:
    path: "`+cachePath+`"
poll:
  interval: 3600
influxdb:
  enabled: false
tsdb:
  enabled: true
  url: "`+vmServer.URL+`"
  flush_interval: 1
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path, reload: true}) }()

	select {
	case <-vm.wrote:
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for the first TSDB write")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not stop after cancellation")
	}

	written := vm.all()
	if !strings.Contains(written, "station_code=PC") || !strings.Contains(written, "sensor_code=TA_PC") {
		t.Errorf("TSDB writes missing PC/TA_PC:\n%s", written)
	}
	if strings.Contains(written, "HR_PC") {
		t.Errorf("non-whitelisted sensor was polled:\n%s", written)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("catalog cache not written: %v", err)
	}
}
