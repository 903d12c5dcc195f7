package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nerrad567/ceazamet-ingest/internal/catalog"
	"github.com/nerrad567/ceazamet-ingest/internal/cmet"
	"github.com/nerrad567/ceazamet-ingest/internal/granularity"
)

func newTestScheduler(t *testing.T, fetcher *mockFetcher, cfg SchedulerConfig, metrics *Metrics) *Scheduler {
	t.Helper()
	runner, err := NewRunner(Deps{
		Catalog:    catalog.NewHolder(testCatalog()[1:2]),
		Classifier: granularity.NewClassifier(nil),
		Fetcher:    fetcher,
		Sink:       newMemorySink(),
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	s, err := NewScheduler(runner, cfg)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("reading metric: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	t.Fatal("metric is neither counter nor gauge")
	return 0
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewScheduler(nil, SchedulerConfig{Interval: time.Second}); err == nil {
		t.Error("NewScheduler(nil runner) expected error")
	}
	runner, _ := NewRunner(Deps{
		Catalog:    catalog.NewHolder(nil),
		Classifier: granularity.NewClassifier(nil),
		Fetcher:    &mockFetcher{},
		Sink:       newMemorySink(),
	})
	if _, err := NewScheduler(runner, SchedulerConfig{}); err == nil {
		t.Error("NewScheduler(zero interval) expected error")
	}
}

func TestScheduler_FirstRoundImmediately(t *testing.T) {
	s := newTestScheduler(t, &mockFetcher{}, SchedulerConfig{Interval: time.Hour}, nil)

	rounds := make(chan RoundReport, 4)
	s.OnRound(func(r RoundReport) { rounds <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case r := <-rounds:
		if r.Sensors != 1 {
			t.Errorf("round sensors = %d, want 1", r.Sensors)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no round dispatched at start")
	}

	last, ok := s.LastRound()
	if !ok || last.ID == "" {
		t.Errorf("LastRound() = %+v, %v", last, ok)
	}
}

func TestScheduler_RoundsOverlapByDefault(t *testing.T) {
	fetcher := &mockFetcher{block: make(chan struct{})}
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newTestScheduler(t, fetcher, SchedulerConfig{Interval: 50 * time.Millisecond}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	overlapped := waitFor(t, 5*time.Second, func() bool { return s.InFlight() >= 2 })
	close(fetcher.block)
	if !overlapped {
		t.Fatal("second round never started while the first was blocked")
	}

	if got := counterValue(t, metrics.OverlappingRounds); got < 1 {
		t.Errorf("overlapping rounds counter = %v, want >= 1", got)
	}
}

func TestScheduler_SingletonSkipsOverlap(t *testing.T) {
	fetcher := &mockFetcher{block: make(chan struct{})}
	s := newTestScheduler(t, fetcher, SchedulerConfig{Interval: 50 * time.Millisecond, Singleton: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return s.InFlight() == 1 }) {
		close(fetcher.block)
		t.Fatal("first round never started")
	}
	time.Sleep(300 * time.Millisecond)
	got := s.InFlight()
	close(fetcher.block)
	if got != 1 {
		t.Errorf("InFlight() = %d in singleton mode, want 1", got)
	}
}

func TestScheduler_RunRoundOverlapAccounting(t *testing.T) {
	fetcher := &mockFetcher{block: make(chan struct{})}
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newTestScheduler(t, fetcher, SchedulerConfig{Interval: time.Hour}, metrics)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunRound(context.Background())
		}()
	}

	if !waitFor(t, 5*time.Second, func() bool { return s.InFlight() == 2 }) {
		close(fetcher.block)
		wg.Wait()
		t.Fatal("rounds did not run concurrently")
	}
	if got := counterValue(t, metrics.RoundsInFlight); got != 2 {
		t.Errorf("rounds in flight gauge = %v, want 2", got)
	}

	close(fetcher.block)
	wg.Wait()

	if s.InFlight() != 0 || counterValue(t, metrics.RoundsInFlight) != 0 {
		t.Error("in-flight accounting not released")
	}
	if got := counterValue(t, metrics.RoundsTotal); got != 2 {
		t.Errorf("rounds total = %v, want 2", got)
	}
	if got := counterValue(t, metrics.OverlappingRounds); got != 1 {
		t.Errorf("overlapping rounds = %v, want 1", got)
	}
}

func TestScheduler_MetricsAndHooks(t *testing.T) {
	fetcher := &mockFetcher{
		hourly: map[string][]cmet.Row{"TA_ZZ": {aggRow("TA_ZZ", "1", "2", "3")}},
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newTestScheduler(t, fetcher, SchedulerConfig{Interval: time.Hour}, metrics)

	var order []string
	s.OnRound(func(RoundReport) { order = append(order, "first") })
	s.OnRound(func(RoundReport) { order = append(order, "second") })
	s.OnRound(nil)

	s.RunRound(context.Background())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hook order = %v", order)
	}
	if got := counterValue(t, metrics.PointsWritten.WithLabelValues("hourly")); got != 1 {
		t.Errorf("points written = %v, want 1", got)
	}
	if got := counterValue(t, metrics.CatalogSensors); got != 1 {
		t.Errorf("catalog sensors = %v, want 1", got)
	}
}

func TestScheduler_CancelledRoundKeepsCatalogGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newTestScheduler(t, &mockFetcher{}, SchedulerConfig{Interval: time.Hour}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunRound(ctx)

	if got := counterValue(t, metrics.CatalogSensors); got != 1 {
		t.Errorf("catalog sensors = %v, want 1 after a cancelled round", got)
	}
}

func TestScheduler_HookPanicRecovered(t *testing.T) {
	s := newTestScheduler(t, &mockFetcher{}, SchedulerConfig{Interval: time.Hour}, nil)
	s.OnRound(func(RoundReport) { panic("hook failure") })

	s.RunRound(context.Background())

	if s.InFlight() != 0 {
		t.Error("in-flight count leaked after panic")
	}
	if _, ok := s.LastRound(); !ok {
		t.Error("round not recorded before hooks ran")
	}
}

func TestScheduler_FailureMetrics(t *testing.T) {
	fetcher := &mockFetcher{errs: map[string]error{"TA_ZZ": cmet.ErrRemoteFetch}}
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newTestScheduler(t, fetcher, SchedulerConfig{Interval: time.Hour}, metrics)

	s.RunRound(context.Background())

	if got := counterValue(t, metrics.SensorFailures.WithLabelValues("fetch")); got != 1 {
		t.Errorf("fetch failures = %v, want 1", got)
	}
}
