package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/ceazamet-ingest/internal/api"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/influxdb"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/tsdb"
	"github.com/nerrad567/ceazamet-ingest/internal/sink"
)

// backends holds the connected write targets. Fields are nil when the
// backend is disabled.
type backends struct {
	influx *influxdb.Client
	tsdb   *tsdb.Client
	mqtt   *mqtt.Client
	sinks  sink.Multi
}

// openBackends connects every enabled backend. Any connection failure is
// fatal; the returned value is never nil so close can always be deferred.
func openBackends(ctx context.Context, cfg *config.Config, log *logging.Logger) (*backends, error) {
	b := &backends{}
	measurement := cfg.InfluxDB.Measurement

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return b, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		b.influx = client
		b.sinks = append(b.sinks, sink.NewInfluxDB(client, client.Measurement()))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "measurement", client.Measurement())
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.TSDB.Enabled {
		client, err := tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return b, fmt.Errorf("connecting to TSDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("TSDB write error", "error", err)
		})
		b.tsdb = client
		b.sinks = append(b.sinks, sink.NewTSDB(client, measurement))
		log.Info("TSDB connected", "url", cfg.TSDB.URL)
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return b, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		b.mqtt = client
		b.sinks = append(b.sinks, sink.NewMQTT(client))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	if len(b.sinks) == 0 {
		return b, fmt.Errorf("no sink enabled")
	}
	return b, nil
}

// sink returns the single enabled sink, or a fan-out over all of them.
func (b *backends) sink() sink.Sink {
	if len(b.sinks) == 1 {
		return b.sinks[0]
	}
	return b.sinks
}

// mqttRelay returns the MQTT client for the API reading relay, or nil.
func (b *backends) mqttRelay() api.MQTTClient {
	if b.mqtt == nil {
		return nil
	}
	return b.mqtt
}

// series returns the VictoriaMetrics client for API history queries, or nil.
func (b *backends) series() api.SeriesQuerier {
	if b.tsdb == nil {
		return nil
	}
	return b.tsdb
}

// checks returns the health probes of every connected backend.
func (b *backends) checks() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker, 3)
	if b.influx != nil {
		checks["influxdb"] = b.influx
	}
	if b.tsdb != nil {
		checks["tsdb"] = b.tsdb
	}
	if b.mqtt != nil {
		checks["mqtt"] = b.mqtt
	}
	return checks
}

// close shuts every connected backend down. The TSDB client flushes its
// pending batch first.
func (b *backends) close(log *logging.Logger) {
	if b.mqtt != nil {
		log.Info("disconnecting from MQTT")
		if err := b.mqtt.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}
	if b.tsdb != nil {
		log.Info("closing TSDB connection")
		if err := b.tsdb.Close(); err != nil {
			log.Error("error closing TSDB", "error", err)
		}
	}
	if b.influx != nil {
		log.Info("closing InfluxDB connection")
		if err := b.influx.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
}
