package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// ackTimeout bounds every publish, subscribe and unsubscribe token.
	ackTimeout = 5 * time.Second

	// quiesceMillis lets queued publishes drain on Disconnect.
	quiesceMillis = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2

	// willQoS is used for the last-will status message.
	willQoS = 1
)

// brokerURL renders tcp://host:port, or ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// newOptions maps the mqtt config section onto paho options, including
// the retained offline last-will on the status topic.
func newOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := statusPayload(cfg.Broker.ClientID, StateOffline, reasonConnectionLost)
	opts.SetBinaryWill(Topics{}.SystemStatus(), will, willQoS, true)
	return opts
}
