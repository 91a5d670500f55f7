package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// DefaultKeepAlive is the keepalive interval when none is configured.
	DefaultKeepAlive = 60 * time.Second

	// defaultPort is the MQTT over TLS port used by AWS IoT and most brokers.
	defaultPort = 8883

	// defaultClientIDPrefix prefixes the per-attempt client identifier.
	defaultClientIDPrefix = "iotbridge"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// keepAlive returns the configured keepalive or the 60s default.
func keepAlive(cfg config.MQTTConfig) time.Duration {
	if cfg.Session.KeepAlive <= 0 {
		return DefaultKeepAlive
	}
	return time.Duration(cfg.Session.KeepAlive) * time.Second
}

// connectTimeout returns the configured per-attempt timeout or the default.
func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.Session.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(cfg.Session.ConnectTimeout) * time.Second
}

// clientIDPrefix returns the configured prefix or the default.
func clientIDPrefix(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientIDPrefix == "" {
		return defaultClientIDPrefix
	}
	return cfg.Broker.ClientIDPrefix
}

// BackoffFromConfig converts reconnect settings in milliseconds into a
// BackoffConfig. Zero values fall back to the defaults.
func BackoffFromConfig(cfg config.MQTTReconnectConfig) BackoffConfig {
	b := DefaultBackoffConfig()
	if cfg.MinDelayMS > 0 {
		b.MinDelay = time.Duration(cfg.MinDelayMS) * time.Millisecond
	}
	if cfg.MaxDelayMS > 0 {
		b.MaxDelay = time.Duration(cfg.MaxDelayMS) * time.Millisecond
	}
	if cfg.MinConnectedMS > 0 {
		b.MinConnectedToReset = time.Duration(cfg.MinConnectedMS) * time.Millisecond
	}
	return b
}

// brokerURL returns the paho broker URL for cfg.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	port := cfg.Broker.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Hostname, port)
}

// loadTLSConfig builds a mutual TLS configuration from the certificate and
// key paths. The optional CA bundle replaces the system roots.
func loadTLSConfig(cfg config.MQTTBrokerConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, fmt.Errorf("%w: cert_path and key_path are required for TLS", ErrInvalidConfig)
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading client certificate: %w", ErrInvalidConfig, err)
	}

	tlsConfig := &tls.Config{
		MinVersion:   tlsMinVersion,
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.Hostname,
	}

	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA bundle: %w", ErrInvalidConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidConfig, cfg.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// buildClientOptions creates paho MQTT options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - The per-attempt client identifier
//   - Persistent session (always rejoin the prior session)
//   - Keepalive and connect timeout
//   - Mutual TLS (if enabled)
//
// Paho's own reconnect logic is disabled; Session owns reconnection so it
// can apply full-jitter backoff and rotate the client identifier.
func buildClientOptions(cfg config.MQTTConfig, clientID string, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(clientID)

	// Always ask to rejoin. The identifier changes per attempt, so Session
	// still re-issues its subscriptions after every connect.
	opts.SetCleanSession(false)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(connectTimeout(cfg))
	opts.SetKeepAlive(keepAlive(cfg))

	// Deliver each message on its own goroutine so one slow handler does
	// not hold up the network loop.
	opts.SetOrderMatters(false)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
