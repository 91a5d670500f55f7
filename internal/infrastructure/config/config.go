package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the IoT bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Router    RouterConfig    `yaml:"router"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// MQTTConfig contains MQTT broker session settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Session   MQTTSessionConfig   `yaml:"session"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains the broker endpoint and credential paths.
//
// Certificate and key files are read by the transport; this configuration
// only carries their paths.
type MQTTBrokerConfig struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`

	// CAPath is an optional PEM bundle replacing the system roots.
	CAPath string `yaml:"ca_path,omitempty"`

	// ClientIDPrefix prefixes the client identifier generated for every
	// connection attempt. Default: "iotbridge"
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTSessionConfig contains per-connection settings.
type MQTTSessionConfig struct {
	// KeepAlive is the keepalive interval in seconds. Default: 60
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds one connection attempt, in seconds. Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTReconnectConfig contains reconnection backoff settings in milliseconds.
type MQTTReconnectConfig struct {
	MinDelayMS     int `yaml:"min_delay_ms"`
	MaxDelayMS     int `yaml:"max_delay_ms"`
	MinConnectedMS int `yaml:"min_connected_ms"`
}

// DispatchConfig contains outbound publish settings.
type DispatchConfig struct {
	// PublishTimeout bounds a callback-style publish, in seconds. Default: 5
	PublishTimeout int                  `yaml:"publish_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig contains publish circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open, in seconds.
	ResetTimeout int `yaml:"reset_timeout"`
}

// RouterConfig contains inbound routing settings.
type RouterConfig struct {
	// Workers limits concurrently running handlers per message. Default: 8
	Workers int `yaml:"workers"`

	// HandlerTimeout bounds one handler invocation, in seconds. Default: 30
	HandlerTimeout int `yaml:"handler_timeout"`

	// DecodeFallback is what a handler sees when the payload is not JSON:
	// "raw" (the text) or "absent". Default: "raw"
	DecodeFallback string `yaml:"decode_fallback"`
}

// RelayConfig contains the routes the bridge binary registers.
type RelayConfig struct {
	Routes []RelayRoute `yaml:"routes"`
}

// RelayRoute is one inbound pattern and what to do with matching messages.
type RelayRoute struct {
	Pattern string `yaml:"pattern"`

	// ForwardTo re-publishes the decoded payload to this topic. When empty
	// the route only logs the message.
	ForwardTo string `yaml:"forward_to,omitempty"`

	// Disabled keeps the route for local matching but skips the broker subscribe.
	Disabled bool `yaml:"disabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings for the event sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelemetryConfig contains OpenTelemetry export settings.
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracesEnabled  bool   `yaml:"traces_enabled"`
	Endpoint       string `yaml:"endpoint"`
	ServiceName    string `yaml:"service_name"`

	// ExportInterval is the metric export period in seconds. Default: 10
	ExportInterval int `yaml:"export_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY
// For example: IOTBRIDGE_MQTT_HOSTNAME, IOTBRIDGE_MQTT_CERT_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:           8883,
				TLS:            true,
				ClientIDPrefix: "iotbridge",
			},
			Session: MQTTSessionConfig{
				KeepAlive:      60,
				ConnectTimeout: 10,
			},
			Reconnect: MQTTReconnectConfig{
				MinDelayMS:     1000,
				MaxDelayMS:     120000,
				MinConnectedMS: 30000,
			},
		},
		Dispatch: DispatchConfig{
			PublishTimeout: 5,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				ResetTimeout:     30,
			},
		},
		Router: RouterConfig{
			Workers:        8,
			HandlerTimeout: 30,
			DecodeFallback: "raw",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "iotbridge",
			ExportInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("IOTBRIDGE_MQTT_HOSTNAME"); v != "" {
		cfg.MQTT.Broker.Hostname = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_CERT_PATH"); v != "" {
		cfg.MQTT.Broker.CertPath = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_KEY_PATH"); v != "" {
		cfg.MQTT.Broker.KeyPath = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_CA_PATH"); v != "" {
		cfg.MQTT.Broker.CAPath = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_KEEP_ALIVE"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Session.KeepAlive = seconds
		}
	}

	// Logging
	if v := os.Getenv("IOTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("IOTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Telemetry
	if v := os.Getenv("IOTBRIDGE_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.MQTT.Broker.Hostname == "" {
		errs = append(errs, "mqtt.broker.hostname is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.TLS {
		if c.MQTT.Broker.CertPath == "" {
			errs = append(errs, "mqtt.broker.cert_path is required when tls is enabled")
		}
		if c.MQTT.Broker.KeyPath == "" {
			errs = append(errs, "mqtt.broker.key_path is required when tls is enabled")
		}
	}

	// Session validation
	if c.MQTT.Session.KeepAlive < 0 {
		errs = append(errs, "mqtt.session.keep_alive cannot be negative")
	}

	// Reconnect validation
	r := c.MQTT.Reconnect
	if r.MinDelayMS < 0 || r.MaxDelayMS < 0 || r.MinConnectedMS < 0 {
		errs = append(errs, "mqtt.reconnect values cannot be negative")
	} else if r.MinDelayMS > 0 && r.MaxDelayMS > 0 && r.MaxDelayMS < r.MinDelayMS {
		errs = append(errs, "mqtt.reconnect.max_delay_ms must be >= min_delay_ms")
	}

	// Router validation
	switch strings.ToLower(c.Router.DecodeFallback) {
	case "", "raw", "absent":
	default:
		errs = append(errs, `router.decode_fallback must be "raw" or "absent"`)
	}
	if c.Router.Workers < 0 {
		errs = append(errs, "router.workers cannot be negative")
	}

	// Relay validation
	for i, route := range c.Relay.Routes {
		if route.Pattern == "" {
			errs = append(errs, fmt.Sprintf("relay.routes[%d].pattern is required", i))
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPublishTimeout returns the publish timeout as a Duration.
func (c *Config) GetPublishTimeout() time.Duration {
	return time.Duration(c.Dispatch.PublishTimeout) * time.Second
}

// GetHandlerTimeout returns the per-handler timeout as a Duration.
func (c *Config) GetHandlerTimeout() time.Duration {
	return time.Duration(c.Router.HandlerTimeout) * time.Second
}
