// IoT Bridge - MQTT transport service
//
// This is the main entry point for the IoT bridge. It keeps one broker
// session for outbound dispatch and one for inbound routing, and relays
// messages between topics according to the configured routes.
//
// Session lifecycle events and routing measurements are exported through
// OpenTelemetry and, when enabled, written to InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/telemetry"
	"github.com/nerrad567/gray-logic-iot/internal/messaging"
	"github.com/nerrad567/gray-logic-iot/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds telemetry and sink flushing on exit.
const shutdownTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting IoT bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Telemetry
	provider, err := telemetry.InitProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initialising telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := provider.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error shutting down telemetry", "error", shutdownErr)
		}
	}()

	metrics, err := telemetry.NewMetrics(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	// Event sink (optional)
	sink, err := connectSink(ctx, cfg.InfluxDB, log)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	if sink != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	recorder, observers := instrumentation(metrics, sink)
	clientLog := log.Component("dispatch")
	serverLog := log.Component("router")

	// Outbound
	client := messaging.NewClient(cfg,
		messaging.WithLogger(clientLog),
		messaging.WithRecorder(recorder),
		messaging.WithSessionOptions(observers()...),
	)
	defer func() {
		log.Info("closing MQTT dispatch session")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT dispatch session", "error", closeErr)
		}
	}()
	if _, err := client.Connect(); err != nil {
		return fmt.Errorf("connecting dispatch session: %w", err)
	}

	// Inbound
	registry := messaging.NewRegistry()
	if err := relay.Register(registry, cfg.Relay.Routes, client, log.Component("relay")); err != nil {
		return fmt.Errorf("registering relay routes: %w", err)
	}

	server, err := messaging.NewServer(cfg, registry,
		messaging.WithLogger(serverLog),
		messaging.WithRecorder(recorder),
		messaging.WithSessionOptions(observers()...),
	)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}
	defer func() {
		log.Info("closing MQTT routing session")
		if stopErr := server.Stop(); stopErr != nil {
			log.Error("error closing MQTT routing session", "error", stopErr)
		}
	}()

	ready := make(chan struct{})
	if err := server.Listen(ctx, func() { close(ready) }); err != nil {
		return fmt.Errorf("starting router: %w", err)
	}
	<-ready

	log.Info("initialisation complete, waiting for shutdown signal",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Hostname, cfg.MQTT.Broker.Port),
		"routes", registry.Len(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Routing session
	// 2. Dispatch session (waits for in-flight events)
	// 3. InfluxDB (if enabled)
	// 4. Telemetry exporters

	log.Info("IoT bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectSink connects the InfluxDB event sink. It returns a nil client
// when the sink is disabled.
func connectSink(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	sink, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sink.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return sink, nil
}

// instrumentation combines the metric and sink recorders. The returned
// func builds a fresh set of session observers; call it once per session.
func instrumentation(metrics *telemetry.Metrics, sink *influxdb.Client) (messaging.Recorder, func() []mqtt.SessionOption) {
	if sink == nil {
		return metrics, func() []mqtt.SessionOption {
			return []mqtt.SessionOption{mqtt.WithAnyObserver(metrics.Observer())}
		}
	}

	return messaging.Recorders(metrics, sink), func() []mqtt.SessionOption {
		return []mqtt.SessionOption{
			mqtt.WithAnyObserver(metrics.Observer()),
			mqtt.WithAnyObserver(sink.Observer()),
		}
	}
}
