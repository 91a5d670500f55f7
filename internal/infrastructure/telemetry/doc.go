// Package telemetry exports bridge metrics and traces over OTLP/gRPC.
//
// InitProvider installs the global OpenTelemetry providers. Metrics wraps
// the instruments the bridge records: session lifecycle events (through
// Metrics.Observer), outbound publishes and inbound handler runs.
//
// # Configuration
//
//	telemetry:
//	  metrics_enabled: true
//	  traces_enabled: false
//	  endpoint: "localhost:4317"
//	  service_name: "iotbridge"
//	  export_interval: 10   # seconds
package telemetry
