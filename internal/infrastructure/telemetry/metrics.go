package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// meterName identifies the bridge's instruments.
const meterName = "github.com/nerrad567/gray-logic-iot"

// Metrics holds OpenTelemetry instruments for the bridge.
type Metrics struct {
	// Session lifecycle
	connectAttempts metric.Int64Counter
	connectFailures metric.Int64Counter
	disconnections  metric.Int64Counter
	transportErrors metric.Int64Counter
	connected       metric.Int64UpDownCounter

	// Outbound
	published       metric.Int64Counter
	publishDuration metric.Float64Histogram

	// Inbound
	received        metric.Int64Counter
	handlerCalls    metric.Int64Counter
	handlerDuration metric.Float64Histogram
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var err error

	if m.connectAttempts, err = meter.Int64Counter(
		"iotbridge.connect.attempts",
		metric.WithDescription("Connection attempts to the broker"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connectAttempts counter: %w", err)
	}

	if m.connectFailures, err = meter.Int64Counter(
		"iotbridge.connect.failures",
		metric.WithDescription("Failed connection attempts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connectFailures counter: %w", err)
	}

	if m.disconnections, err = meter.Int64Counter(
		"iotbridge.disconnections",
		metric.WithDescription("Established connections that were lost"),
	); err != nil {
		return nil, fmt.Errorf("failed to create disconnections counter: %w", err)
	}

	if m.transportErrors, err = meter.Int64Counter(
		"iotbridge.transport.errors",
		metric.WithDescription("Transport errors that did not drop the connection"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transportErrors counter: %w", err)
	}

	if m.connected, err = meter.Int64UpDownCounter(
		"iotbridge.connected",
		metric.WithDescription("1 while the session holds a broker connection"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connected gauge: %w", err)
	}

	if m.published, err = meter.Int64Counter(
		"iotbridge.messages.published",
		metric.WithDescription("Outbound publishes by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create published counter: %w", err)
	}

	if m.publishDuration, err = meter.Float64Histogram(
		"iotbridge.publish.duration.ms",
		metric.WithDescription("Publish latency in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	if m.received, err = meter.Int64Counter(
		"iotbridge.messages.received",
		metric.WithDescription("Inbound messages by QoS"),
	); err != nil {
		return nil, fmt.Errorf("failed to create received counter: %w", err)
	}

	if m.handlerCalls, err = meter.Int64Counter(
		"iotbridge.handler.invocations",
		metric.WithDescription("Handler invocations by pattern and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handlerCalls counter: %w", err)
	}

	if m.handlerDuration, err = meter.Float64Histogram(
		"iotbridge.handler.duration.ms",
		metric.WithDescription("Handler run time in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handlerDuration histogram: %w", err)
	}

	return m, nil
}

// Observer returns a session observer that counts lifecycle events.
// Each observer tracks its own session in the connected gauge, so attach
// a separate one per session.
func (m *Metrics) Observer() mqtt.Observer {
	var up atomic.Bool
	return func(ev mqtt.Event) {
		ctx := context.Background()
		switch ev.Kind {
		case mqtt.EventAttemptingConnect:
			m.connectAttempts.Add(ctx, 1)
		case mqtt.EventConnectionSuccess:
			if !up.Swap(true) {
				m.connected.Add(ctx, 1)
			}
		case mqtt.EventConnectionFailure:
			refused := ev.ConnAck != nil
			m.connectFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.Bool("refused", refused),
			))
		case mqtt.EventDisconnection:
			m.markDown(ctx, &up)
			m.disconnections.Add(ctx, 1)
		case mqtt.EventError:
			m.transportErrors.Add(ctx, 1)
		case mqtt.EventStopped:
			m.markDown(ctx, &up)
		}
	}
}

func (m *Metrics) markDown(ctx context.Context, up *atomic.Bool) {
	if up.Swap(false) {
		m.connected.Add(ctx, -1)
	}
}

// RecordPublish records one outbound publish.
func (m *Metrics) RecordPublish(ctx context.Context, outcome string, d time.Duration) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.publishDuration.Record(ctx, float64(d)/float64(time.Millisecond))
}

// RecordReceived records one inbound message and how many registrations matched.
func (m *Metrics) RecordReceived(ctx context.Context, qos byte, matched int) {
	m.received.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("qos", int(qos)),
		attribute.Bool("matched", matched > 0),
	))
}

// RecordHandler records one handler invocation.
func (m *Metrics) RecordHandler(ctx context.Context, pattern string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("pattern", pattern),
		attribute.String("outcome", outcome),
	)
	m.handlerCalls.Add(ctx, 1, attrs)
	m.handlerDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}
