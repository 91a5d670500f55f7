//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Integration tests against a real broker.
// These tests require a running MQTT broker at 127.0.0.1:1883 without TLS.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Hostname:       "127.0.0.1",
			Port:           1883,
			TLS:            false,
			ClientIDPrefix: "iotbridge-int",
		},
		Session: config.MQTTSessionConfig{KeepAlive: 10, ConnectTimeout: 5},
	}
}

func startIntegrationSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	cfg := integrationConfig()

	dialer, err := NewPahoDialer(cfg)
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	opts = append(opts, WithObserver(EventConnectionSuccess, func(Event) {
		select {
		case connected <- struct{}{}:
		default:
		}
	}))

	s, err := NewSession(cfg, dialer, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		require.FailNow(t, "timed out waiting for broker connection")
	}
	return s
}

// TestIntegration_MessageRoundtrip verifies pub/sub works end-to-end with
// a wildcard filter.
func TestIntegration_MessageRoundtrip(t *testing.T) {
	received := make(chan Message, 1)
	sub := startIntegrationSession(t, WithMessageHandler(func(m Message) {
		select {
		case received <- m:
		default:
		}
	}))
	pub := startIntegrationSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sub.Subscribe(ctx, "iotbridge/int/+/roundtrip", QoSAtLeastOnce))

	msg := OutboundMessage{
		Topic:   "iotbridge/int/42/roundtrip",
		Payload: []byte(`{"value":12345}`),
		QoS:     QoSAtLeastOnce,
	}
	require.NoError(t, pub.Publish(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, msg.Topic, got.Topic)
		assert.Equal(t, string(msg.Payload), string(got.Payload))
		assert.True(t, got.PayloadPresent)
	case <-time.After(5 * time.Second):
		assert.Fail(t, "timeout waiting for message")
	}
}

// TestIntegration_StopIsClean verifies Stop disconnects from a live broker.
func TestIntegration_StopIsClean(t *testing.T) {
	s := startIntegrationSession(t)

	assert.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
}
