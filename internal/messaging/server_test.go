package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt/mqtttest"
)

func newTestServer(t *testing.T, reg *Registry, opts ...Option) (*Server, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	opts = append([]Option{WithDialerFactory(transport.factory)}, opts...)
	s, err := NewServer(testConfig(), reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s, transport
}

func subscribedFilters(conn *mqtttest.Conn) []string {
	var out []string
	for _, sub := range conn.Subscriptions() {
		out = append(out, sub.Filter)
	}
	return out
}

func TestNewServer_BadFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Router.DecodeFallback = "drop"

	_, err := NewServer(cfg, NewRegistry())
	assert.ErrorIs(t, err, codec.ErrUnknownFallback)
}

func TestServer_ListenSubscribesEnabledPatterns(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.HandleFunc("dev/+/temp", nopHandler))
	require.NoError(t, reg.HandleFunc("dev/#", nopHandler, Extras{Disabled: true}))
	require.NoError(t, reg.HandleFunc("alerts/#", nopHandler))

	log := &recordingLogger{}
	s, transport := newTestServer(t, reg, WithLogger(log))

	ready := 0
	require.NoError(t, s.Listen(context.Background(), func() { ready++ }))
	assert.Equal(t, 1, ready)

	conn, ok := transport.dialer.WaitConn(waitTimeout)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(conn.Subscriptions()) == 2
	}, waitTimeout, time.Millisecond)

	assert.ElementsMatch(t, []string{"dev/+/temp", "alerts/#"}, subscribedFilters(conn))
	for _, sub := range conn.Subscriptions() {
		assert.Equal(t, mqtt.QoSAtLeastOnce, sub.QoS)
	}
	assert.True(t, log.has("info", "subscription disabled", "pattern", "dev/#"))
	require.Eventually(t, func() bool {
		return log.has("info", "subscribed", "pattern", "alerts/#")
	}, waitTimeout, time.Millisecond)
}

func TestServer_DisabledPatternStillMatchesLocally(t *testing.T) {
	reg := NewRegistry()
	var enabled, disabled atomic.Int32
	require.NoError(t, reg.HandleFunc("dev/+/temp", func(context.Context, Envelope) error {
		enabled.Add(1)
		return nil
	}))
	require.NoError(t, reg.HandleFunc("dev/#", func(context.Context, Envelope) error {
		disabled.Add(1)
		return nil
	}, Extras{Disabled: true}))

	s, transport := newTestServer(t, reg)
	require.NoError(t, s.Listen(context.Background(), nil))
	conn, ok := transport.dialer.WaitConn(waitTimeout)
	require.True(t, ok)

	conn.Deliver(mqtt.Message{Topic: "dev/42/temp", Payload: []byte("21"), PayloadPresent: true, QoS: 1})

	assert.Equal(t, int32(1), enabled.Load())
	assert.Equal(t, int32(1), disabled.Load())
	assert.NotContains(t, subscribedFilters(conn), "dev/#")
}

func TestServer_SubscribeFailureDoesNotAbortStartup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.HandleFunc("forbidden/#", nopHandler))
	require.NoError(t, reg.HandleFunc("dev/+/temp", nopHandler))

	log := &recordingLogger{}
	s, transport := newTestServer(t, reg, WithLogger(log))
	transport.dialer.SetSubscribeError(func(filter string) error {
		if filter == "forbidden/#" {
			return mqtt.ErrSubscribeFailed
		}
		return nil
	})

	ready := false
	require.NoError(t, s.Listen(context.Background(), func() { ready = true }))
	assert.True(t, ready)

	conn, ok := transport.dialer.WaitConn(waitTimeout)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return log.has("error", "failed to subscribe", "pattern", "forbidden/#")
	}, waitTimeout, time.Millisecond)
	require.Eventually(t, func() bool {
		return len(conn.Subscriptions()) == 1
	}, waitTimeout, time.Millisecond)
	assert.Equal(t, []string{"dev/+/temp"}, subscribedFilters(conn))
}

func TestServer_ListenFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.HandleFunc("a/b", nopHandler))

	s, transport := newTestServer(t, reg)
	transport.err = errors.New("bad endpoint")

	called := false
	err := s.Listen(context.Background(), func() { called = true })

	assert.Error(t, err)
	assert.False(t, called)
	assert.Nil(t, s.Session())
	assert.NoError(t, s.Stop())
}

func TestServer_ListenFreezesRegistry(t *testing.T) {
	reg := NewRegistry()
	s, _ := newTestServer(t, reg)

	require.NoError(t, s.Listen(context.Background(), nil))

	assert.ErrorIs(t, reg.HandleFunc("late/topic", nopHandler), ErrRegistryFrozen)
}

func TestServer_ListenTwiceReusesSession(t *testing.T) {
	reg := NewRegistry()
	s, transport := newTestServer(t, reg)

	require.NoError(t, s.Listen(context.Background(), nil))
	first := s.Session()
	require.NoError(t, s.Listen(context.Background(), nil))

	assert.Same(t, first, s.Session())
	assert.Equal(t, 1, transport.Calls())
}

func TestServer_Stop(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.HandleFunc("a/b", nopHandler))
	s, transport := newTestServer(t, reg)

	require.NoError(t, s.Listen(context.Background(), nil))
	conn, ok := transport.dialer.WaitConn(waitTimeout)
	require.True(t, ok)

	require.NoError(t, s.Stop())
	assert.Equal(t, mqtt.StateStopped, s.Session().State())
	assert.Equal(t, 1, conn.Disconnects())
}
