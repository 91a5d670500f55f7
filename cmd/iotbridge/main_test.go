package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, run(ctx), "run() should fail with invalid config path")
}

// TestRun_MissingCredentials verifies TLS without a key pair is rejected.
func TestRun_MissingCredentials(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", writeConfig(t, `
mqtt:
  broker:
    hostname: "127.0.0.1"
    port: 8883
    tls: true
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, run(ctx), "run() should fail without cert_path and key_path")
}

// TestRun_UnreadableCredentials verifies a missing certificate fails startup.
func TestRun_UnreadableCredentials(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", writeConfig(t, `
mqtt:
  broker:
    hostname: "127.0.0.1"
    port: 8883
    tls: true
    cert_path: "/nonexistent/cert.pem"
    key_path: "/nonexistent/key.pem"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, run(ctx), "run() should fail when credentials cannot be read")
}

// TestRun_InvalidRoute verifies a route without a pattern fails startup.
func TestRun_InvalidRoute(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", writeConfig(t, `
mqtt:
  broker:
    hostname: "127.0.0.1"
    port: 1883
    tls: false
relay:
  routes:
    - pattern: ""
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Error(t, run(ctx), "run() should fail with an empty route pattern")
}

// TestRun_ShutdownWithoutBroker verifies run starts and stops cleanly while
// the broker is unreachable.
func TestRun_ShutdownWithoutBroker(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", writeConfig(t, `
mqtt:
  broker:
    hostname: "127.0.0.1"
    port: 1
    tls: false
  session:
    connect_timeout: 1
  reconnect:
    min_delay_ms: 10
    max_delay_ms: 50
relay:
  routes:
    - pattern: "dev/+/temp"
      forward_to: "mirror/{topic}"
    - pattern: "alerts/#"
logging:
  level: error
`))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		require.FailNow(t, "run() did not return after shutdown")
	}
}

// TestGetConfigPath verifies the environment override.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("IOTBRIDGE_CONFIG", "")
	assert.Equal(t, defaultConfigPath, getConfigPath())

	t.Setenv("IOTBRIDGE_CONFIG", "/etc/iotbridge.yaml")
	assert.Equal(t, "/etc/iotbridge.yaml", getConfigPath())
}
