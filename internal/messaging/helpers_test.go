package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt/mqtttest"
)

const waitTimeout = 2 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTT.Broker.Hostname = "broker.test"
	cfg.MQTT.Broker.TLS = false
	cfg.Dispatch.PublishTimeout = 1
	return cfg
}

// fakeTransport counts factory calls and hands out a shared fake dialer.
type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	err    error
	dialer *mqtttest.Dialer
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialer: mqtttest.NewDialer()}
}

func (f *fakeTransport) factory(config.MQTTConfig) (mqtt.Dialer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.dialer, nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every log call.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("error", msg, args) }

// has reports whether a message was logged at level whose args contain
// the key/value pair.
func (l *recordingLogger) has(level, msg, key string, value any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level != level || e.msg != msg {
			continue
		}
		if key == "" {
			return true
		}
		for i := 0; i+1 < len(e.args); i += 2 {
			if e.args[i] == key && fmt.Sprint(e.args[i+1]) == fmt.Sprint(value) {
				return true
			}
		}
	}
	return false
}

// recordingRecorder counts measurements.
type recordingRecorder struct {
	mu       sync.Mutex
	publish  map[string]int
	received int
	handlers map[string]int
	failures int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{publish: map[string]int{}, handlers: map[string]int{}}
}

func (r *recordingRecorder) RecordPublish(_ context.Context, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish[outcome]++
}

func (r *recordingRecorder) RecordReceived(context.Context, byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
}

func (r *recordingRecorder) RecordHandler(_ context.Context, pattern string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[pattern]++
	if err != nil {
		r.failures++
	}
}

func (r *recordingRecorder) publishes(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publish[outcome]
}

func (r *recordingRecorder) handlerFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
