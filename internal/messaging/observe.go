package messaging

import (
	"context"
	"time"
)

// Logger is the logging surface used by the client and server.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives dispatch and routing measurements. It is implemented
// by telemetry.Metrics and influxdb.Client.
type Recorder interface {
	RecordPublish(ctx context.Context, outcome string, d time.Duration)
	RecordReceived(ctx context.Context, qos byte, matched int)
	RecordHandler(ctx context.Context, pattern string, d time.Duration, err error)
}

// Publish outcomes passed to Recorder.RecordPublish.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

type noopRecorder struct{}

func (noopRecorder) RecordPublish(context.Context, string, time.Duration)        {}
func (noopRecorder) RecordReceived(context.Context, byte, int)                   {}
func (noopRecorder) RecordHandler(context.Context, string, time.Duration, error) {}

// multiRecorder fans measurements out to several recorders.
type multiRecorder []Recorder

// Recorders combines recorders. Nil entries are skipped.
func Recorders(rs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return noopRecorder{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func (m multiRecorder) RecordPublish(ctx context.Context, outcome string, d time.Duration) {
	for _, r := range m {
		r.RecordPublish(ctx, outcome, d)
	}
}

func (m multiRecorder) RecordReceived(ctx context.Context, qos byte, matched int) {
	for _, r := range m {
		r.RecordReceived(ctx, qos, matched)
	}
}

func (m multiRecorder) RecordHandler(ctx context.Context, pattern string, d time.Duration, err error) {
	for _, r := range m {
		r.RecordHandler(ctx, pattern, d, err)
	}
}
