package messaging

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// tracerName identifies spans created by this package.
const tracerName = "github.com/nerrad567/gray-logic-iot/internal/messaging"

// DialerFactory builds the transport for a new session.
type DialerFactory func(cfg config.MQTTConfig) (mqtt.Dialer, error)

// PahoDialerFactory is the production DialerFactory.
func PahoDialerFactory(cfg config.MQTTConfig) (mqtt.Dialer, error) {
	return mqtt.NewPahoDialer(cfg)
}

type options struct {
	logger         Logger
	recorder       Recorder
	tracerProvider trace.TracerProvider
	dialerFactory  DialerFactory
	sessionOpts    []mqtt.SessionOption
}

func (o *options) tracer() trace.Tracer {
	if o.tracerProvider == nil {
		return otel.Tracer(tracerName)
	}
	return o.tracerProvider.Tracer(tracerName)
}

// Option configures a Client or Server.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets where publish and routing measurements go.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithDialerFactory replaces the paho transport.
func WithDialerFactory(f DialerFactory) Option {
	return func(o *options) {
		if f != nil {
			o.dialerFactory = f
		}
	}
}

// WithSessionOptions passes options through to mqtt.NewSession.
func WithSessionOptions(opts ...mqtt.SessionOption) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:        noopLogger{},
		recorder:      noopRecorder{},
		dialerFactory: PahoDialerFactory,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
