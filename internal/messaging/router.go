package messaging

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Router defaults.
const (
	defaultWorkers        = 8
	defaultHandlerTimeout = 30 * time.Second
)

// Router delivers inbound messages to every matching registration.
//
// Every handler of every matching registration runs on a bounded worker
// pool with its own timeout and its own decoded copy of the message.
// A handler error or panic is logged and counted; it never stops the
// other handlers.
type Router struct {
	registry       *Registry
	fallback       codec.Fallback
	workers        int
	handlerTimeout time.Duration

	logger   Logger
	recorder Recorder
	tracer   trace.Tracer
}

func newRouter(registry *Registry, fallback codec.Fallback, workers int, timeout time.Duration, o *options) *Router {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &Router{
		registry:       registry,
		fallback:       fallback,
		workers:        workers,
		handlerTimeout: timeout,
		logger:         o.logger,
		recorder:       o.recorder,
		tracer:         o.tracer(),
	}
}

// HandleMessage routes msg with a background context. It is the Session's
// message handler.
func (r *Router) HandleMessage(msg mqtt.Message) {
	r.Route(context.Background(), msg)
}

// Route decodes msg and runs every matching handler. It returns when all
// of them have finished and reports how many handlers ran.
func (r *Router) Route(ctx context.Context, msg mqtt.Message) int {
	ctx, span := r.tracer.Start(ctx, "mqtt.route",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.mqtt.qos", int(msg.QoS)),
		),
	)
	defer span.End()

	matches := r.registry.Match(msg.Topic)
	r.recorder.RecordReceived(ctx, msg.QoS, len(matches))

	if len(matches) == 0 {
		r.logger.Debug("no handler for topic", "topic", msg.Topic)
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	count := 0
	for _, reg := range matches {
		for _, h := range reg.Handlers {
			count++
			pattern := reg.Pattern
			g.Go(func() error {
				// Each handler owns its envelope; handlers run concurrently
				// and may mutate the decoded value or the body.
				env := newEnvelope(msg, r.fallback)
				env.Pattern = pattern
				r.invoke(gctx, h, env)
				return nil
			})
		}
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("iotbridge.handlers", count))
	return count
}

// invoke runs one handler with a timeout, turning a panic into an error.
func (r *Router) invoke(ctx context.Context, h Handler, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "mqtt.handle",
		trace.WithAttributes(attribute.String("iotbridge.pattern", env.Pattern)),
	)
	defer span.End()

	start := time.Now()
	err := safeHandle(ctx, h, env)
	elapsed := time.Since(start)

	r.recorder.RecordHandler(ctx, env.Pattern, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("message handler failed",
			"pattern", env.Pattern,
			"topic", env.TopicName,
			"duration", elapsed,
			"error", err,
		)
	}
}

func safeHandle(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return h.Handle(ctx, env)
}
