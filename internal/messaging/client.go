package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Dispatch constants.
const (
	// maxPayloadSize is the largest encoded payload the client will send.
	maxPayloadSize = 1 << 20

	defaultPublishTimeout   = 5 * time.Second
	defaultFailureThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second

	// PublishedResponse is the Result.Response of a successful Publish.
	PublishedResponse = "Message published successfully"
)

// Result is the outcome passed to a Publish callback. Exactly one of
// Response and Err is set.
type Result struct {
	Response string
	Err      error
}

// Client publishes application values to the broker.
//
// The session is created by Connect and reused afterwards. Every publish
// goes out at QoS 1 (at least once) without the retain flag.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	session        *lazySession
	publishTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker

	logger   Logger
	recorder Recorder
	tracer   trace.Tracer

	// inflight tracks fire-and-forget publishes so Close can wait for them.
	// closed is set under mu before the wait, so no Add races it.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewClient creates a Client. It does not connect; call Connect.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	o := buildOptions(opts)

	timeout := cfg.GetPublishTimeout()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	c := &Client{
		session:        newLazySession(cfg.MQTT, o),
		publishTimeout: timeout,
		logger:         o.logger,
		recorder:       o.recorder,
		tracer:         o.tracer(),
	}

	if cb := cfg.Dispatch.CircuitBreaker; cb.Enabled {
		c.breaker = newBreaker(cb, o.logger)
	}

	return c
}

// newBreaker builds the publish circuit breaker. It opens after
// FailureThreshold consecutive failures and lets one trial request through after
// ResetTimeout.
func newBreaker(cfg config.CircuitBreakerConfig, logger Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	timeout := time.Duration(cfg.ResetTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Connect creates and starts the session. It returns as soon as the
// session is started; it does not wait for the broker to accept the
// connection. If a session already exists it is returned unchanged.
//
// A construction failure is logged and returned; the client then stays
// without a session and every publish fails with ErrNotConnected.
func (c *Client) Connect() (*mqtt.Session, error) {
	return c.session.ensure()
}

// Session returns the client's session, or nil before a successful Connect.
func (c *Client) Session() *mqtt.Session {
	return c.session.current()
}

// Close stops the session and waits for fire-and-forget publishes to
// settle. Teardown failures are logged and returned, never panicked.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.session.stop()
	c.inflight.Wait()
	return err
}

// DispatchEvent publishes value on topic without waiting for the broker.
//
// The returned error only covers what can be checked up front: a missing
// session, a closed client, an invalid topic or an unencodable value. The
// publish itself runs in the background; its failures are logged and
// recorded.
func (c *Client) DispatchEvent(ctx context.Context, topic string, value any) error {
	session := c.session.current()
	if session == nil {
		c.logger.Error("dispatch without session", "topic", topic)
		return ErrNotConnected
	}

	payload, err := c.encode(topic, value)
	if err != nil {
		return err
	}

	c.logger.Debug("dispatching event", "topic", topic, "bytes", len(payload))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mqtt.ErrStopped
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.inflight.Done()

		pubCtx, cancel := context.WithTimeout(bg, c.publishTimeout)
		defer cancel()

		if err := c.publish(pubCtx, session, topic, payload); err != nil {
			c.logger.Warn("event dispatch failed", "topic", topic, "error", err)
		}
	}()

	return nil
}

// Publish publishes value on topic and reports the outcome to callback.
//
// Without a session the callback receives ErrNotConnected immediately and
// nothing is sent. Otherwise Publish waits for the broker (bounded by the
// publish timeout) and calls callback with PublishedResponse or an error
// wrapping ErrPublishFailed. Publish never panics.
func (c *Client) Publish(ctx context.Context, topic string, value any, callback func(Result)) {
	if callback == nil {
		callback = func(Result) {}
	}

	session := c.session.current()
	if session == nil {
		c.logger.Error("publish without session", "topic", topic)
		callback(Result{Err: ErrNotConnected})
		return
	}

	payload, err := c.encode(topic, value)
	if err != nil {
		callback(Result{Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)})
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	if err := c.publish(pubCtx, session, topic, payload); err != nil {
		c.logger.Error("failed to publish message", "topic", topic, "error", err)
		callback(Result{Err: err})
		return
	}
	callback(Result{Response: PublishedResponse})
}

// encode validates the topic and serialises value.
func (c *Client) encode(topic string, value any) ([]byte, error) {
	if err := mqtt.ValidateTopic(topic); err != nil {
		return nil, err
	}

	payload, err := codec.Encode(value)
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return payload, nil
}

// publish sends payload through the breaker and records the outcome.
func (c *Client) publish(ctx context.Context, session *mqtt.Session, topic string, payload []byte) error {
	ctx, span := c.tracer.Start(ctx, "mqtt.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.Int("messaging.message.payload_size_bytes", len(payload)),
		),
	)
	defer span.End()

	msg := mqtt.OutboundMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     mqtt.QoSAtLeastOnce,
	}

	start := time.Now()
	err := c.execute(func() error { return safePublish(ctx, session, msg) })
	elapsed := time.Since(start)

	outcome := OutcomeOK
	switch {
	case errors.Is(err, ErrCircuitOpen):
		outcome = OutcomeCircuitOpen
	case err != nil:
		outcome = OutcomeError
		if !errors.Is(err, ErrPublishFailed) {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	}
	c.recorder.RecordPublish(ctx, outcome, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// execute runs fn through the circuit breaker when one is configured.
func (c *Client) execute(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func safePublish(ctx context.Context, session *mqtt.Session, msg mqtt.OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()
	return session.Publish(ctx, msg)
}
