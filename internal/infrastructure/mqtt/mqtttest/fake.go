// Package mqtttest provides an in-memory mqtt.Dialer for tests.
//
// A Dialer hands out Conns that record every publish, subscribe and
// disconnect call. Tests drive broker-side behaviour through the Conn:
// Deliver injects an inbound message and Drop simulates a lost connection.
package mqtttest

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Subscription is one recorded subscribe call.
type Subscription struct {
	Filter string
	QoS    byte
}

// Dialer is a fake mqtt.Dialer.
type Dialer struct {
	mu        sync.Mutex
	failures  []error
	clientIDs []string
	conns     []*Conn
	dialed    chan *Conn

	// subscribeErr is copied to every new Conn.
	subscribeErr func(filter string) error
}

var _ mqtt.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer whose attempts succeed unless FailNext queued
// an error.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext makes the next len(errs) attempts fail with errs, in order.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// SetSubscribeError makes Subscribe on every future Conn return fn(filter).
func (d *Dialer) SetSubscribeError(fn func(filter string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribeErr = fn
}

// Dial records the attempt and returns a queued failure or a new Conn.
func (d *Dialer) Dial(ctx context.Context, clientID string, handlers mqtt.ConnHandlers) (mqtt.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.clientIDs = append(d.clientIDs, clientID)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}

	conn := &Conn{
		ClientID:     clientID,
		handlers:     handlers,
		subscribeErr: d.subscribeErr,
	}
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	select {
	case d.dialed <- conn:
	default:
	}
	return conn, nil
}

// ClientIDs returns the identifiers of every attempt so far.
func (d *Dialer) ClientIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clientIDs...)
}

// Attempts returns the number of Dial calls.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clientIDs)
}

// Conns returns every successful connection in dial order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// WaitConn waits for the next successful dial.
func (d *Dialer) WaitConn(timeout time.Duration) (*Conn, bool) {
	select {
	case c := <-d.dialed:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Conn is a fake mqtt.Conn.
type Conn struct {
	ClientID string

	mu            sync.Mutex
	handlers      mqtt.ConnHandlers
	published     []mqtt.OutboundMessage
	subscriptions []Subscription
	disconnects   int
	publishErr    error
	subscribeErr  func(filter string) error
	disconnectFn  func() error
}

var _ mqtt.Conn = (*Conn)(nil)

// Publish records msg, or returns the error set by SetPublishError.
func (c *Conn) Publish(ctx context.Context, msg mqtt.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

// Subscribe records the filter.
func (c *Conn) Subscribe(ctx context.Context, filter string, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		if err := c.subscribeErr(filter); err != nil {
			return err
		}
	}
	c.subscriptions = append(c.subscriptions, Subscription{Filter: filter, QoS: qos})
	return nil
}

// Disconnect counts the call and runs the function set by OnDisconnect.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	fn := c.disconnectFn
	c.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// SetPublishError makes every later Publish fail with err.
func (c *Conn) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// OnDisconnect replaces the Disconnect behaviour.
func (c *Conn) OnDisconnect(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectFn = fn
}

// Deliver hands msg to the session as if the broker sent it.
func (c *Conn) Deliver(msg mqtt.Message) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
}

// Drop simulates the broker dropping the connection.
func (c *Conn) Drop(err error) {
	if c.handlers.OnConnectionLost != nil {
		c.handlers.OnConnectionLost(err)
	}
}

// Published returns the recorded publishes.
func (c *Conn) Published() []mqtt.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mqtt.OutboundMessage(nil), c.published...)
}

// Subscriptions returns the recorded subscribes.
func (c *Conn) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Subscription(nil), c.subscriptions...)
}

// Disconnects returns how many times Disconnect was called.
func (c *Conn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}
