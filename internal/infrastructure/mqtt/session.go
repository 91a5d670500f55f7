package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// Session owns the link to the broker: it connects, reconnects with
// backoff, restores subscriptions and reports lifecycle events.
//
// A Session is started once and stopped once. Start returns as soon as the
// run loop is launched; "connected" is only observable through
// EventConnectionSuccess, IsConnected, or by a Publish/Subscribe call that
// waits for the connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Observers are called from the run loop, in registration order.
type Session struct {
	cfg        config.MQTTConfig
	dialer     Dialer
	backoff    backoff.BackOff
	resetAfter time.Duration
	onMessage  func(Message)

	newClientID func() string
	now         func() time.Time

	state     stateManager
	observers observers

	// mu guards the live connection and the ready/stopped channels.
	mu       sync.Mutex
	conn     Conn
	clientID string
	ready    chan struct{} // closed while a connection is up
	stopped  chan struct{} // closed by Stop

	// subscriptions tracks filters for re-subscription on reconnect.
	subscriptions map[string]*subscription
	subOrder      []string
	subMu         sync.Mutex

	stopOnce sync.Once
	stopDone chan struct{} // closed once teardown and its events are done
	stopErr  error         // guarded by mu
	cancel   context.CancelFunc
	done     chan struct{}

	// notifying counts observer calls in progress. Stop does not wait
	// while it is non-zero, so an observer can stop its own session.
	notifying atomic.Int32
}

// subscription holds the details needed to re-issue a subscribe.
type subscription struct {
	qos byte

	// restore is false while the first subscribe call for the filter is
	// still in flight; that call issues it itself.
	restore bool

	// conn is the connection the filter was last subscribed on.
	conn Conn
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMessageHandler sets the callback for inbound messages.
func WithMessageHandler(fn func(Message)) SessionOption {
	return func(s *Session) { s.onMessage = fn }
}

// WithBackOff replaces the full-jitter reconnect policy. Returning
// backoff.Stop from the policy ends the session.
func WithBackOff(b backoff.BackOff) SessionOption {
	return func(s *Session) { s.backoff = b }
}

// WithClientIDGenerator replaces the per-attempt client identifier source.
func WithClientIDGenerator(fn func() string) SessionOption {
	return func(s *Session) { s.newClientID = fn }
}

// WithClock replaces the time source used to measure connection uptime.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithObserver registers an observer for one event kind.
func WithObserver(kind EventKind, fn Observer) SessionOption {
	return func(s *Session) { s.observers.add(kind, fn) }
}

// WithAnyObserver registers fn for every event kind before the session
// can raise its first event.
func WithAnyObserver(fn Observer) SessionOption {
	return func(s *Session) { s.observers.addAll(fn) }
}

// NewSession builds a Session. It does not connect; call Start.
//
// Returns:
//   - *Session: Session in the Disconnected state
//   - error: ErrInvalidConfig if the dialer or backoff settings are unusable
func NewSession(cfg config.MQTTConfig, dialer Dialer, opts ...SessionOption) (*Session, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}

	backoffCfg := BackoffFromConfig(cfg.Reconnect)
	if err := backoffCfg.Validate(); err != nil {
		return nil, err
	}

	prefix := clientIDPrefix(cfg)
	s := &Session{
		cfg:        cfg,
		dialer:     dialer,
		backoff:    NewFullJitterBackoff(backoffCfg),
		resetAfter: backoffCfg.MinConnectedToReset,
		newClientID: func() string {
			return prefix + "-" + uuid.NewString()
		},
		now:           time.Now,
		ready:         make(chan struct{}),
		stopped:       make(chan struct{}),
		subscriptions: make(map[string]*subscription),
		stopDone:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// On registers an observer for one event kind.
func (s *Session) On(kind EventKind, fn Observer) {
	s.observers.add(kind, fn)
}

// OnAny registers an observer for every event kind. Catch-all observers
// run after the kind-specific ones.
func (s *Session) OnAny(fn Observer) {
	s.observers.addAll(fn)
}

// Start launches the connection loop and returns immediately.
// Calling Start more than once has no effect.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.isStopped() {
		return ErrStopped
	}
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state.transition(StateDisconnected, StateConnecting)
	go s.run(ctx)
	return nil
}

// Stop terminates the session. It disconnects the live connection, wakes
// blocked Publish/Subscribe calls with ErrStopped, and waits for the run
// loop to exit. In-flight message handlers are not waited for.
//
// Teardown failures are returned and reported as EventError; Stop never
// panics. Subsequent calls return the first result.
//
// Called from an observer, Stop tears the session down but returns without
// waiting: the run loop (or the Stop that raised the event) is still inside
// that observer call and finishes once it returns. The check is session
// wide, so any Stop made while an observer is running skips the wait.
func (s *Session) Stop() error {
	s.shutdown()

	if s.notifying.Load() > 0 {
		return s.stopResult()
	}

	<-s.stopDone
	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return s.stopResult()
}

func (s *Session) stopResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// shutdown performs the one-time transition to Stopped. Observers are
// called outside the once so that they may call Stop themselves.
func (s *Session) shutdown() {
	var (
		first    bool
		conn     Conn
		clientID string
	)
	s.stopOnce.Do(func() {
		first = true
		s.state.set(StateStopped)

		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		conn = s.conn
		clientID = s.clientID
		s.conn = nil
		close(s.stopped)
		s.mu.Unlock()
	})
	if !first {
		return
	}
	defer close(s.stopDone)

	if conn != nil {
		if err := safeDisconnect(conn); err != nil {
			err = fmt.Errorf("mqtt: disconnect: %w", err)
			s.mu.Lock()
			s.stopErr = err
			s.mu.Unlock()
			s.emit(Event{Kind: EventError, ClientID: clientID, Err: err})
		}
	}

	s.emit(Event{Kind: EventStopped, ClientID: clientID})
}

// safeDisconnect closes conn, turning a panic into an error.
func safeDisconnect(conn Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during disconnect: %v", r)
		}
	}()
	return conn.Disconnect()
}

// run is the connection loop. It exits when the context is cancelled or
// the backoff policy returns backoff.Stop.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	for ctx.Err() == nil {
		attempt++
		clientID := s.newClientID()
		s.emit(Event{Kind: EventAttemptingConnect, ClientID: clientID, Attempt: attempt})

		lost := make(chan error, 1)
		handlers := ConnHandlers{
			OnMessage: s.deliver,
			OnConnectionLost: func(err error) {
				select {
				case lost <- err:
				default:
				}
			},
		}

		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout(s.cfg))
		conn, err := s.dialer.Dial(dialCtx, clientID, handlers)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.state.transitionFrom(StateReconnecting, StateConnecting)

			delay := s.backoff.NextBackOff()
			ev := Event{Kind: EventConnectionFailure, ClientID: clientID, Attempt: attempt, Err: err, Delay: delay}
			var connErr *ConnectError
			if errors.As(err, &connErr) {
				ack := connErr.Ack
				ev.ConnAck = &ack
			}
			s.emit(ev)

			if !s.waitRetry(ctx, delay) {
				return
			}
			continue
		}

		if !s.setConn(conn, clientID) {
			_ = safeDisconnect(conn)
			return
		}
		connectedAt := s.now()
		attempt = 0

		s.emit(Event{Kind: EventConnectionSuccess, ClientID: clientID})
		s.restoreSubscriptions(ctx, conn, clientID)

		select {
		case <-ctx.Done():
			return
		case lostErr := <-lost:
			uptime := s.now().Sub(connectedAt)
			s.clearConn(conn)

			if uptime >= s.resetAfter {
				s.backoff.Reset()
			}
			delay := s.backoff.NextBackOff()
			s.emit(Event{
				Kind:     EventDisconnection,
				ClientID: clientID,
				Err:      lostErr,
				Uptime:   uptime,
				Delay:    delay,
			})

			if !s.waitRetry(ctx, delay) {
				return
			}
		}
	}
}

// waitRetry sleeps for delay. It returns false when the loop must end,
// either because the session was stopped or because the policy gave up.
func (s *Session) waitRetry(ctx context.Context, delay time.Duration) bool {
	if delay == backoff.Stop {
		s.shutdown()
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// setConn publishes a new live connection. It fails if Stop won the race.
func (s *Session) setConn(conn Conn, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.transitionFrom(StateConnected, StateConnecting, StateReconnecting) {
		return false
	}
	s.conn = conn
	s.clientID = clientID
	close(s.ready)
	return true
}

// clearConn drops a lost connection and re-arms the ready channel.
func (s *Session) clearConn(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return
	}
	s.conn = nil
	s.ready = make(chan struct{})
	s.state.transition(StateConnected, StateReconnecting)
}

// deliver hands an inbound message to the message handler.
func (s *Session) deliver(msg Message) {
	if s.onMessage == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.emit(Event{
				Kind:     EventError,
				ClientID: s.ClientID(),
				Err:      fmt.Errorf("mqtt: message handler panic on %q: %v", msg.Topic, r),
			})
		}
	}()
	s.onMessage(msg)
}

// emit stamps and delivers an event.
func (s *Session) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	s.notifying.Add(1)
	defer s.notifying.Add(-1)
	s.observers.emit(ev)
}

// waitConn blocks until a connection is up, the session stops, or ctx ends.
func (s *Session) waitConn(ctx context.Context) (Conn, error) {
	for {
		s.mu.Lock()
		conn, ready, stopped := s.conn, s.ready, s.stopped
		s.mu.Unlock()

		if s.state.isStopped() {
			return nil, ErrStopped
		}
		if conn != nil {
			return conn, nil
		}

		select {
		case <-ready:
		case <-stopped:
			return nil, ErrStopped
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
		}
	}
}

// Publish sends msg once a connection is available.
//
// If the session is between connections, Publish waits for the next one
// until ctx ends.
func (s *Session) Publish(ctx context.Context, msg OutboundMessage) error {
	if msg.QoS > maxQoS {
		return ErrInvalidQoS
	}

	conn, err := s.waitConn(ctx)
	if err != nil {
		return err
	}
	return conn.Publish(ctx, msg)
}

// Subscribe issues a broker subscribe for filter once a connection is
// available. The filter is sent verbatim, wildcards included.
//
// The filter is tracked and re-issued after every reconnect. If ctx ends
// before any connection is up, the filter stays tracked and is subscribed
// as soon as the session connects.
func (s *Session) Subscribe(ctx context.Context, filter string, qos byte) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if s.state.isStopped() {
		return ErrStopped
	}

	s.subMu.Lock()
	if _, exists := s.subscriptions[filter]; !exists {
		s.subOrder = append(s.subOrder, filter)
	}
	s.subscriptions[filter] = &subscription{qos: qos}
	s.subMu.Unlock()

	conn, err := s.subscribeNow(ctx, filter, qos)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	sub := s.subscriptions[filter]
	if sub == nil {
		return err
	}
	switch {
	case err == nil:
		sub.restore = true
		sub.conn = conn
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrTimeout):
		sub.restore = true
	default:
		s.removeSubscriptionLocked(filter)
	}
	return err
}

func (s *Session) subscribeNow(ctx context.Context, filter string, qos byte) (Conn, error) {
	conn, err := s.waitConn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, conn.Subscribe(ctx, filter, qos)
}

func (s *Session) removeSubscriptionLocked(filter string) {
	delete(s.subscriptions, filter)
	for i, f := range s.subOrder {
		if f == filter {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
}

// restoreSubscriptions re-issues tracked filters on a fresh connection.
// Failures are reported as EventError and do not drop the connection.
func (s *Session) restoreSubscriptions(ctx context.Context, conn Conn, clientID string) {
	type pending struct {
		filter string
		qos    byte
	}

	s.subMu.Lock()
	var toRestore []pending
	for _, filter := range s.subOrder {
		if sub := s.subscriptions[filter]; sub != nil && sub.restore && sub.conn != conn {
			toRestore = append(toRestore, pending{filter: filter, qos: sub.qos})
		}
	}
	s.subMu.Unlock()

	for _, p := range toRestore {
		subCtx, cancel := context.WithTimeout(ctx, connectTimeout(s.cfg))
		err := conn.Subscribe(subCtx, p.filter, p.qos)
		cancel()
		if err != nil {
			s.emit(Event{
				Kind:     EventError,
				ClientID: clientID,
				Err:      fmt.Errorf("%w: restoring %q: %w", ErrSubscribeFailed, p.filter, err),
			})
			continue
		}

		s.subMu.Lock()
		if sub := s.subscriptions[p.filter]; sub != nil {
			sub.conn = conn
		}
		s.subMu.Unlock()
	}
}

// HealthCheck reports whether the session currently holds a connection.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns whether a connection is currently up.
func (s *Session) IsConnected() bool {
	return s.state.get() == StateConnected
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state.get()
}

// ClientID returns the identifier of the current (or last) connection.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// SubscriptionCount returns the number of tracked filters.
func (s *Session) SubscriptionCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscriptions)
}

// HasSubscription checks if a filter is tracked.
//
// Note: This checks only the exact filter string, not pattern matching.
func (s *Session) HasSubscription(filter string) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	_, exists := s.subscriptions[filter]
	return exists
}
