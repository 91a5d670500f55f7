package mqtt

import (
	"sync"
	"time"
)

// EventKind identifies a lifecycle event raised by a Session.
type EventKind int

// Lifecycle events.
const (
	// EventAttemptingConnect is raised before every connection attempt.
	EventAttemptingConnect EventKind = iota

	// EventConnectionSuccess is raised when the broker accepted the connection.
	EventConnectionSuccess

	// EventConnectionFailure is raised when a connection attempt failed.
	// Event.Err is set; Event.ConnAck is set when the broker answered.
	EventConnectionFailure

	// EventDisconnection is raised when an established connection was lost.
	EventDisconnection

	// EventError reports a transport error that did not change the
	// connection state (failed re-subscribe, failed teardown).
	EventError

	// EventStopped is raised once when the session reaches its final state.
	EventStopped
)

// String returns the event name used in logs and metric attributes.
func (k EventKind) String() string {
	switch k {
	case EventAttemptingConnect:
		return "attempting_connect"
	case EventConnectionSuccess:
		return "connection_success"
	case EventConnectionFailure:
		return "connection_failure"
	case EventDisconnection:
		return "disconnection"
	case EventError:
		return "error"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnAck is the broker's answer to a connect request.
type ConnAck struct {
	ReturnCode     byte
	SessionPresent bool
}

// Event describes one lifecycle transition.
type Event struct {
	Kind     EventKind
	ClientID string
	Attempt  int
	Err      error
	ConnAck  *ConnAck

	// Delay is the wait before the next attempt (failure and disconnection
	// events only).
	Delay time.Duration

	// Uptime is how long the lost connection had been up (disconnection only).
	Uptime time.Duration

	Time time.Time
}

// Observer receives lifecycle events.
//
// Observers are called synchronously from the session's run loop and must
// return quickly. An observer may call Session.Stop; see Stop for how it
// behaves there.
type Observer func(Event)

// observers is a per-kind observer list. Delivery follows registration order.
type observers struct {
	mu    sync.RWMutex
	byKey map[EventKind][]Observer
	all   []Observer
}

func (o *observers) add(kind EventKind, fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byKey == nil {
		o.byKey = make(map[EventKind][]Observer)
	}
	o.byKey[kind] = append(o.byKey[kind], fn)
}

func (o *observers) addAll(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, fn)
}

// emit delivers ev to kind-specific observers, then to catch-all observers.
func (o *observers) emit(ev Event) {
	o.mu.RLock()
	specific := o.byKey[ev.Kind]
	all := o.all
	o.mu.RUnlock()

	for _, fn := range specific {
		fn(ev)
	}
	for _, fn := range all {
		fn(ev)
	}
}
