package messaging

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Typed adapts a function taking a typed payload. The body is decoded into
// T; a body that does not fit T follows the server's fallback policy.
func Typed[T any](fn func(ctx context.Context, payload codec.Payload[T], env Envelope) error) Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) error {
		return fn(ctx, DecodeAs[T](env), env)
	})
}

// Extras are per-pattern registration options.
type Extras struct {
	// Disabled skips the broker subscribe for the pattern. The pattern
	// still takes part in local matching, so messages arriving through
	// another subscription are still delivered to its handlers.
	Disabled bool

	// Metadata is free-form and only surfaces in logs.
	Metadata map[string]string
}

// merge applies later over e. Set fields win.
func (e Extras) merge(later Extras) Extras {
	out := Extras{
		Disabled: e.Disabled || later.Disabled,
	}
	if len(e.Metadata) > 0 || len(later.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(e.Metadata)+len(later.Metadata))
		maps.Copy(out.Metadata, e.Metadata)
		maps.Copy(out.Metadata, later.Metadata)
	}
	return out
}

// Registration is one pattern and its handlers.
type Registration struct {
	Pattern  string
	Handlers []Handler
	Extras   Extras
}

// Registry maps subscription patterns to handlers.
//
// Patterns are unique by exact string: registering a pattern again appends
// the handler to the existing entry and merges the extras. Registrations
// keep their insertion order. The registry is frozen when a Server starts
// listening; later registrations fail with ErrRegistryFrozen.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	regs   map[string]*Registration
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Handle registers h for pattern.
func (r *Registry) Handle(pattern string, h Handler, extras ...Extras) error {
	if h == nil {
		return ErrNilHandler
	}
	if pattern == "" {
		return fmt.Errorf("%w: pattern cannot be empty", mqtt.ErrInvalidTopic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, pattern)
	}

	reg, exists := r.regs[pattern]
	if !exists {
		reg = &Registration{Pattern: pattern}
		r.regs[pattern] = reg
		r.order = append(r.order, pattern)
	}
	reg.Handlers = append(reg.Handlers, h)
	for _, e := range extras {
		reg.Extras = reg.Extras.merge(e)
	}
	return nil
}

// HandleFunc registers fn for pattern.
func (r *Registry) HandleFunc(pattern string, fn func(ctx context.Context, env Envelope) error, extras ...Extras) error {
	if fn == nil {
		return ErrNilHandler
	}
	return r.Handle(pattern, HandlerFunc(fn), extras...)
}

// Freeze stops further registration. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Len returns the number of distinct patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Registrations returns a snapshot of all registrations in insertion order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.order))
	for _, pattern := range r.order {
		out = append(out, r.snapshot(r.regs[pattern]))
	}
	return out
}

// Match returns every registration whose pattern matches topic, in
// insertion order. Disabled registrations are included.
func (r *Registry) Match(topic string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, pattern := range r.order {
		if mqtt.Match(pattern, topic) {
			out = append(out, r.snapshot(r.regs[pattern]))
		}
	}
	return out
}

func (r *Registry) snapshot(reg *Registration) Registration {
	return Registration{
		Pattern:  reg.Pattern,
		Handlers: append([]Handler(nil), reg.Handlers...),
		Extras:   reg.Extras,
	}
}
