// Package relay turns configured routes into message handlers.
//
// A route either logs every matching message or re-publishes its decoded
// payload to another topic through a Forwarder:
//
//	relay:
//	  routes:
//	    - pattern: "dev/+/temp"
//	      forward_to: "mirror/{topic}"
//	    - pattern: "alerts/#"          # log only
//	    - pattern: "dev/#"
//	      disabled: true               # not subscribed, still matched locally
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/messaging"
)

// TopicPlaceholder in forward_to is replaced by the inbound topic.
const TopicPlaceholder = "{topic}"

// ErrLoop is returned when a forward target would be routed back into the
// same route.
var ErrLoop = errors.New("relay: forward target matches its own pattern")

// Forwarder publishes values. *messaging.Client implements it.
type Forwarder interface {
	DispatchEvent(ctx context.Context, topic string, value any) error
}

// Register adds one handler per route to reg.
func Register(reg *messaging.Registry, routes []config.RelayRoute, fwd Forwarder, logger messaging.Logger) error {
	for i, route := range routes {
		h := &handler{route: route, fwd: fwd, logger: logger}
		if route.ForwardTo != "" && fwd == nil {
			return fmt.Errorf("relay route %d (%s): forward_to set without a forwarder", i, route.Pattern)
		}
		extras := messaging.Extras{
			Disabled: route.Disabled,
			Metadata: map[string]string{"relay": h.mode()},
		}
		if err := reg.Handle(route.Pattern, h, extras); err != nil {
			return fmt.Errorf("relay route %d (%s): %w", i, route.Pattern, err)
		}
	}
	return nil
}

type handler struct {
	route  config.RelayRoute
	fwd    Forwarder
	logger messaging.Logger
}

func (h *handler) mode() string {
	if h.route.ForwardTo == "" {
		return "log"
	}
	return "forward"
}

// Handle logs or forwards one message.
func (h *handler) Handle(ctx context.Context, env messaging.Envelope) error {
	if h.route.ForwardTo == "" {
		h.logger.Info("relay message",
			"pattern", env.Pattern,
			"topic", env.TopicName,
			"payload", env.Payload.Kind.String(),
			"bytes", len(env.Raw),
		)
		return nil
	}

	value, ok := forwardValue(env)
	if !ok {
		h.logger.Debug("relay skipped absent payload", "topic", env.TopicName)
		return nil
	}

	target := Target(h.route.ForwardTo, env.TopicName)
	if mqtt.Match(h.route.Pattern, target) {
		return fmt.Errorf("%w: %s -> %s", ErrLoop, env.TopicName, target)
	}

	if err := h.fwd.DispatchEvent(ctx, target, value); err != nil {
		return fmt.Errorf("forwarding %s to %s: %w", env.TopicName, target, err)
	}
	return nil
}

// Target expands TopicPlaceholder in forwardTo.
func Target(forwardTo, topic string) string {
	return strings.ReplaceAll(forwardTo, TopicPlaceholder, topic)
}

// forwardValue picks what to re-publish. A decoded body is forwarded as
// its original JSON text so key order and number digits are unchanged.
func forwardValue(env messaging.Envelope) (any, bool) {
	p := env.Payload
	switch p.Kind {
	case codec.KindDecoded:
		if raw, ok := codec.Canonical(env.Raw); ok {
			return raw, true
		}
		return p.Value, true
	case codec.KindRaw:
		return p.Raw, true
	default:
		return nil, false
	}
}
