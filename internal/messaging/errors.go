package messaging

import (
	"errors"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Errors returned by the client, server and registry.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing or listening without a
	// session, usually because session construction failed.
	ErrNotConnected = mqtt.ErrNotConnected

	// ErrPublishFailed wraps every transport-level publish failure.
	ErrPublishFailed = mqtt.ErrPublishFailed

	// ErrCircuitOpen is returned while the publish circuit breaker is open.
	ErrCircuitOpen = errors.New("messaging: publish circuit open")

	// ErrPayloadTooLarge is returned when an encoded payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("messaging: payload too large")

	// ErrRegistryFrozen is returned when a handler is registered after Listen.
	ErrRegistryFrozen = errors.New("messaging: registry is frozen")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("messaging: handler is nil")
)
