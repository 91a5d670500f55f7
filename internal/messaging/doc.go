// Package messaging connects application handlers to the broker session.
//
// A Client publishes values: DispatchEvent is fire-and-forget, Publish
// reports the outcome to a callback. A Server subscribes the patterns in a
// Registry and routes every inbound message to all matching handlers.
//
// # Registration
//
//	reg := messaging.NewRegistry()
//	reg.HandleFunc("dev/+/temp", onTemperature)
//	reg.Handle("dev/#", messaging.Typed(onDeviceEvent), messaging.Extras{Disabled: true})
//
// A pattern registered twice keeps one entry with both handlers. Disabled
// patterns are not subscribed at the broker but still match locally.
//
// # Payloads
//
// Bodies are JSON. A body that does not parse is handed over as raw text
// or as absent, depending on router.decode_fallback.
//
// # Errors
//
// Publishing without a session fails with ErrNotConnected. Handler errors
// and panics are logged and recorded; they never reach the session or
// other handlers.
package messaging
