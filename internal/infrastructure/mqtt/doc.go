// Package mqtt provides the broker session for the Gray Logic IoT bridge.
//
// This package manages:
//   - Connection to the broker over mutual TLS
//   - Reconnection with full-jitter exponential backoff
//   - A fresh client identifier per connection attempt
//   - Persistent (rejoined) broker sessions and subscription restoration
//   - Lifecycle events for logging and metrics
//   - Topic pattern matching for inbound routing
//
// # Architecture
//
// The Session owns exactly one live connection at a time and is the only
// writer of connection state. The physical link is behind the Dialer/Conn
// interfaces; PahoDialer is the production implementation.
//
//	Client / Server → Session → Dialer (paho) → Broker
//
// # Backoff
//
// Reconnect delays are drawn uniformly from [0, ceiling] where the ceiling
// doubles from 1s up to 120s. If a connection stayed up for at least 30s,
// the next disconnect restarts the ceiling at 1s. All three bounds are
// configurable under mqtt.reconnect.
//
// # Pattern Matching
//
// Match implements the bridge's routing rule. It agrees with the MQTT
// topic filter grammar except for a "#" that is not the final segment,
// which never matches.
//
// # Usage
//
//	dialer, err := mqtt.NewPahoDialer(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	session, err := mqtt.NewSession(cfg.MQTT, dialer,
//	    mqtt.WithMessageHandler(router.Handle))
//	if err != nil {
//	    return err
//	}
//	session.OnAny(mqtt.LogObserver(log))
//	session.Start()
//	defer session.Stop()
package mqtt
