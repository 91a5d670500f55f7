package mqtt

import (
	"context"
	"fmt"
)

// QoS levels.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2

	maxQoS = QoSExactlyOnce
)

// Message is an inbound message as delivered by the broker.
type Message struct {
	Topic string

	// Payload is the raw body. PayloadPresent distinguishes an empty body
	// from a message that carried no body at all.
	Payload        []byte
	PayloadPresent bool

	QoS            byte
	Retain         bool
	Duplicate      bool
	MessageID      uint16
	UserProperties map[string]string
}

// OutboundMessage is a single publish request.
type OutboundMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnHandlers are the callbacks a Conn invokes for broker-initiated events.
type ConnHandlers struct {
	// OnMessage is called for every message received on any subscription.
	OnMessage func(Message)

	// OnConnectionLost is called once when an established connection drops.
	OnConnectionLost func(err error)
}

// Dialer opens physical connections to the broker.
//
// Each call to Dial is one connection attempt with the given client
// identifier. Dial blocks until the broker acknowledged the connection or
// the attempt failed.
type Dialer interface {
	Dial(ctx context.Context, clientID string, handlers ConnHandlers) (Conn, error)
}

// Conn is an established broker connection.
type Conn interface {
	Publish(ctx context.Context, msg OutboundMessage) error
	Subscribe(ctx context.Context, filter string, qos byte) error
	Disconnect() error
}

// ConnectError is a connection failure the broker answered with a
// connect acknowledgment.
type ConnectError struct {
	Ack ConnAck
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect refused (return code %d): %v", e.Ack.ReturnCode, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
