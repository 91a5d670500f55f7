package messaging

import (
	"bytes"
	"maps"

	"github.com/nerrad567/gray-logic-iot/internal/codec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Envelope is an inbound message as handed to a handler.
type Envelope struct {
	TopicName string

	// Payload is the body decoded with the server's fallback policy.
	// Every handler invocation gets its own decode.
	Payload codec.Payload[any]

	// Raw is the undecoded body. PayloadPresent is false when the message
	// carried no body.
	Raw            []byte
	PayloadPresent bool

	QoS            byte
	Retain         bool
	Duplicate      bool
	UserProperties map[string]string

	// Pattern is the registration key that matched TopicName.
	Pattern string

	fallback codec.Fallback
}

func newEnvelope(msg mqtt.Message, fallback codec.Fallback) Envelope {
	return Envelope{
		TopicName:      msg.Topic,
		Payload:        codec.Decode[any](msg.Payload, msg.PayloadPresent, fallback),
		Raw:            bytes.Clone(msg.Payload),
		PayloadPresent: msg.PayloadPresent,
		QoS:            msg.QoS,
		Retain:         msg.Retain,
		Duplicate:      msg.Duplicate,
		UserProperties: maps.Clone(msg.UserProperties),
		fallback:       fallback,
	}
}

// DecodeAs decodes the envelope body into T with the same fallback policy
// the server used for Payload.
func DecodeAs[T any](env Envelope) codec.Payload[T] {
	return codec.Decode[T](env.Raw, env.PayloadPresent, env.fallback)
}
