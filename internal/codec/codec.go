package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Kind tags what a decoded Payload holds.
type Kind uint8

const (
	// KindAbsent means no usable payload: the message carried no body, or
	// the body was not JSON and the policy is FallbackAbsent.
	KindAbsent Kind = iota

	// KindDecoded means the body parsed as JSON into Value.
	KindDecoded

	// KindRaw means the body was not JSON and is kept as text in Raw.
	KindRaw
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindDecoded:
		return "decoded"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Fallback selects what Decode returns when the body is not valid JSON.
type Fallback uint8

const (
	// FallbackRaw keeps the body as text (KindRaw).
	FallbackRaw Fallback = iota

	// FallbackAbsent drops the body (KindAbsent).
	FallbackAbsent
)

// ErrUnknownFallback is returned by ParseFallback for an unrecognised name.
var ErrUnknownFallback = errors.New("codec: unknown decode fallback")

// ParseFallback converts a configuration value ("raw" or "absent") to a
// Fallback. An empty string selects FallbackRaw.
func ParseFallback(name string) (Fallback, error) {
	switch strings.ToLower(name) {
	case "", "raw":
		return FallbackRaw, nil
	case "absent":
		return FallbackAbsent, nil
	default:
		return FallbackRaw, fmt.Errorf("%w: %q", ErrUnknownFallback, name)
	}
}

// String returns the configuration name of the fallback.
func (f Fallback) String() string {
	if f == FallbackAbsent {
		return "absent"
	}
	return "raw"
}

// Payload is a decoded message body.
//
// Exactly one of the following holds:
//   - Kind == KindDecoded: Value is set
//   - Kind == KindRaw: Raw is set, Value is the zero value
//   - Kind == KindAbsent: neither is set
type Payload[T any] struct {
	Kind  Kind
	Value T
	Raw   string
}

// Decoded wraps a parsed value.
func Decoded[T any](v T) Payload[T] {
	return Payload[T]{Kind: KindDecoded, Value: v}
}

// RawText wraps an undecodable body.
func RawText[T any](s string) Payload[T] {
	return Payload[T]{Kind: KindRaw, Raw: s}
}

// Absent is the empty payload.
func Absent[T any]() Payload[T] {
	return Payload[T]{Kind: KindAbsent}
}

// Get returns the decoded value and whether there was one.
func (p Payload[T]) Get() (T, bool) {
	return p.Value, p.Kind == KindDecoded
}

// IsAbsent reports whether the payload carries nothing.
func (p Payload[T]) IsAbsent() bool {
	return p.Kind == KindAbsent
}

// Encode serialises v as UTF-8 JSON text.
//
// HTML characters are not escaped and no trailing newline is written, so
// the output is byte-for-byte what a JSON.stringify-style encoder emits.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("codec: encoding payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a message body.
//
// Parameters:
//   - raw: the body bytes
//   - present: false when the message carried no body at all
//   - fallback: what to return when the body is not valid JSON for T
//
// Returns KindDecoded on success. A missing body is always KindAbsent.
// A body that is not valid UTF-8 or not valid JSON follows the fallback.
//
// Numbers decoded into interface values are json.Number, so integers
// beyond 2^53 keep their exact digits when re-encoded. Objects decoded
// into maps lose their key order: Encode writes map keys sorted. Use
// Canonical to forward a body with its original key order.
func Decode[T any](raw []byte, present bool, fallback Fallback) Payload[T] {
	if !present {
		return Absent[T]()
	}

	if utf8.Valid(raw) {
		if v, err := unmarshal[T](raw); err == nil {
			return Decoded(v)
		}
	}

	if fallback == FallbackAbsent {
		return Absent[T]()
	}
	return RawText[T](string(raw))
}

// unmarshal decodes exactly one JSON value, keeping numbers as json.Number.
func unmarshal[T any](raw []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return v, fmt.Errorf("codec: trailing data after JSON value")
	}
	return v, nil
}

// Canonical returns a JSON body as a json.RawMessage so that Encode
// reproduces it with its key order and number digits intact (whitespace
// is compacted). It reports false when raw is not a single valid JSON
// value.
func Canonical(raw []byte) (json.RawMessage, bool) {
	if !utf8.Valid(raw) || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(bytes.Clone(raw)), true
}
