// Package codec encodes outbound values and decodes inbound message bodies.
//
// Outbound values are serialised as UTF-8 JSON. Inbound bodies are parsed
// as JSON into a tagged Payload[T]:
//
//	Decoded(T) | Raw(string) | Absent
//
// When a body is not JSON, the Fallback policy decides between Raw (keep
// the text, the default) and Absent (drop it). A message without a body
// is always Absent.
package codec
