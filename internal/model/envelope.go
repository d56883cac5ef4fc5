package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrMalformedEnvelope is returned when an envelope has a missing or unsafe name or an invalid
// payload.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Well-known event names.
const (
	// EventAMQPMessage carries a message observed on the business backend's broker.
	EventAMQPMessage = "amqpMessage"
	// EventQueueCount carries a {queue, count} depth update.
	EventQueueCount = "queueCount"
)

var nullPayload = json.RawMessage("null")

// Envelope is a named event with an arbitrary JSON payload. It is immutable once built:
// accessors return copies and there are no setters.
type Envelope struct {
	name    string
	payload json.RawMessage
}

// wireEnvelope is the JSON form of Envelope.
type wireEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope from raw JSON payload bytes. The bytes are copied.
func NewEnvelope(name string, payload json.RawMessage) (Envelope, error) {
	env := Envelope{name: name, payload: clonePayload(payload)}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// NewEnvelopeValue builds an envelope by marshaling v as the payload.
func NewEnvelopeValue(name string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return NewEnvelope(name, data)
}

// MustEnvelope is NewEnvelopeValue for fixed inputs known to be valid. It panics on error.
func MustEnvelope(name string, v any) Envelope {
	env, err := NewEnvelopeValue(name, v)
	if err != nil {
		panic(err)
	}
	return env
}

// Name returns the event name.
func (e Envelope) Name() string { return e.name }

// Payload returns a copy of the raw JSON payload.
func (e Envelope) Payload() json.RawMessage { return clonePayload(e.payload) }

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	return json.Unmarshal(e.payload, v)
}

// IsZero reports whether the envelope was never built.
func (e Envelope) IsZero() bool { return e.name == "" && e.payload == nil }

// Equal reports whether two envelopes carry the same name and byte-identical payloads.
func (e Envelope) Equal(other Envelope) bool {
	return e.name == other.name && bytes.Equal(e.payload, other.payload)
}

// Validate checks the envelope is deliverable.
func (e Envelope) Validate() error {
	if e.name == "" {
		return fmt.Errorf("%w: event name is required", ErrMalformedEnvelope)
	}
	if !ValidName(e.name) {
		return fmt.Errorf("%w: event name %q contains control characters", ErrMalformedEnvelope, e.name)
	}
	if !json.Valid(e.payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrMalformedEnvelope)
	}
	return nil
}

// ValidName reports whether name is non-empty and free of control characters, so it can be
// written into line-oriented frames.
func ValidName(name string) bool {
	return name != "" && strings.IndexFunc(name, unicode.IsControl) < 0
}

// String implements fmt.Stringer.
func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{event=%s,payload=%s}", e.name, e.payload)
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{Event: e.name, Payload: e.payloadOrNull()})
}

// UnmarshalJSON implements json.Unmarshaler. It does not validate; call Validate.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	e.name = w.Event
	e.payload = clonePayload(w.Payload)
	return nil
}

func (e Envelope) payloadOrNull() json.RawMessage {
	if len(e.payload) == 0 {
		return nullPayload
	}
	return e.payload
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return clonePayload(nullPayload)
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}

// DecodeEnvelope parses and validates a wire envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
