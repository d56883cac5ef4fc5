package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload json.RawMessage
		wantErr bool
	}{
		{name: "object payload", event: EventAMQPMessage, payload: json.RawMessage(`{"q":"orders"}`)},
		{name: "nil payload becomes null", event: "ping", payload: nil},
		{name: "scalar payload", event: "count", payload: json.RawMessage(`42`)},
		{name: "empty name", event: "", payload: json.RawMessage(`{}`), wantErr: true},
		{name: "invalid payload", event: "x", payload: json.RawMessage(`{"q":`), wantErr: true},
		{name: "newline in name", event: "x\ndata: {}", payload: json.RawMessage(`{}`), wantErr: true},
		{name: "carriage return in name", event: "x\r", payload: json.RawMessage(`{}`), wantErr: true},
		{name: "tab in name", event: "a\tb", payload: json.RawMessage(`{}`), wantErr: true},
		{name: "unicode name", event: "queueCount·été", payload: json.RawMessage(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.event, tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEnvelope() error = %v", err)
			}
			if env.Name() != tt.event {
				t.Errorf("Name() = %q, want %q", env.Name(), tt.event)
			}
		})
	}
}

func TestDecodeEnvelope_RejectsControlCharsInName(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"event":"x\ndata: {\"event\":\"amqpMessage\"}","payload":{}}`))
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestEnvelope_Immutable(t *testing.T) {
	raw := json.RawMessage(`{"q":"orders"}`)
	env, err := NewEnvelope(EventAMQPMessage, raw)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	raw[2] = 'X'
	got := env.Payload()
	got[2] = 'Y'

	if string(env.Payload()) != `{"q":"orders"}` {
		t.Errorf("payload mutated through aliasing: %s", env.Payload())
	}
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("lowercase fields", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"event":"amqpMessage","payload":{"q":"orders"}}`))
		if err != nil {
			t.Fatalf("DecodeEnvelope() error = %v", err)
		}
		var p struct{ Q string }
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.Q != "orders" {
			t.Errorf("payload q = %q, want %q", p.Q, "orders")
		}
	})

	t.Run("producer casing", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"Event":"amqpMessage","Payload":{"exchange":"ex"}}`))
		if err != nil {
			t.Fatalf("DecodeEnvelope() error = %v", err)
		}
		if env.Name() != EventAMQPMessage {
			t.Errorf("Name() = %q, want %q", env.Name(), EventAMQPMessage)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"payload":{}}`))
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("err = %v, want ErrMalformedEnvelope", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`event=x`))
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("err = %v, want ErrMalformedEnvelope", err)
		}
	})
}

func TestEnvelope_MarshalJSON(t *testing.T) {
	env := MustEnvelope(EventAMQPMessage, map[string]string{"q": "orders"})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"amqpMessage","payload":{"q":"orders"}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var zero Envelope
	data, err = json.Marshal(zero)
	if err != nil {
		t.Fatalf("Marshal(zero) error = %v", err)
	}
	if string(data) != `{"event":"","payload":null}` {
		t.Errorf("Marshal(zero) = %s", data)
	}
}

func TestEnvelope_Equal(t *testing.T) {
	a := MustEnvelope("x", map[string]int{"n": 1})
	b := MustEnvelope("x", map[string]int{"n": 1})
	c := MustEnvelope("y", map[string]int{"n": 1})

	if !a.Equal(b) {
		t.Error("identical envelopes should be equal")
	}
	if a.Equal(c) {
		t.Error("envelopes with different names should differ")
	}
}
