package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishAndCurrent(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	bus.Publish(KindAPIError, MessagePayload{Message: "boom"})
	bus.Log("connected")

	ev, ok := bus.Current()
	if !ok {
		t.Fatal("Current() reported no event")
	}
	if ev.Kind != KindUILog {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindUILog)
	}
	if p, ok := ev.Payload.(MessagePayload); !ok || p.Message != "connected" {
		t.Errorf("Payload = %#v", ev.Payload)
	}
}

func TestBus_SubscriberOrdering(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	bus.Log("missed")
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(KindConnectionState, "Connecting")
	bus.Publish(KindConnectionState, "Connected")
	bus.Publish(KindAPIError, MessagePayload{Message: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []string{KindConnectionState, KindConnectionState, KindAPIError}
	for i, kind := range want {
		ev, ok := sub.Next(ctx)
		if !ok {
			t.Fatalf("Next() #%d returned false", i)
		}
		if ev.Kind != kind {
			t.Errorf("event #%d kind = %q, want %q", i, ev.Kind, kind)
		}
	}
}

func TestLocalEvent_String(t *testing.T) {
	ev := LocalEvent{Kind: KindAPIError, Payload: MessagePayload{Message: "down"}}
	want := `{"kind":"apiError","payload":{"message":"down"}}`
	if ev.String() != want {
		t.Errorf("String() = %s, want %s", ev.String(), want)
	}
}
