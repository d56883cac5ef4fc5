package eventbus

import (
	"encoding/json"
	"log/slog"
)

// Event kinds published on the local bus.
const (
	KindAPIError        = "apiError"
	KindUILog           = "uiLog"
	KindConnectionState = "connectionState"
)

// LocalEvent is a status notification for the UI layer.
type LocalEvent struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// MessagePayload is the payload of apiError and uiLog events.
type MessagePayload struct {
	Message string `json:"message"`
}

// Bus is the process-wide local event bus.
type Bus struct {
	stream *Stream[LocalEvent]
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		stream: NewStream[LocalEvent](),
		logger: logger.With("component", "eventbus"),
	}
}

// Publish sets the current value and notifies every attached subscriber.
func (b *Bus) Publish(kind string, payload any) {
	b.logger.Debug("local event", "kind", kind)
	b.stream.Publish(LocalEvent{Kind: kind, Payload: payload})
}

// Log publishes a uiLog event.
func (b *Bus) Log(message string) {
	b.Publish(KindUILog, MessagePayload{Message: message})
}

// Current returns the most recent event, if any.
func (b *Bus) Current() (LocalEvent, bool) {
	return b.stream.Current()
}

// Subscribe attaches a subscriber that sees only events published from now on.
func (b *Bus) Subscribe() *Subscription[LocalEvent] {
	return b.stream.Subscribe()
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.stream.Close()
}

// String renders the event as JSON for console output.
func (e LocalEvent) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		return e.Kind
	}
	return string(data)
}
