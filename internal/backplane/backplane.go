// Package backplane propagates envelopes between relay instances that share a channel.
//
// Every instance publishes what it receives locally and subscribes to the shared channel.
// Messages carry the publishing instance's origin id so an instance can skip its own
// publications, which it has already delivered. The publisher's own handler does observe its
// publication; filtering is the caller's job.
//
// Delivery is at-most-once. Messages published while a subscriber is disconnected are lost.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/signal-relay/internal/model"
)

// ErrUnavailable is returned when the backplane cannot be reached.
var ErrUnavailable = errors.New("backplane unavailable")

// ErrTooLarge is returned when an encoded message exceeds the driver's payload limit. The
// envelope was still delivered to local connections.
var ErrTooLarge = errors.New("backplane message too large")

// ErrClosed is returned by operations on a closed backplane.
var ErrClosed = errors.New("backplane closed")

// Message is the unit carried on the shared channel.
type Message struct {
	Origin   string         `json:"origin"`
	Envelope model.Envelope `json:"envelope"`
}

// Handler receives every message seen on the channel.
type Handler func(Message)

// Backplane is a shared publish/subscribe channel.
type Backplane interface {
	// Publish sends msg to every subscriber on the channel. Failures wrap ErrUnavailable.
	Publish(ctx context.Context, msg Message) error

	// Subscribe calls h for each message until ctx is done, then returns nil. Transient
	// connection loss is retried internally.
	Subscribe(ctx context.Context, h Handler) error

	// Close releases resources. Further publishes fail with ErrClosed.
	Close() error
}

// Encode serializes msg for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode backplane message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode backplane message: %w", err)
	}
	if err := msg.Envelope.Validate(); err != nil {
		return Message{}, fmt.Errorf("decode backplane message: %w", err)
	}
	return msg, nil
}
