package api

import "encoding/json"

// Default exchange type for DeclareExchange.
const DefaultExchangeType = "direct"

// DeclareExchangeRequest for POST /declare-exchange
type DeclareExchangeRequest struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ExchangeDeclared from POST /declare-exchange
type ExchangeDeclared struct {
	Declared bool   `json:"declared"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"`
}

// DeclareQueueRequest for POST /declare-queue
type DeclareQueueRequest struct {
	Name string `json:"name"`
}

// QueueDeclared from POST /declare-queue
type QueueDeclared struct {
	Declared bool   `json:"declared"`
	Queue    string `json:"queue"`
}

// BindRequest for POST /bind
type BindRequest struct {
	Queue      string `json:"queue"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// BindResult from POST /bind
type BindResult struct {
	Bound bool `json:"bound"`
}

// PublishRequest for POST /publish
type PublishRequest struct {
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Message    string `json:"message"`
}

// PublishResult from POST /publish
type PublishResult struct {
	Published bool `json:"published"`
}

// ConsumedMessage from GET /consume. The backend returns {} when the queue is empty.
type ConsumedMessage struct {
	Tag     int64  `json:"tag,omitempty"`
	Message string `json:"message,omitempty"`
}

// Empty reports whether no message was available.
func (m ConsumedMessage) Empty() bool {
	return m.Tag == 0 && m.Message == ""
}

// AckRequest for POST /ack
type AckRequest struct {
	DeliveryTag int64 `json:"delivery_tag"`
}

// AckResult from POST /ack
type AckResult struct {
	Acked bool `json:"acked"`
}

// QueueRequest for POST /dlq-requeue
type QueueRequest struct {
	Queue string `json:"queue"`
}

// Stats is the broker statistics document from GET /amqp-stats. Its shape is owned by the
// backend, so it stays raw.
type Stats = json.RawMessage

// DeadLetters is the dead-letter peek result from GET /dlq-peek.
type DeadLetters = json.RawMessage
