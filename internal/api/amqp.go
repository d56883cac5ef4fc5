package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// DeclareExchange creates an exchange. kind defaults to direct.
func (c *Client) DeclareExchange(ctx context.Context, name, kind string) (ExchangeDeclared, error) {
	if name == "" {
		return ExchangeDeclared{}, errors.New("exchange name is required")
	}
	if kind == "" {
		kind = DefaultExchangeType
	}
	return call[ExchangeDeclared](ctx, c, http.MethodPost, "/declare-exchange", nil,
		DeclareExchangeRequest{Name: name, Type: kind})
}

// DeclareQueue creates a queue.
func (c *Client) DeclareQueue(ctx context.Context, name string) (QueueDeclared, error) {
	if name == "" {
		return QueueDeclared{}, errors.New("queue name is required")
	}
	return call[QueueDeclared](ctx, c, http.MethodPost, "/declare-queue", nil,
		DeclareQueueRequest{Name: name})
}

// Bind binds a queue to an exchange.
func (c *Client) Bind(ctx context.Context, queue, exchange, routingKey string) (BindResult, error) {
	return call[BindResult](ctx, c, http.MethodPost, "/bind", nil,
		BindRequest{Queue: queue, Exchange: exchange, RoutingKey: routingKey})
}

// Publish sends a message to an exchange. It is never retried.
func (c *Client) Publish(ctx context.Context, exchange, routingKey, message string) (PublishResult, error) {
	c.logger.Debug("publishing message", "exchange", exchange, "routing_key", routingKey)
	return call[PublishResult](ctx, c, http.MethodPost, "/publish", nil,
		PublishRequest{Exchange: exchange, RoutingKey: routingKey, Message: message},
		NotIdempotent())
}

// Consume fetches at most one message from a queue without acknowledging it.
func (c *Client) Consume(ctx context.Context, queue string) (ConsumedMessage, error) {
	return call[ConsumedMessage](ctx, c, http.MethodGet, "/consume", url.Values{"queue": {queue}}, nil)
}

// Ack acknowledges a consumed message. It is never retried.
func (c *Client) Ack(ctx context.Context, deliveryTag int64) (AckResult, error) {
	return call[AckResult](ctx, c, http.MethodPost, "/ack", nil,
		AckRequest{DeliveryTag: deliveryTag},
		NotIdempotent())
}

// Stats returns broker statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return call[Stats](ctx, c, http.MethodGet, "/amqp-stats", nil, nil)
}

// PeekDeadLetters returns the dead-letter messages of a queue without removing them.
func (c *Client) PeekDeadLetters(ctx context.Context, queue string) (DeadLetters, error) {
	return call[DeadLetters](ctx, c, http.MethodGet, "/dlq-peek", url.Values{"queue": {queue}}, nil)
}

// RequeueDeadLetters moves a queue's dead letters back onto it.
func (c *Client) RequeueDeadLetters(ctx context.Context, queue string) (Stats, error) {
	c.logger.Debug("requeueing dead letters", "queue", queue)
	return call[Stats](ctx, c, http.MethodPost, "/dlq-requeue", nil, QueueRequest{Queue: queue})
}
