package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stpericial/stpericial-backend/pkg/logger"
)

// MaxRedeliveries is how often a failing message is retried before it is
// dead-lettered
const MaxRedeliveries = 1

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Outcome is what the consumer does with a delivery after handling it
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeDeadLetter
)

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	bindings  []binding
	logger    *logger.Logger
}

type binding struct {
	exchange   string
	routingKey string
}

// NewConsumer declares the queue together with its dead letter queue
// "dlq.<queueName>" and creates a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	c := NewDispatcher(rmq, queueName, log)
	if err := c.declare(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	if err := c.rmq.DeclareDeadLetterQueue(c.queueName); err != nil {
		return err
	}
	if _, err := c.rmq.DeclareQueue(c.queueName); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queueName, err)
	}
	return nil
}

// NewDispatcher creates a consumer without touching the broker. It is used
// to run Dispatch on raw message bodies.
func NewDispatcher(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	b := binding{exchange: exchange, routingKey: routingKeyPattern}
	if err := c.bind(b); err != nil {
		return err
	}
	c.bindings = append(c.bindings, b)

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

func (c *Consumer) bind(b binding) error {
	if err := c.rmq.DeclareExchange(b.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, b.exchange, b.routingKey); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Resubscribe restores the queue, its bindings and the consume loop on a
// fresh connection. It is meant as the onReconnect callback of Watch.
func (c *Consumer) Resubscribe(ctx context.Context) error {
	if err := c.declare(); err != nil {
		return err
	}
	for _, b := range c.bindings {
		if err := c.bind(b); err != nil {
			return err
		}
	}
	return c.Start(ctx)
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes messages until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed, waiting for reconnect")
					return
				}
				c.settle(msg, c.Dispatch(ctx, msg.Body, deliveryAttempts(msg)))
			}
		}
	}()

	return nil
}

// Dispatch decodes body, runs the matching handler and decides how the
// delivery is settled. Malformed messages go straight to the dead letter
// exchange; failing ones are requeued until MaxRedeliveries.
func (c *Consumer) Dispatch(ctx context.Context, body []byte, redeliveries int) Outcome {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		return OutcomeDeadLetter
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		return OutcomeAck
	}

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, &event); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int("retry_count", redeliveries).
			Msg("failed to process event")

		if redeliveries >= MaxRedeliveries {
			return OutcomeDeadLetter
		}
		return OutcomeRequeue
	}

	return OutcomeAck
}

func (c *Consumer) settle(msg amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = msg.Ack(false)
	case OutcomeRequeue:
		err = msg.Nack(false, true)
	case OutcomeDeadLetter:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to settle delivery")
	}
}

// deliveryAttempts counts earlier deliveries. A Nack with requeue does not
// add an x-death entry, so the redelivered flag counts as one attempt.
func deliveryAttempts(msg amqp.Delivery) int {
	n := retryCount(msg.Headers)
	if msg.Redelivered {
		n++
	}
	return n
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}

	if deaths, ok := headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if count, ok := d["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}

	return 0
}
