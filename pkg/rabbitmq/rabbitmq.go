package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/streadway/amqp"
)

// DefaultQueue receives account events when Config.Queue is empty.
const DefaultQueue = "user_events"

// Client holds the RabbitMQ connection and channel.
// Publishing is serialized because an amqp.Channel must not be shared by concurrent writers.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mu      sync.Mutex
	logger  *slog.Logger
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL    string
	Queue  string
	Logger *slog.Logger
}

// NewClient connects to RabbitMQ, opens a channel and declares the durable event queue.
func NewClient(cfg Config) (*Client, error) {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("rabbitmq client connected", "queue", queue)

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   queue,
		logger:  logger,
	}, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", queue, err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// NewPublishing marshals payload into a persistent JSON message of the given type.
func NewPublishing(messageType string, payload any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal %s payload to JSON: %w", messageType, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         messageType,
		Timestamp:    now,
		Body:         body,
	}, nil
}

// PublishJSON publishes payload as JSON to the event queue through the default exchange.
func (c *Client) PublishJSON(ctx context.Context, messageType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	msg, err := NewPublishing(messageType, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	c.mu.Lock()
	err = c.channel.Publish(
		"",      // default exchange
		c.queue, // routing key: the queue name
		false,   // mandatory
		false,   // immediate
		msg,
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", messageType, err)
	}

	c.logger.Debug("event published", "type", messageType, "message_id", msg.MessageId)
	return nil
}

// Consume delivers queued events to handler until ctx is cancelled or the channel closes.
// Messages are acked when handler succeeds and nacked without requeue otherwise.
func (c *Client) Consume(ctx context.Context, handler func(amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.settle(msg, handler(msg))
			}
		}
	}()
	return nil
}

func (c *Client) settle(msg amqp.Delivery, handlerErr error) {
	if handlerErr != nil {
		c.logger.Warn("event handling failed", "message_id", msg.MessageId, "error", handlerErr)
		if err := msg.Nack(false, false); err != nil {
			c.logger.Error("nack failed", "delivery_tag", msg.DeliveryTag, "error", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("ack failed", "delivery_tag", msg.DeliveryTag, "error", err)
	}
}

// AuditHandler returns a handler that logs every received event.
func AuditHandler(logger *slog.Logger) func(amqp.Delivery) error {
	return func(msg amqp.Delivery) error {
		var payload map[string]any
		if err := json.Unmarshal(msg.Body, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", msg.MessageId, err)
		}
		logger.Info("account event", "type", msg.Type, "message_id", msg.MessageId, "payload", payload)
		return nil
	}
}
