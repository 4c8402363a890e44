package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/models"
)

// Handler applies one approval event
type Handler func(ctx context.Context, ev models.ApprovalEvent) error

// Consumer receives approval events on the bot side. Each consumer gets its
// own exclusive queue, so every replica sees every event.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *logrus.Logger
}

func NewConsumer(url, exchange string, logger *logrus.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := declareExchange(ch, exchange); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return fail(fmt.Errorf("failed to set qos: %w", err))
	}

	return &Consumer{conn: conn, ch: ch, queue: q.Name, logger: logger}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run delivers events to handle until ctx is done or the channel closes
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	c.logger.WithField("queue", c.queue).Info("Listening for approval events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("approval event channel closed")
			}
			dispatch(ctx, d, handle, c.logger)
		}
	}
}

// dispatch decodes and applies one delivery; malformed bodies are dropped
func dispatch(ctx context.Context, d amqp.Delivery, handle Handler, logger *logrus.Logger) {
	var ev models.ApprovalEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.TelegramID == 0 {
		logger.WithField("body", string(d.Body)).Warn("Dropping malformed approval event")
		_ = d.Reject(false)
		return
	}

	if err := handle(ctx, ev); err != nil {
		logger.WithError(err).WithField("telegram_id", ev.TelegramID).Error("Failed to apply approval event")
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}
