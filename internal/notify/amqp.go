// ABOUTME: AMQP implementation of the lifecycle Notifier
// ABOUTME: Publishes enveloped request snapshots to a topic exchange

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/mart-code/first-aid-app/internal/store"
)

// Meta carries message identity and provenance on the notification feed.
type Meta struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Envelope is the wire form of a lifecycle notification.
type Envelope struct {
	Meta Meta               `json:"meta"`
	Data *store.ChatRequest `json:"data"`
}

// AMQPNotifier publishes lifecycle envelopes to a durable topic exchange.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPNotifier dials the broker and declares the exchange.
func NewAMQPNotifier(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPNotifier{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "notify"),
	}, nil
}

// RequestLifecycle publishes a request snapshot under the given routing key.
// Failures are logged, never surfaced: the notification feed is advisory and
// must not fail the mutation that produced it.
func (n *AMQPNotifier) RequestLifecycle(ctx context.Context, key string, req *store.ChatRequest) {
	env := Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Source:     "first-aid-gateway",
			OccurredAt: time.Now().UTC(),
		},
		Data: req,
	}

	body, err := json.Marshal(env)
	if err != nil {
		n.logger.Error("failed to marshal notification", "error", err, "key", key)
		return
	}

	ch, err := n.conn.Channel()
	if err != nil {
		n.logger.Warn("failed to open channel for notification", "error", err, "key", key)
		return
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, n.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.Meta.ID,
			Timestamp:    env.Meta.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		n.logger.Warn("failed to publish notification", "error", err, "key", key)
		return
	}

	n.logger.Debug("published notification", "key", key, "request_id", req.ID)
}

// Close releases the broker connection.
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
