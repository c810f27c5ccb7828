package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"genserver/internal/domain"
	"genserver/internal/infra"
)

// JobEvent is published whenever a job reaches a terminal status.
type JobEvent struct {
	JobID      string           `json:"job_id"`
	UserID     string           `json:"user_id"`
	Type       domain.JobType   `json:"type"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	ResultURLs []string         `json:"result_urls,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher emits job lifecycle events for downstream consumers. Emission
// is best-effort; callers log and continue on error.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
	Close() error
}

// AMQPPublisher publishes job events to a RabbitMQ topic exchange with
// routing keys of the form "job.<status>".
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   infra.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger infra.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishJobEvent sends one event with a persistent delivery mode.
func (p *AMQPPublisher) PublishJobEvent(ctx context.Context, event JobEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	routingKey := "job." + string(event.Status)
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", routingKey, err)
	}
	p.logger.Debug().Str("job_id", event.JobID).Str("routing_key", routingKey).Msg("events: published")
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops events; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishJobEvent(ctx context.Context, event JobEvent) error { return nil }
func (NoopPublisher) Close() error                                              { return nil }

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
