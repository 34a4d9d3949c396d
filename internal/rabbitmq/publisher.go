package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"social-chat/internal/observability"
	"social-chat/internal/telemetry"
)

const (
	ModeAMQP = "amqp"
	ModeNoop = "noop"
)

var ErrPublisherClosed = errors.New("rabbitmq: publisher closed")

// Publisher publishes chat, websocket and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to the broker and declares the topic exchange. Any
// failure leaves the service running with a publisher that only logs.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		return disabled("empty amqp url", logger)
	}

	conn, ch, err := open(amqpURL, exchange)
	if err != nil {
		return disabled(err.Error(), logger)
	}

	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

func open(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

func disabled(reason string, logger *zap.Logger) noopPublisher {
	logger.Warn("rabbitmq disabled, events are logged only", zap.String("reason", reason))
	return noopPublisher{reason: reason, logger: logger}
}

type amqpPublisher struct {
	mu       sync.Mutex
	closed   bool
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      toTable(headers),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the connection, which also closes its channel.
func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

func (p *amqpPublisher) mode() (string, string) { return ModeAMQP, "" }

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	return table
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	if p.logger != nil {
		p.logger.Debug("rabbitmq noop publish", append(describe(event), zap.String("routing_key", routingKey))...)
	}
	return nil
}

func (noopPublisher) Close() error { return nil }

func (p noopPublisher) mode() (string, string) { return ModeNoop, p.reason }

// describe pulls log fields out of the envelopes the service publishes.
func describe(event any) []zap.Field {
	switch env := event.(type) {
	case telemetry.AuditEnvelope:
		return []zap.Field{zap.String("event_type", env.EventType), zap.String("level", string(env.Payload.Level)), zap.String("request_id", env.RequestID)}
	case observability.EventEnvelope:
		return []zap.Field{zap.String("event_type", env.EventType), zap.String("event_name", env.EventName)}
	default:
		return nil
	}
}

type moder interface {
	mode() (string, string)
}

// PublisherMode reports "amqp" or "noop" for startup logging.
func PublisherMode(p Publisher) string {
	if m, ok := p.(moder); ok {
		mode, _ := m.mode()
		return mode
	}
	return "unknown"
}

// PublisherNoopReason explains why the broker is not in use, if it is not.
func PublisherNoopReason(p Publisher) string {
	if m, ok := p.(moder); ok {
		_, reason := m.mode()
		return reason
	}
	return ""
}
