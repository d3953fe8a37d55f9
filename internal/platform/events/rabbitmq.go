package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/foodcourt/orders-api/internal/platform/config"
)

const defaultRabbitExchange = "orders_topic"

// Channel is the subset of *amqp.Channel the broker uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitBroker publishes persistent messages to a topic exchange, routed by topic name.
type RabbitBroker struct {
	exchange string
	now      func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	channel Channel
}

// DialRabbitBroker connects and declares the durable topic exchange.
func DialRabbitBroker(cfg config.RabbitMQConfig) (*RabbitBroker, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("events: rabbitmq url is required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultRabbitExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: rabbitmq declare %s: %w", exchange, err)
	}
	broker := NewRabbitBrokerWithChannel(ch, exchange)
	broker.conn = conn
	return broker, nil
}

// NewRabbitBrokerWithChannel wraps an open channel.
func NewRabbitBrokerWithChannel(ch Channel, exchange string) *RabbitBroker {
	if exchange == "" {
		exchange = defaultRabbitExchange
	}
	return &RabbitBroker{exchange: exchange, channel: ch, now: time.Now}
}

// Send implements Broker. The partition key travels as a header and as the message id.
func (b *RabbitBroker) Send(ctx context.Context, topic string, payload []byte, partitionKey string) error {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return ErrBrokerClosed
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    b.now().UTC(),
		Body:         payload,
	}
	if partitionKey != "" {
		msg.Headers = amqp.Table{PartitionKeyHeader: partitionKey}
		msg.CorrelationId = partitionKey
	}
	if err := ch.PublishWithContext(ctx, b.exchange, topic, false, false, msg); err != nil {
		return fmt.Errorf("events: rabbitmq publish %s/%s: %w", b.exchange, topic, err)
	}
	return nil
}

// Ping reports whether the connection is still open.
func (b *RabbitBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel == nil {
		return ErrBrokerClosed
	}
	if b.conn != nil && b.conn.IsClosed() {
		return errors.New("events: rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel and connection.
func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.channel != nil {
		errs = append(errs, b.channel.Close())
		b.channel = nil
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
		b.conn = nil
	}
	return errors.Join(errs...)
}
