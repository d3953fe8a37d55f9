package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/foodcourt/orders-api/internal/platform/config"
)

// MessageWriter is the subset of *kafka.Writer the broker uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBroker writes keyed messages. The hash balancer keeps one order on one partition.
type KafkaBroker struct {
	writer  MessageWriter
	brokers []string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewKafkaBroker builds a writer over cfg.Brokers.
func NewKafkaBroker(cfg config.KafkaConfig) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return NewKafkaBrokerWithWriter(writer, cfg.Brokers), nil
}

// NewKafkaBrokerWithWriter wraps writer. brokers is used by Ping.
func NewKafkaBrokerWithWriter(writer MessageWriter, brokers []string) *KafkaBroker {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	return &KafkaBroker{writer: writer, brokers: brokers, dial: dialer.DialContext}
}

// Send implements Broker.
func (b *KafkaBroker) Send(ctx context.Context, topic string, payload []byte, partitionKey string) error {
	msg := kafka.Message{Topic: topic, Value: payload}
	if partitionKey != "" {
		msg.Key = []byte(partitionKey)
		msg.Headers = []kafka.Header{{Key: PartitionKeyHeader, Value: []byte(partitionKey)}}
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write to %s: %w", topic, err)
	}
	return nil
}

// Ping opens a TCP connection to the first reachable broker.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.brokers {
		conn, err := b.dial(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("events: kafka ping: %w", lastErr)
}

// Close flushes pending writes.
func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}
