// Package events delivers lifecycle event payloads to the configured message broker.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foodcourt/orders-api/internal/platform/config"
)

// PartitionKeyHeader carries the partition key on brokers without native keys.
const PartitionKeyHeader = "partition-key"

// ErrBrokerClosed is returned by Send after Close.
var ErrBrokerClosed = errors.New("events: broker closed")

// Broker publishes an already-encoded payload. Messages sharing a partition key keep their order.
type Broker interface {
	Send(ctx context.Context, topic string, payload []byte, partitionKey string) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the broker selected by cfg.Broker.
func New(ctx context.Context, cfg config.EventsConfig) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker)) {
	case config.BrokerPubSub, "":
		return NewPubSubBroker(ctx, cfg.PubSub)
	case config.BrokerKafka:
		return NewKafkaBroker(cfg.Kafka)
	case config.BrokerRabbitMQ:
		return DialRabbitBroker(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("events: unsupported broker %q", cfg.Broker)
	}
}
