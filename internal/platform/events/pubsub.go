package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/foodcourt/orders-api/internal/platform/config"
)

// PubSubBroker publishes with ordering keys so events for one order arrive in sequence.
type PubSubBroker struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// NewPubSubBroker dials Pub/Sub, or the emulator when EmulatorHost is set.
func NewPubSubBroker(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*PubSubBroker, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("events: pubsub project id is required")
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: pubsub client: %w", err)
	}
	return NewPubSubBrokerWithClient(client), nil
}

// NewPubSubBrokerWithClient wraps an existing client. The broker owns it afterwards.
func NewPubSubBrokerWithClient(client *pubsub.Client) *PubSubBroker {
	return &PubSubBroker{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Send implements Broker.
func (b *PubSubBroker) Send(ctx context.Context, topic string, payload []byte, partitionKey string) error {
	t, err := b.topic(topic)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: payload, OrderingKey: partitionKey}
	if partitionKey != "" {
		msg.Attributes = map[string]string{PartitionKeyHeader: partitionKey}
	}
	if _, err := t.Publish(ctx, msg).Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		if partitionKey != "" {
			t.ResumePublish(partitionKey)
		}
		return fmt.Errorf("events: pubsub publish to %s: %w", topic, err)
	}
	return nil
}

// Ping checks that the client can reach Pub/Sub.
func (b *PubSubBroker) Ping(ctx context.Context) error {
	it := b.client.Topics(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("events: pubsub ping: %w", err)
	}
	return nil
}

// Close flushes topics and closes the client.
func (b *PubSubBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.Stop()
	}
	return b.client.Close()
}

func (b *PubSubBroker) topic(name string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	t := b.client.Topic(name)
	t.EnableMessageOrdering = true
	b.topics[name] = t
	return t, nil
}
