package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/wiki-mirror/internal/syncer"
)

// PubSubConfig names the topic batches are published to and the
// subscription workers receive them from.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
	Workers      int
}

// PubSub spawns batches as Pub/Sub messages and consumes them from a
// subscription. Trace context travels in message attributes.
type PubSub struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
}

// NewPubSub connects to Pub/Sub and checks that the topic exists.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger, opts ...option.ClientOption) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p := NewPubSubWithClient(client, cfg, logger)
	exists, err := p.topic.Exists(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to check for topic existence: %w", err), client.Close())
	}
	if !exists {
		return nil, errors.Join(
			fmt.Errorf("pubsub topic '%s' does not exist in project '%s'", cfg.Topic, cfg.ProjectID),
			client.Close(),
		)
	}
	return p, nil
}

// NewPubSubWithClient wraps an existing client (primarily for testing).
func NewPubSubWithClient(client *pubsub.Client, cfg PubSubConfig, logger *zap.Logger) *PubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PubSub{
		client:     client,
		topic:      client.Topic(cfg.Topic),
		propagator: otel.GetTextMapPropagator(),
		logger:     logger.Named("pubsub"),
	}
	if cfg.Subscription != "" {
		p.sub = client.Subscription(cfg.Subscription)
		p.sub.ReceiveSettings.NumGoroutines = 1
		if cfg.Workers > 0 {
			p.sub.ReceiveSettings.MaxOutstandingMessages = cfg.Workers
		}
	}
	return p
}

// Spawn implements syncer.Spawner. It waits for the server to accept the
// message so a checkpointed start-batch step implies a durable spawn.
func (p *PubSub) Spawn(ctx context.Context, batch syncer.BatchParams) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"batch_instance_id": batch.InstanceID},
	}
	p.propagator.Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish batch %s: %w", batch.InstanceID, err)
	}
	p.logger.Debug("batch published", zap.String("batch_instance_id", batch.InstanceID), zap.String("message_id", id))
	return nil
}

// Consume implements Consumer. Undecodable messages are acked and dropped;
// handler failures are nacked for redelivery.
func (p *PubSub) Consume(ctx context.Context, h Handler) error {
	if p.sub == nil {
		return errors.New("pubsub subscription is not configured")
	}
	err := p.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		ctx = p.propagator.Extract(ctx, &pubsubCarrier{attrs: m.Attributes})
		var batch syncer.BatchParams
		if err := json.Unmarshal(m.Data, &batch); err != nil {
			p.logger.Error("dropping undecodable batch message", zap.String("message_id", m.ID), zap.Error(err))
			m.Ack()
			return
		}
		if err := h(ctx, batch); err != nil {
			p.logger.Error("batch failed; nacking",
				zap.String("batch_instance_id", batch.InstanceID),
				zap.Error(err),
			)
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive batches: %w", err)
	}
	return nil
}

// Close stops the publisher and closes the client connection.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
