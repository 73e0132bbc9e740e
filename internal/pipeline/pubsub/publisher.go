// Package pubsub implements an output stage that publishes records to a
// Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// FieldMessageID is added to records published by Publisher.
const FieldMessageID = "message_id"

// Config names the destination topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New dials Pub/Sub and returns a publisher for cfg.Topic.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p, err := NewWithClient(client, cfg.Topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

// NewWithClient builds a publisher that takes ownership of client.
func NewWithClient(client *pubsub.Client, topic string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Publisher{client: client, topic: client.Topic(topic)}, nil
}

// Open verifies the topic exists.
func (p *Publisher) Open(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", p.topic.ID(), err)
	}
	if !ok {
		return fmt.Errorf("topic %s does not exist", p.topic.ID())
	}
	return nil
}

// ProcessRecord publishes rec as JSON and waits for the server ack.
func (p *Publisher) ProcessRecord(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if url, ok := rec["url"].(string); ok {
		msg.Attributes["url"] = url
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish message: %w", err)
	}
	out := maps.Clone(rec)
	out[FieldMessageID] = id
	return out, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close(context.Context) error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
