package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// NewPubSubClient creates a Pub/Sub client for projectID.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return client, nil
}

// Publisher publishes to one topic and waits for the server ack.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher creates a publisher for topicID.
func NewPublisher(client *pubsub.Client, topicID string) *Publisher {
	return &Publisher{topic: client.Topic(topicID)}
}

// Publish sends one message and returns its server assigned ID.
func (p *Publisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's goroutines.
func (p *Publisher) Stop() {
	p.topic.Stop()
}
