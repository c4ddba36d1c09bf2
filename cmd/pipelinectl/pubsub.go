package main

import (
	"context"

	"cloud.google.com/go/pubsub"

	"github.com/Lllllllleong/documentmetadataflow/internal/services"
)

// subscriptionReceiver adapts a Pub/Sub subscription to services.Receiver.
type subscriptionReceiver struct {
	sub *pubsub.Subscription
}

func newSubscriptionReceiver(client *pubsub.Client, subscriptionID string, concurrency int) *subscriptionReceiver {
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = concurrency
	return &subscriptionReceiver{sub: sub}
}

func (r *subscriptionReceiver) Receive(ctx context.Context, fn func(context.Context, services.Delivery)) error {
	return r.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		fn(ctx, pubsubDelivery{m: m})
	})
}

type pubsubDelivery struct {
	m *pubsub.Message
}

func (d pubsubDelivery) Data() []byte                  { return d.m.Data }
func (d pubsubDelivery) Attributes() map[string]string { return d.m.Attributes }
func (d pubsubDelivery) Ack()                          { d.m.Ack() }
func (d pubsubDelivery) Nack()                         { d.m.Nack() }
