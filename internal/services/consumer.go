package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Delivery is one bus message awaiting settlement.
type Delivery interface {
	Data() []byte
	Attributes() map[string]string
	Ack()
	Nack()
}

// Receiver streams deliveries from a subscription until ctx is done.
type Receiver interface {
	Receive(ctx context.Context, fn func(context.Context, Delivery)) error
}

// MessageHandler processes one message. A nil error acknowledges it.
type MessageHandler func(ctx context.Context, data []byte, attrs map[string]string) error

// Consumer runs a MessageHandler over a Receiver on a bounded worker pool.
type Consumer struct {
	name     string
	receiver Receiver
	handler  MessageHandler
	pool     *ants.Pool
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer running at most concurrency handlers at once.
func NewConsumer(name string, receiver Receiver, handler MessageHandler, concurrency int, logger *slog.Logger) (*Consumer, error) {
	if receiver == nil || handler == nil {
		return nil, fmt.Errorf("consumer %s requires a receiver and a handler", name)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("consumer", name)

	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(p any) {
		logger.Error("Message handler panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Consumer{
		name:     name,
		receiver: receiver,
		handler:  handler,
		pool:     pool,
		logger:   logger,
	}, nil
}

// Run receives until ctx is cancelled or the receiver fails, then waits for
// in-flight handlers and releases the pool.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started.", "concurrency", c.pool.Cap())
	err := c.receiver.Receive(ctx, c.dispatch)
	c.wg.Wait()
	c.pool.Release()
	if err != nil {
		return fmt.Errorf("consumer %s: %w", c.name, err)
	}
	c.logger.Info("Consumer stopped.")
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, d Delivery) {
	c.wg.Add(1)
	err := c.pool.Submit(func() {
		defer c.wg.Done()
		c.process(ctx, d)
	})
	if err != nil {
		c.wg.Done()
		c.logger.Error("Failed to schedule message. Requesting redelivery.", "error", err)
		d.Nack()
	}
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	settled := false
	defer func() {
		if !settled {
			d.Nack()
		}
	}()
	err := c.handler(ctx, d.Data(), d.Attributes())
	settled = true
	if err != nil {
		d.Nack()
		return
	}
	d.Ack()
}
