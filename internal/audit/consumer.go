package audit

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Consumer consumes audit events and persists them to the store.
type Consumer struct {
	subscriber message.Subscriber
	store      Store
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a new audit consumer.
func NewConsumer(subscriber message.Subscriber, store Store, logger *zap.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		store:      store,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins consuming messages from both topics.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	exceededMsgs, err := c.subscriber.Subscribe(ctx, TopicLimitExceeded)
	if err != nil {
		return err
	}

	degradedMsgs, err := c.subscriber.Subscribe(ctx, TopicLimiterDegraded)
	if err != nil {
		return err
	}

	go c.consumeLoop(ctx, exceededMsgs, degradedMsgs)

	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, exceededMsgs, degradedMsgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-exceededMsgs:
			if !ok {
				return
			}

			c.handleLimitExceeded(ctx, msg)
		case msg, ok := <-degradedMsgs:
			if !ok {
				return
			}

			c.handleLimiterDegraded(ctx, msg)
		}
	}
}

func (c *Consumer) handleLimitExceeded(ctx context.Context, msg *message.Message) {
	var event LimitExceededEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal limit exceeded event",
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	if err := c.store.SaveLimitExceeded(ctx, &event); err != nil {
		c.logger.Error("failed to save limit exceeded event",
			zap.String("key", event.Key),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()

	c.logger.Debug("processed limit exceeded event",
		zap.String("key", event.Key),
	)
}

func (c *Consumer) handleLimiterDegraded(ctx context.Context, msg *message.Message) {
	var event LimiterDegradedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal limiter degraded event",
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	if err := c.store.SaveLimiterDegraded(ctx, &event); err != nil {
		c.logger.Error("failed to save limiter degraded event",
			zap.String("key", event.Key),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()

	c.logger.Debug("processed limiter degraded event",
		zap.String("key", event.Key),
	)
}

// Shutdown stops the consumer and waits for in-flight messages to complete.
func (c *Consumer) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}

	<-c.done

	return c.subscriber.Close()
}
