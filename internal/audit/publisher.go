package audit

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	TopicLimitExceeded   = "ratelimit.exceeded"
	TopicLimiterDegraded = "ratelimit.degraded"
)

// Publisher publishes audit events.
type Publisher struct {
	publisher message.Publisher
}

// NewPublisher creates a new audit publisher.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// PublishLimitExceeded publishes a limit exceeded event.
func (p *Publisher) PublishLimitExceeded(event *LimitExceededEvent) error {
	return p.publish(TopicLimitExceeded, event)
}

// PublishLimiterDegraded publishes a limiter degraded event.
func (p *Publisher) PublishLimiterDegraded(event *LimiterDegradedEvent) error {
	return p.publish(TopicLimiterDegraded, event)
}

func (p *Publisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	return p.publisher.Publish(topic, msg)
}

// Shutdown closes the underlying publisher.
func (p *Publisher) Shutdown() error {
	return p.publisher.Close()
}
