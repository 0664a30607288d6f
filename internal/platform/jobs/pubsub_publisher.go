package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/kanili/api/internal/services"
)

// PubSubReminderPublisher publishes durable payment reminder jobs to a Pub/Sub topic.
// A subscriber delivers the reminder once the not-before time has passed, so the
// schedule survives process restarts.
type PubSubReminderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReminderPublisher constructs a Pub/Sub backed reminder publisher.
func NewPubSubReminderPublisher(topic *pubsub.Topic) (*PubSubReminderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reminder publisher: topic is required")
	}
	return &PubSubReminderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SchedulePaymentReminder enqueues a reminder message on the configured topic.
func (p *PubSubReminderPublisher) SchedulePaymentReminder(ctx context.Context, message services.PaymentReminderMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reminder publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal payment reminder: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "userId", message.UserID)
	if !message.NotBefore.IsZero() {
		attrs["notBefore"] = message.NotBefore.UTC().Format(time.RFC3339)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish payment reminder: %w", err)
	}
	return id, nil
}

// PubSubEmailPublisher publishes transactional email jobs to a Pub/Sub topic.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email job publisher.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// EnqueueOrderEmail enqueues an order email message on the configured topic.
func (p *PubSubEmailPublisher) EnqueueOrderEmail(ctx context.Context, message services.OrderEmailMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub email publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order email: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", message.Template)
	setAttr(attrs, "orderNumber", message.OrderNumber)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order email: %w", err)
	}
	return id, nil
}

// PubSubDeadLetterPublisher records webhook events whose internal processing failed
// after the gateway was acknowledged, so operators can replay them.
type PubSubDeadLetterPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDeadLetterPublisher constructs a Pub/Sub backed dead-letter publisher.
func NewPubSubDeadLetterPublisher(topic *pubsub.Topic) (*PubSubDeadLetterPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub deadletter publisher: topic is required")
	}
	return &PubSubDeadLetterPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishDeadLetter enqueues the failed event on the configured topic.
func (p *PubSubDeadLetterPublisher) PublishDeadLetter(ctx context.Context, message services.DeadLetterMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub deadletter publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal dead letter: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "source", message.Source)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "confirmNum", strings.TrimSpace(message.ConfirmNum))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish dead letter: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
