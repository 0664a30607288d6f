package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kanili/api/internal/services"
)

func newTestClient(t *testing.T, srv *pstest.Server) *pubsub.Client {
	t.Helper()
	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubSubReminderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "payment-reminders")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubReminderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReminderPublisher: %v", err)
	}

	notBefore := time.Date(2025, 5, 6, 9, 25, 0, 0, time.UTC)
	msg := services.PaymentReminderMessage{
		OrderNumber: "KL-2025-00042",
		UserID:      "user_42",
		Email:       "shopper@example.com",
		NotBefore:   notBefore,
		QueuedAt:    notBefore.Add(-25 * time.Minute),
	}

	if _, err := publisher.SchedulePaymentReminder(ctx, msg); err != nil {
		t.Fatalf("SchedulePaymentReminder: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.PaymentReminderMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != msg.OrderNumber || payload.UserID != msg.UserID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["notBefore"]; attr != notBefore.Format(time.RFC3339) {
		t.Fatalf("expected notBefore attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "KL-2025-00042" {
		t.Fatalf("expected orderNumber attribute, got %q", attr)
	}
}

func TestPubSubDeadLetterPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "settlement-deadletter")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubDeadLetterPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDeadLetterPublisher: %v", err)
	}

	msg := services.DeadLetterMessage{
		Source:      "payment_webhook",
		OrderNumber: "KL-2025-00042",
		ConfirmNum:  "CN-100",
		Reason:      "order not found",
		Payload:     []byte(`{"status":"approved"}`),
		QueuedAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishDeadLetter(ctx, msg); err != nil {
		t.Fatalf("PublishDeadLetter: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["confirmNum"]; attr != "CN-100" {
		t.Fatalf("expected confirmNum attribute, got %q", attr)
	}

	var payload services.DeadLetterMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Reason != "order not found" {
		t.Fatalf("unexpected reason %q", payload.Reason)
	}
}

func TestPubSubEmailPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "order-emails")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEmailPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEmailPublisher: %v", err)
	}

	msg := services.OrderEmailMessage{
		Template:    "payment_confirmed",
		OrderNumber: "KL-2025-00042",
		Recipient:   "shopper@example.com",
		QueuedAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.EnqueueOrderEmail(ctx, msg); err != nil {
		t.Fatalf("EnqueueOrderEmail: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["template"]; attr != "payment_confirmed" {
		t.Fatalf("expected template attribute, got %q", attr)
	}
}
