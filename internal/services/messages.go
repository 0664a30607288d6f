package services

import (
	"context"
	"time"
)

// PaymentReminderMessage is the durable payload for a delayed payment reminder.
// The subscriber holds delivery until NotBefore has passed, so reminders survive
// process restarts.
type PaymentReminderMessage struct {
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	NotBefore   time.Time `json:"not_before"`
	QueuedAt    time.Time `json:"queued_at"`
}

// OrderEmailMessage is the payload for a transactional order email job.
type OrderEmailMessage struct {
	Template    string    `json:"template"`
	OrderNumber string    `json:"order_number"`
	Recipient   string    `json:"recipient"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Email template names understood by the mail worker.
const (
	EmailTemplateOrderConfirmation = "order_confirmation"
	EmailTemplatePaymentFailed     = "payment_failed"
	EmailTemplateAdminNewOrder     = "admin_new_order"
)

// DeadLetterMessage records a gateway callback whose internal processing failed
// after the gateway was already acknowledged.
type DeadLetterMessage struct {
	Source      string    `json:"source"`
	OrderNumber string    `json:"order_number,omitempty"`
	ConfirmNum  string    `json:"confirm_num,omitempty"`
	Reason      string    `json:"reason"`
	Payload     []byte    `json:"payload,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

// ReminderScheduler schedules a payment reminder for later delivery.
type ReminderScheduler interface {
	SchedulePaymentReminder(ctx context.Context, message PaymentReminderMessage) (string, error)
}

// EmailEnqueuer hands transactional email jobs to the mail worker.
type EmailEnqueuer interface {
	EnqueueOrderEmail(ctx context.Context, message OrderEmailMessage) (string, error)
}

// DeadLetterPublisher records failed callback processing for operator replay.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, message DeadLetterMessage) (string, error)
}
