package firestore

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const webhookEventsCollection = "webhook_events"

type webhookEventDocument struct {
	ConfirmNum   string    `firestore:"confirm_num,omitempty"`
	OrderNumber  string    `firestore:"order_number,omitempty"`
	Status       string    `firestore:"status"`
	Amount       int64     `firestore:"amount"`
	CustomerName string    `firestore:"customer_name,omitempty"`
	Email        string    `firestore:"email,omitempty"`
	Phone        string    `firestore:"phone,omitempty"`
	Raw          string    `firestore:"raw"`
	ReceivedAt   time.Time `firestore:"received_at"`
}

// WebhookEventRepository persists the immutable audit trail of gateway
// callbacks. Document IDs are ULIDs so the collection sorts by arrival time.
type WebhookEventRepository struct {
	base    *pfirestore.BaseRepository[webhookEventDocument]
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// WebhookEventOption customises the repository, primarily for tests.
type WebhookEventOption func(*WebhookEventRepository)

// WithWebhookEventClock injects a custom clock.
func WithWebhookEventClock(clock func() time.Time) WebhookEventOption {
	return func(r *WebhookEventRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewWebhookEventRepository constructs a Firestore-backed webhook event repository.
func NewWebhookEventRepository(provider *pfirestore.Provider, opts ...WebhookEventOption) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	repo := &WebhookEventRepository{
		base:    pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventsCollection, nil, nil),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Append writes the event and returns the generated document ID. Events are
// never updated or deleted.
func (r *WebhookEventRepository) Append(ctx context.Context, event domain.WebhookEvent) (string, error) {
	if r == nil || r.base == nil {
		return "", errors.New("webhook event repository not initialised")
	}

	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = r.now().UTC()
	}

	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = r.newID(receivedAt)
	}

	doc := webhookEventDocument{
		ConfirmNum:   strings.TrimSpace(event.ConfirmNum),
		OrderNumber:  strings.TrimSpace(event.OrderNumber),
		Status:       strings.TrimSpace(event.Status),
		Amount:       event.Amount,
		CustomerName: strings.TrimSpace(event.CustomerName),
		Email:        strings.TrimSpace(event.Email),
		Phone:        strings.TrimSpace(event.Phone),
		Raw:          event.Raw,
		ReceivedAt:   receivedAt,
	}

	if _, err := r.base.Create(ctx, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// ListRecent returns the most recent events, newest first.
func (r *WebhookEventRepository) ListRecent(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("webhook event repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("received_at", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	events := make([]domain.WebhookEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.WebhookEvent{
			ID:           doc.ID,
			ConfirmNum:   doc.Data.ConfirmNum,
			OrderNumber:  doc.Data.OrderNumber,
			Status:       doc.Data.Status,
			Amount:       doc.Data.Amount,
			CustomerName: doc.Data.CustomerName,
			Email:        doc.Data.Email,
			Phone:        doc.Data.Phone,
			Raw:          doc.Data.Raw,
			ReceivedAt:   doc.Data.ReceivedAt,
		})
	}
	return events, nil
}

func (r *WebhookEventRepository) newID(ts time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), r.entropy).String()
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)
