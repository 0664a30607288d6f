package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const cartsCollection = "carts"

type cartLineDocument struct {
	UserID       string    `firestore:"user_id"`
	ProductID    string    `firestore:"product_id"`
	SKU          string    `firestore:"sku,omitempty"`
	Name         string    `firestore:"name"`
	UnitPrice    int64     `firestore:"unit_price"`
	Currency     string    `firestore:"currency"`
	Quantity     int       `firestore:"quantity"`
	WeightGrams  int       `firestore:"weight_grams,omitempty"`
	Site         string    `firestore:"site"`
	FreeShipping bool      `firestore:"free_shipping,omitempty"`
	CreatedAt    time.Time `firestore:"created_at"`
}

// CartRepository reads and clears shopper cart lines stored one document per line.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartLineDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartLineDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// ListByUser returns every cart line owned by the shopper, oldest first.
func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("cart repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("user_id", "==", uid).OrderBy("created_at", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, cartLineFromDocument(doc.ID, doc.Data))
	}
	return lines, nil
}

// DeleteByUser removes every cart line owned by the shopper and reports how many were deleted.
func (r *CartRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return 0, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, errors.New("cart repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("user_id", "==", uid)
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		ref, err := r.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		if _, err := writer.Delete(ref); err != nil {
			return 0, pfirestore.WrapError("carts.delete", err)
		}
	}
	writer.End()

	return len(docs), nil
}

func cartLineFromDocument(id string, doc cartLineDocument) domain.CartLine {
	return domain.CartLine{
		ID:           id,
		UserID:       doc.UserID,
		ProductID:    doc.ProductID,
		SKU:          doc.SKU,
		Name:         doc.Name,
		UnitPrice:    doc.UnitPrice,
		Currency:     domain.NormalizeCurrency(doc.Currency),
		Quantity:     doc.Quantity,
		WeightGrams:  doc.WeightGrams,
		Site:         domain.Site(strings.ToLower(strings.TrimSpace(doc.Site))),
		FreeShipping: doc.FreeShipping,
		CreatedAt:    doc.CreatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
