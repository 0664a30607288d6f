package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const stockCollection = "local_stock"

type stockDocument struct {
	ProductID         string    `firestore:"product_id,omitempty"`
	QuantityAvailable int64     `firestore:"quantity_available"`
	UpdatedAt         time.Time `firestore:"updated_at"`
}

// StockRepository manages locally warehoused inventory counters, keyed by SKU.
type StockRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil),
	}, nil
}

// GetBySKU loads the stock record for the given SKU.
func (r *StockRepository) GetBySKU(ctx context.Context, sku string) (domain.LocalStockItem, error) {
	if r == nil || r.base == nil {
		return domain.LocalStockItem{}, errors.New("stock repository not initialised")
	}
	key := strings.TrimSpace(sku)
	if key == "" {
		return domain.LocalStockItem{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "sku is required", nil)
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.LocalStockItem{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock record %s not found", key), err)
		}
		return domain.LocalStockItem{}, err
	}
	return stockItemFromDocument(doc.ID, doc.Data), nil
}

// DecrementAvailable atomically reduces quantity_available by quantity, floored
// at zero. A missing record counts as zero stock rather than an error, so a
// settlement never fails because an operator forgot to seed inventory.
func (r *StockRepository) DecrementAvailable(ctx context.Context, sku string, quantity int64) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("stock repository not initialised")
	}
	key := strings.TrimSpace(sku)
	if key == "" {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "sku is required", nil)
	}
	if quantity <= 0 {
		return repositories.StockDecrementResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}

	result := repositories.StockDecrementResult{SKU: key, Requested: quantity}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(ctx, tx, key)
		if err != nil {
			if repositories.IsNotFound(err) {
				result.Applied = 0
				result.Remaining = 0
				return nil
			}
			return err
		}

		available := doc.Data.QuantityAvailable
		applied := quantity
		if applied > available {
			applied = available
		}
		if applied < 0 {
			applied = 0
		}

		remaining := available - applied
		ref, err := r.base.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "quantity_available", Value: remaining},
			{Path: "updated_at", Value: time.Now().UTC()},
		}); err != nil {
			return err
		}

		result.Applied = applied
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return repositories.StockDecrementResult{}, stockErr
		}
		return repositories.StockDecrementResult{}, pfirestore.WrapError("stock.decrement", err)
	}
	return result, nil
}

func stockItemFromDocument(sku string, doc stockDocument) domain.LocalStockItem {
	return domain.LocalStockItem{
		SKU:               sku,
		ProductID:         doc.ProductID,
		QuantityAvailable: doc.QuantityAvailable,
		UpdatedAt:         doc.UpdatedAt,
	}
}

var _ repositories.StockRepository = (*StockRepository)(nil)
