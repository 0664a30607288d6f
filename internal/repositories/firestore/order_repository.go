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

const ordersCollection = "orders"

type orderLineDocument struct {
	ProductID    string `firestore:"product_id"`
	SKU          string `firestore:"sku,omitempty"`
	Name         string `firestore:"name"`
	Site         string `firestore:"site"`
	Quantity     int    `firestore:"quantity"`
	UnitPriceILS int64  `firestore:"unit_price_ils"`
	WeightGrams  int    `firestore:"weight_grams,omitempty"`
	FreeShipping bool   `firestore:"free_shipping,omitempty"`
}

type orderBreakdownDocument struct {
	Subtotal    int64  `firestore:"subtotal"`
	Shipping    int64  `firestore:"shipping"`
	Fees        int64  `firestore:"fees"`
	VAT         int64  `firestore:"vat"`
	Delivery    int64  `firestore:"delivery"`
	Discount    int64  `firestore:"discount"`
	PointsValue int64  `firestore:"points_value"`
	Total       int64  `firestore:"total"`
	CouponCode  string `firestore:"coupon_code,omitempty"`
}

type orderDocument struct {
	OrderNumber       string                 `firestore:"order_number"`
	UserID            string                 `firestore:"user_id"`
	Site              string                 `firestore:"site"`
	Status            string                 `firestore:"status"`
	PaymentStatus     string                 `firestore:"payment_status"`
	Lines             []orderLineDocument    `firestore:"lines"`
	Breakdown         orderBreakdownDocument `firestore:"breakdown"`
	CustomerName      string                 `firestore:"customer_name,omitempty"`
	CustomerEmail     string                 `firestore:"customer_email,omitempty"`
	CustomerPhone     string                 `firestore:"customer_phone,omitempty"`
	ConfirmNum        string                 `firestore:"confirm_num,omitempty"`
	FreeShippingUntil *time.Time             `firestore:"free_shipping_until,omitempty"`
	CreatedAt         time.Time              `firestore:"created_at"`
	UpdatedAt         time.Time              `firestore:"updated_at"`
	PaidAt            *time.Time             `firestore:"paid_at,omitempty"`
}

// OrderRepository persists orders and their payment and fulfilment transitions.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document and fails with a conflict when the ID exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order repository: order number is required")
	}

	_, err := r.base.Create(ctx, id, orderToDocument(order))
	return err
}

// FindByID loads an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// FindByOrderNumber resolves an order by the human-facing order number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("order_number", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find", errNotFound("order", number))
	}
	return orderFromDocument(docs[0].ID, docs[0].Data), nil
}

// ListByUser returns the shopper's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("order repository: user id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("user_id", "==", uid).OrderBy("created_at", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

// ApplyPaymentResult transitions the payment axis in a single transaction. The
// write is skipped when the payment status already matches, keeping callback
// retries idempotent at the document level.
func (r *OrderRepository) ApplyPaymentResult(ctx context.Context, orderID string, update repositories.OrderPaymentUpdate) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var applied domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}

		data := doc.Data
		if domain.PaymentStatus(data.PaymentStatus) == update.PaymentStatus {
			applied = orderFromDocument(doc.ID, data)
			return nil
		}

		data.PaymentStatus = string(update.PaymentStatus)
		if update.Status != "" {
			data.Status = string(update.Status)
		}
		if strings.TrimSpace(update.ConfirmNum) != "" {
			data.ConfirmNum = strings.TrimSpace(update.ConfirmNum)
		}
		if update.FreeShippingUntil != nil {
			until := update.FreeShippingUntil.UTC()
			data.FreeShippingUntil = &until
		}
		if update.PaidAt != nil {
			paidAt := update.PaidAt.UTC()
			data.PaidAt = &paidAt
		}
		data.UpdatedAt = update.UpdatedAt.UTC()

		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, data); err != nil {
			return err
		}
		applied = orderFromDocument(doc.ID, data)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.apply_payment", err)
	}
	return applied, nil
}

// ApplyPointsRedemption records the redeemed-points value on the breakdown and
// reduces the total in the same transaction. A second call for the same order
// is a no-op, matching the one-redeem-per-order ledger guard.
func (r *OrderRepository) ApplyPointsRedemption(ctx context.Context, orderID string, pointsValue int64, updatedAt time.Time) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if pointsValue <= 0 {
		return domain.Order{}, errors.New("order repository: points value must be positive")
	}

	var applied domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}

		data := doc.Data
		if data.Breakdown.PointsValue != 0 {
			applied = orderFromDocument(doc.ID, data)
			return nil
		}

		data.Breakdown.PointsValue = pointsValue
		data.Breakdown.Total -= pointsValue
		data.UpdatedAt = updatedAt.UTC()

		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "breakdown.points_value", Value: data.Breakdown.PointsValue},
			{Path: "breakdown.total", Value: data.Breakdown.Total},
			{Path: "updated_at", Value: data.UpdatedAt},
		}); err != nil {
			return err
		}
		applied = orderFromDocument(doc.ID, data)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.apply_points_redemption", err)
	}
	return applied, nil
}

// UpdateStatus advances the fulfilment axis without touching payment fields.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}

		data := doc.Data
		data.Status = string(status)
		data.UpdatedAt = updatedAt.UTC()

		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: data.Status},
			{Path: "updated_at", Value: data.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = orderFromDocument(doc.ID, data)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_status", err)
	}
	return updated, nil
}

func orderToDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID:    line.ProductID,
			SKU:          line.SKU,
			Name:         line.Name,
			Site:         string(line.Site),
			Quantity:     line.Quantity,
			UnitPriceILS: line.UnitPriceILS,
			WeightGrams:  line.WeightGrams,
			FreeShipping: line.FreeShipping,
		})
	}

	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Site:          string(order.Site),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Lines:         lines,
		Breakdown: orderBreakdownDocument{
			Subtotal:    order.Breakdown.Subtotal,
			Shipping:    order.Breakdown.Shipping,
			Fees:        order.Breakdown.Fees,
			VAT:         order.Breakdown.VAT,
			Delivery:    order.Breakdown.Delivery,
			Discount:    order.Breakdown.Discount,
			PointsValue: order.Breakdown.PointsValue,
			Total:       order.Breakdown.Total,
			CouponCode:  order.Breakdown.CouponCode,
		},
		CustomerName:  strings.TrimSpace(order.CustomerName),
		CustomerEmail: strings.TrimSpace(order.CustomerEmail),
		CustomerPhone: strings.TrimSpace(order.CustomerPhone),
		ConfirmNum:    strings.TrimSpace(order.ConfirmNum),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if order.FreeShippingUntil != nil {
		until := order.FreeShippingUntil.UTC()
		doc.FreeShippingUntil = &until
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	return doc
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID:    line.ProductID,
			SKU:          line.SKU,
			Name:         line.Name,
			Site:         domain.Site(line.Site),
			Quantity:     line.Quantity,
			UnitPriceILS: line.UnitPriceILS,
			WeightGrams:  line.WeightGrams,
			FreeShipping: line.FreeShipping,
		})
	}

	return domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		Site:          domain.Site(doc.Site),
		Status:        domain.OrderStatus(doc.Status),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		Lines:         lines,
		Breakdown: domain.PriceBreakdown{
			Subtotal:    doc.Breakdown.Subtotal,
			Shipping:    doc.Breakdown.Shipping,
			Fees:        doc.Breakdown.Fees,
			VAT:         doc.Breakdown.VAT,
			Delivery:    doc.Breakdown.Delivery,
			Discount:    doc.Breakdown.Discount,
			PointsValue: doc.Breakdown.PointsValue,
			Total:       doc.Breakdown.Total,
			CouponCode:  doc.Breakdown.CouponCode,
		},
		CustomerName:      doc.CustomerName,
		CustomerEmail:     doc.CustomerEmail,
		CustomerPhone:     doc.CustomerPhone,
		ConfirmNum:        doc.ConfirmNum,
		FreeShippingUntil: doc.FreeShippingUntil,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		PaidAt:            doc.PaidAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
