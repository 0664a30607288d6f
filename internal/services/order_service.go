package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/repositories"
)

const orderCounterPrefix = "orders"

var (
	// ErrOrderInvalidInput signals missing or malformed order parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound signals the order does not exist.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrInvalidTransition signals an illegal fulfilment status jump.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
)

// fulfilmentNext maps each status to its only legal admin-driven successor.
// awaiting_payment advances to pending exclusively through payment
// confirmation, so it has no entry here.
var fulfilmentNext = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:            domain.OrderStatusOrdered,
	domain.OrderStatusOrdered:            domain.OrderStatusWarehouse,
	domain.OrderStatusWarehouse:          domain.OrderStatusShippingToIsrael,
	domain.OrderStatusShippingToIsrael:   domain.OrderStatusInIsrael,
	domain.OrderStatusInIsrael:           domain.OrderStatusShippingToCustomer,
	domain.OrderStatusShippingToCustomer: domain.OrderStatusDelivered,
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Carts     repositories.CartRepository
	Settings  repositories.SettingsRepository
	Counters  repositories.CounterRepository
	Allocator *CostAllocator
	Coupons   CouponService
	Logger    *zap.Logger
	Clock     func() time.Time
	IDGen     func() string
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	settings  repositories.SettingsRepository
	counters  repositories.CounterRepository
	allocator *CostAllocator
	coupons   CouponService
	logger    *zap.Logger
	clock     func() time.Time
	newID     func() string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}

	allocator := deps.Allocator
	if allocator == nil {
		allocator = NewCostAllocator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &orderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		settings:  deps.Settings,
		counters:  deps.Counters,
		allocator: allocator,
		coupons:   deps.Coupons,
		logger:    logger,
		clock:     clock,
		newID:     idGen,
	}, nil
}

// Quote prices the shopper's current cart without creating anything.
func (s *orderService) Quote(ctx context.Context, cmd QuoteCommand) (PriceQuote, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PriceQuote{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	allocation, err := s.priceCart(ctx, userID)
	if err != nil {
		return PriceQuote{}, err
	}

	quote := PriceQuote{
		Lines:     allocation.Lines,
		Breakdown: allocation.Breakdown,
	}

	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		result, err := s.coupons.Apply(ctx, ApplyCouponCommand{
			Code:     code,
			Subtotal: allocation.Breakdown.Subtotal,
			Site:     cartSite(allocation.Lines),
			Now:      s.clock().UTC(),
		})
		if err != nil {
			return PriceQuote{}, fmt.Errorf("orders: apply coupon: %w", err)
		}
		if result.Applied {
			quote.Breakdown.Discount = result.DiscountAgorot
			quote.Breakdown.CouponCode = result.Code
			quote.Breakdown.Total -= result.DiscountAgorot
		} else {
			quote.CouponReject = result.RejectReason
		}
	}

	return quote, nil
}

// CreateOrder folds the cart into an awaiting_payment order with frozen lines
// and an order number from the yearly counter. Cart lines survive until
// payment succeeds, so an abandoned attempt can be retried.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	quote, err := s.Quote(ctx, QuoteCommand{UserID: userID, CouponCode: cmd.CouponCode})
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock().UTC()
	orderNumber, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	lines := make([]domain.OrderLine, 0, len(quote.Lines))
	for _, allocated := range quote.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID:    allocated.Line.ProductID,
			SKU:          allocated.Line.SKU,
			Name:         allocated.Line.Name,
			Site:         allocated.Line.Site,
			Quantity:     allocated.Line.Quantity,
			UnitPriceILS: allocated.UnitPriceILS,
			WeightGrams:  allocated.WeightGrams,
			FreeShipping: allocated.Line.FreeShipping,
		})
	}

	order := domain.Order{
		ID:            s.newID(),
		OrderNumber:   orderNumber,
		UserID:        userID,
		Site:          cartSite(quote.Lines),
		Status:        domain.OrderStatusAwaitingPayment,
		PaymentStatus: domain.PaymentStatusPending,
		Lines:         lines,
		Breakdown:     quote.Breakdown,
		CustomerName:  strings.TrimSpace(cmd.CustomerName),
		CustomerEmail: strings.TrimSpace(cmd.CustomerEmail),
		CustomerPhone: strings.TrimSpace(cmd.CustomerPhone),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("orders: insert: %w", err)
	}

	if quote.Breakdown.CouponCode != "" {
		if err := s.coupons.RecordUsage(ctx, quote.Breakdown.CouponCode); err != nil {
			s.logger.Warn("record coupon usage failed",
				zap.String("orderNumber", orderNumber),
				zap.String("coupon", quote.Breakdown.CouponCode),
				zap.Error(err),
			)
		}
	}

	return order, nil
}

// GetOrder loads an order by document ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// GetOrderByNumber loads an order by its public order number.
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders returns the shopper's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.orders.ListByUser(ctx, uid, limit)
}

// AdvanceStatus moves the order one step along the fulfilment chain. The
// awaiting_payment to pending edge belongs to payment confirmation and is
// rejected here.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	next, ok := fulfilmentNext[order.Status]
	if !ok || next != cmd.Target {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, cmd.Target)
	}

	updated, err := s.orders.UpdateStatus(ctx, id, cmd.Target, s.clock().UTC())
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: update status: %w", err)
	}
	return updated, nil
}

func (s *orderService) priceCart(ctx context.Context, userID string) (Allocation, error) {
	lines, err := s.carts.ListByUser(ctx, userID)
	if err != nil {
		return Allocation{}, fmt.Errorf("orders: load cart: %w", err)
	}
	if len(lines) == 0 {
		return Allocation{}, ErrEmptyCart
	}

	settings, err := s.settings.ShippingSettings(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("orders: load shipping settings: %w", err)
	}
	rates, err := s.settings.ExchangeRates(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("orders: load exchange rates: %w", err)
	}

	return s.allocator.Allocate(lines, rates, settings)
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s_%d", orderCounterPrefix, year), 1)
	if err != nil {
		return "", fmt.Errorf("orders: next order number: %w", err)
	}
	return fmt.Sprintf("KL-%d-%05d", year, seq), nil
}

// cartSite reports the order-level site tag: local when every line is local,
// otherwise the first foreign line's site.
func cartSite(lines []AllocatedLine) domain.Site {
	for _, allocated := range lines {
		if allocated.Line.Site.IsForeign() {
			return allocated.Line.Site
		}
	}
	return domain.SiteLocal
}
