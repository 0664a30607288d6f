package services

import (
	"context"
	"time"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/payments"
)

// AllocatedLine annotates a cart line with its final ILS allocation. TotalILS
// carries the exact line total; UnitPriceILS is the rounded per-unit figure
// frozen onto the order line.
type AllocatedLine struct {
	Line         domain.CartLine
	WeightGrams  int
	BaseILS      int64
	OverheadILS  int64
	VATILS       int64
	TotalILS     int64
	UnitPriceILS int64
}

// Allocation is the CostAllocator output: per-line figures plus the order-level
// breakdown. The sum of line totals equals Subtotal+Shipping+Fees+VAT exactly.
type Allocation struct {
	Lines     []AllocatedLine
	Breakdown domain.PriceBreakdown
}

// QuoteCommand requests a full price breakdown for the shopper's current cart.
type QuoteCommand struct {
	UserID     string
	CouponCode string
}

// PriceQuote is the checkout preview returned before order creation.
type PriceQuote struct {
	Lines        []AllocatedLine
	Breakdown    domain.PriceBreakdown
	CouponReject string
}

// CreateOrderCommand folds the shopper's cart into a new order.
type CreateOrderCommand struct {
	UserID        string
	CouponCode    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// AdvanceStatusCommand moves an order one step along the fulfilment chain.
type AdvanceStatusCommand struct {
	OrderID string
	Target  domain.OrderStatus
}

// OrderService governs order creation and the fulfilment state machine.
type OrderService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (PriceQuote, error)
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error)
}

// ApplyCouponCommand validates a discount code against a computed subtotal.
type ApplyCouponCommand struct {
	Code     string
	Subtotal int64
	Site     domain.Site
	Now      time.Time
}

// CouponResult reports the discount, or the user-facing reason the code was
// rejected. Rejection is a result, not an error, so callers can proceed
// without the coupon.
type CouponResult struct {
	Applied        bool
	Code           string
	DiscountAgorot int64
	RejectReason   string
}

// CouponService validates and prices discount codes.
type CouponService interface {
	Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponResult, error)
	RecordUsage(ctx context.Context, code string) error
}

// RedeemCommand debits loyalty points against a specific order. OrderTotal is
// the order's pre-redemption total; it drives the redeemable cap.
type RedeemCommand struct {
	UserID      string
	OrderID     string
	OrderNumber string
	Points      int64
	OrderTotal  int64
}

// RedeemResult reports the ledger entry and the balance after the debit.
type RedeemResult struct {
	Entry      domain.PointsLedgerEntry
	NewBalance int64
}

// PointsService guards loyalty-point redemption with the per-user lock.
type PointsService interface {
	Redeem(ctx context.Context, cmd RedeemCommand) (RedeemResult, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// StockAdjustment reports the effect of settling one local order line.
type StockAdjustment struct {
	SKU       string
	Requested int64
	Applied   int64
	Remaining int64
	Missing   bool
}

// StockService commits inventory decrements for locally warehoused lines.
type StockService interface {
	CommitOrderLines(ctx context.Context, order domain.Order) []StockAdjustment
}

// SettlementOutcome summarises how a gateway callback was handled.
type SettlementOutcome struct {
	Result      string
	OrderNumber string
	ConfirmNum  string
}

// Settlement outcome values.
const (
	SettlementCompleted    = "payment_completed"
	SettlementFailed       = "payment_failed"
	SettlementDuplicate    = "duplicate"
	SettlementInFlight     = "in_flight"
	SettlementUnknownOrder = "unknown_order"
)

// SettlementService orchestrates the payment webhook: audit, idempotency,
// order transition, stock, points, cart cleanup, and notifications. Process
// returns an error only for internal failures that were already routed to the
// dead-letter topic; the HTTP handler acknowledges the gateway regardless.
type SettlementService interface {
	Process(ctx context.Context, callback payments.GatewayCallback) (SettlementOutcome, error)
}
