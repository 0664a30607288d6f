package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/kanili/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err categorises as a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err categorises as a conflicting update.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err categorises as a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Users() UserRepository
	Points() PointsRepository
	Stock() StockRepository
	Coupons() CouponRepository
	Settings() SettingsRepository
	Counters() CounterRepository
	WebhookEvents() WebhookEventRepository
	Health() HealthRepository
}

// CartRepository reads shopper cart lines and clears them once an order settles.
type CartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// OrderPaymentUpdate carries the fields applied when a gateway callback resolves.
type OrderPaymentUpdate struct {
	PaymentStatus     domain.PaymentStatus
	Status            domain.OrderStatus
	ConfirmNum        string
	FreeShippingUntil *time.Time
	PaidAt            *time.Time
	UpdatedAt         time.Time
}

// OrderRepository persists order documents and their lifecycle transitions.
//
// ApplyPointsRedemption stamps the redeemed-points value on the price breakdown
// and lowers the total by the same amount, so the gateway charges the reduced
// sum. The write is skipped when a points value is already recorded.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ApplyPaymentResult(ctx context.Context, orderID string, update OrderPaymentUpdate) (domain.Order, error)
	ApplyPointsRedemption(ctx context.Context, orderID string, pointsValue int64, updatedAt time.Time) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error)
}

// UserRepository reads shopper profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// RedemptionCommit carries the inputs for atomically debiting points against an order.
type RedemptionCommit struct {
	UserID      string
	OrderNumber string
	Points      int64
	Now         time.Time
}

// PointsRepository owns the redemption mutex, the points balance, and the append-only ledger.
//
// AcquireRedemptionLock performs a single conditional write: it succeeds only when
// redeeming_in_progress is false or the existing lock is older than staleAfter.
// CommitRedemption debits the balance, appends the redeem ledger entry, and releases
// the lock in one transaction; the ledger document ID encodes (user, order) so a
// second commit for the same pair fails with ErrAlreadyRedeemed.
type PointsRepository interface {
	AcquireRedemptionLock(ctx context.Context, userID string, now time.Time, staleAfter time.Duration) (domain.User, error)
	ReleaseRedemptionLock(ctx context.Context, userID string) error
	CommitRedemption(ctx context.Context, commit RedemptionCommit) (domain.PointsLedgerEntry, error)
	CreditEarned(ctx context.Context, userID, orderNumber string, points int64, now time.Time) (domain.PointsLedgerEntry, error)
	HasRedeemed(ctx context.Context, userID, orderNumber string) (bool, error)
	ListLedger(ctx context.Context, userID string, limit int) ([]domain.PointsLedgerEntry, error)
}

// StockDecrementResult reports the effect of an atomic stock decrement.
type StockDecrementResult struct {
	SKU       string
	Requested int64
	Applied   int64
	Remaining int64
}

// StockRepository manages locally-warehoused inventory counters.
type StockRepository interface {
	GetBySKU(ctx context.Context, sku string) (domain.LocalStockItem, error)
	// DecrementAvailable atomically reduces quantity_available by quantity, floored at zero.
	DecrementAvailable(ctx context.Context, sku string, quantity int64) (StockDecrementResult, error)
}

// CouponRepository reads coupon definitions and tracks usage counts.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	IncrementUsage(ctx context.Context, code string, now time.Time) error
}

// SettingsRepository reads operator-managed pricing configuration.
type SettingsRepository interface {
	ShippingSettings(ctx context.Context) (domain.ShippingSettings, error)
	ExchangeRates(ctx context.Context) (domain.ExchangeRates, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// WebhookEventRepository persists the immutable audit trail of gateway callbacks.
type WebhookEventRepository interface {
	Append(ctx context.Context, event domain.WebhookEvent) (string, error)
	ListRecent(ctx context.Context, limit int) ([]domain.WebhookEvent, error)
}

// HealthRepository evaluates the readiness of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
