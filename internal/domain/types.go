package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Site identifies the storefront a line item was sourced from. Foreign sites
// require international shipping; local items ship from the domestic warehouse.
type Site string

const (
	SiteUS    Site = "us"
	SiteEU    Site = "eu"
	SiteUK    Site = "uk"
	SiteLocal Site = "local"
)

// IsForeign reports whether items from this site incur international overhead.
func (s Site) IsForeign() bool {
	switch s {
	case SiteUS, SiteEU, SiteUK:
		return true
	default:
		return false
	}
}

// Currency is the pricing currency of a cart line. All orders settle in ILS.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
	CurrencyILS Currency = "ils"
)

// NormalizeCurrency lowercases and trims a currency code.
func NormalizeCurrency(code string) Currency {
	return Currency(strings.ToLower(strings.TrimSpace(code)))
}

// OrderStatus is the fulfilment lifecycle axis of an order.
type OrderStatus string

const (
	OrderStatusAwaitingPayment    OrderStatus = "awaiting_payment"
	OrderStatusPending            OrderStatus = "pending"
	OrderStatusOrdered            OrderStatus = "ordered"
	OrderStatusWarehouse          OrderStatus = "warehouse"
	OrderStatusShippingToIsrael   OrderStatus = "shipping_to_israel"
	OrderStatusInIsrael           OrderStatus = "in_israel"
	OrderStatusShippingToCustomer OrderStatus = "shipping_to_customer"
	OrderStatusDelivered          OrderStatus = "delivered"
)

// PaymentStatus is the payment axis, independent of fulfilment status.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// CartLine is a shopper-owned line item awaiting checkout. Lines are folded
// into an Order at checkout and destroyed once payment succeeds.
type CartLine struct {
	ID           string
	UserID       string
	ProductID    string
	SKU          string
	Name         string
	UnitPrice    int64 // minor units of Currency
	Currency     Currency
	Quantity     int
	WeightGrams  int   // 0 means unknown; the allocator applies a default
	Site         Site
	FreeShipping bool
	CreatedAt    time.Time
}

// OrderLine is the frozen copy of a CartLine annotated with its final ILS price.
type OrderLine struct {
	ProductID    string
	SKU          string
	Name         string
	Site         Site
	Quantity     int
	UnitPriceILS int64 // agorot, final per-unit price including allocated overhead and VAT
	WeightGrams  int
	FreeShipping bool
}

// PriceBreakdown records how an order total was assembled, in agorot.
type PriceBreakdown struct {
	Subtotal    int64
	Shipping    int64
	Fees        int64 // customs clearance and fixed handling fees
	VAT         int64
	Delivery    int64 // domestic last-mile (or flat local) delivery
	Discount    int64 // coupon, as a positive amount
	PointsValue int64 // redeemed points, as a positive amount
	Total       int64
	CouponCode  string
}

// Order is created once per checkout attempt and never deleted.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Site              Site
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	Lines             []OrderLine
	Breakdown         PriceBreakdown
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	ConfirmNum        string // gateway reference, set on payment completion
	FreeShippingUntil *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

// User carries the loyalty balance and the redemption lock fields.
type User struct {
	ID                  string
	Email               string
	Name                string
	PointsBalance       int64
	ClubMember          bool
	RedeemingInProgress bool
	RedeemingLockedAt   *time.Time
	UpdatedAt           time.Time
}

// LedgerEntryType distinguishes point accruals from redemptions.
type LedgerEntryType string

const (
	LedgerEntryEarn   LedgerEntryType = "earn"
	LedgerEntryRedeem LedgerEntryType = "redeem"
)

// PointsLedgerEntry is an append-only record of a balance change. At most one
// redeem entry may exist per (user, order number) pair.
type PointsLedgerEntry struct {
	ID        string
	UserID    string
	Type      LedgerEntryType
	Amount    int64  // signed: negative for redeem
	Source    string // order number the change is tied to
	Balance   int64  // balance after applying Amount
	CreatedAt time.Time
}

// LocalStockItem tracks domestically warehoused inventory.
type LocalStockItem struct {
	SKU               string
	ProductID         string
	QuantityAvailable int64
	UpdatedAt         time.Time
}

// DiscountType selects the coupon discount formula.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is read-only from the settlement core's perspective.
type Coupon struct {
	Code           string
	DiscountType   DiscountType
	DiscountValue  int64  // percent for percentage coupons, agorot for fixed
	IsActive       bool
	ValidFrom      time.Time
	ValidUntil     time.Time
	TimesUsed      int64
	UsageLimit     int64  // 0 means unlimited
	MinOrderAmount int64  // agorot
	AppliesToSite  string // "all" or a Site value
}

// ShippingSettings holds the carrier and tax parameters used by cost allocation.
// Percentages are basis points so arithmetic stays exact.
type ShippingSettings struct {
	OuterPackGrams       int
	CarrierRoundingGrams int   // carrier billing bracket, e.g. 500
	ShipRatePerKG        int64 // agorot per kg
	FuelSurchargeBP      int64
	RemoteAreaBP         int64
	FixedFees            int64 // agorot, customs clearance + handling per order
	VATBP                int64
	LastMileFee          int64 // agorot, international orders
	DomesticDeliveryFee  int64 // agorot, local-only orders
}

// ExchangeRates maps source currencies to ILS.
type ExchangeRates struct {
	USDToILS  decimal.Decimal
	EURToILS  decimal.Decimal
	GBPToILS  decimal.Decimal
	UpdatedAt time.Time
}

// Rate returns the ILS conversion rate for the given currency. ILS converts
// at identity. The boolean is false for unknown currencies.
func (r ExchangeRates) Rate(currency Currency) (decimal.Decimal, bool) {
	switch currency {
	case CurrencyUSD:
		return r.USDToILS, true
	case CurrencyEUR:
		return r.EURToILS, true
	case CurrencyGBP:
		return r.GBPToILS, true
	case CurrencyILS:
		return decimal.NewFromInt(1), true
	default:
		return decimal.Decimal{}, false
	}
}

// WebhookEvent is the immutable audit record of a gateway callback.
type WebhookEvent struct {
	ID           string
	ConfirmNum   string
	OrderNumber  string
	Status       string
	Amount       int64
	CustomerName string
	Email        string
	Phone        string
	Raw          string // opaque gateway payload, persisted verbatim
	ReceivedAt   time.Time
}
