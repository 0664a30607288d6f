package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/kanili/api/internal/domain"
)

const defaultLineWeightGrams = 300

var (
	// ErrEmptyCart signals that allocation was requested for zero lines.
	ErrEmptyCart = errors.New("pricing: cart is empty")
	// ErrUnknownCurrency signals a cart line priced in a currency without a configured rate.
	ErrUnknownCurrency = errors.New("pricing: unknown currency")
	// ErrInvalidSettings signals missing or non-positive carrier settings.
	ErrInvalidSettings = errors.New("pricing: invalid shipping settings")
)

// CostAllocator converts a cart into per-line ILS costs plus order-level
// overhead. It is a pure function of its inputs: the same cart, rates, and
// settings always produce the same allocation, and line totals sum to the
// order total minus the delivery fee.
type CostAllocator struct {
	defaultWeightGrams int
}

// CostAllocatorOption customises the allocator.
type CostAllocatorOption func(*CostAllocator)

// WithDefaultLineWeight overrides the weight assumed for lines without one.
func WithDefaultLineWeight(grams int) CostAllocatorOption {
	return func(a *CostAllocator) {
		if grams > 0 {
			a.defaultWeightGrams = grams
		}
	}
}

// NewCostAllocator constructs the allocator.
func NewCostAllocator(opts ...CostAllocatorOption) *CostAllocator {
	allocator := &CostAllocator{defaultWeightGrams: defaultLineWeightGrams}
	for _, opt := range opts {
		if opt != nil {
			opt(allocator)
		}
	}
	return allocator
}

// Allocate prices the cart. Local-only carts skip conversion and overhead and
// pay a flat domestic delivery fee; any foreign line routes the whole cart
// through the international path.
func (a *CostAllocator) Allocate(lines []domain.CartLine, rates domain.ExchangeRates, settings domain.ShippingSettings) (Allocation, error) {
	if len(lines) == 0 {
		return Allocation{}, ErrEmptyCart
	}

	if allLocal(lines) {
		return a.allocateLocal(lines, settings), nil
	}
	return a.allocateInternational(lines, rates, settings)
}

func (a *CostAllocator) allocateLocal(lines []domain.CartLine, settings domain.ShippingSettings) Allocation {
	allocated := make([]AllocatedLine, 0, len(lines))
	var subtotal int64
	allFree := true

	for _, line := range lines {
		total := line.UnitPrice * int64(line.Quantity)
		subtotal += total
		if !line.FreeShipping {
			allFree = false
		}
		allocated = append(allocated, AllocatedLine{
			Line:         line,
			WeightGrams:  a.lineWeight(line),
			BaseILS:      total,
			TotalILS:     total,
			UnitPriceILS: line.UnitPrice,
		})
	}

	delivery := settings.DomesticDeliveryFee
	if allFree {
		delivery = 0
	}

	return Allocation{
		Lines: allocated,
		Breakdown: domain.PriceBreakdown{
			Subtotal: subtotal,
			Delivery: delivery,
			Total:    subtotal + delivery,
		},
	}
}

func (a *CostAllocator) allocateInternational(lines []domain.CartLine, rates domain.ExchangeRates, settings domain.ShippingSettings) (Allocation, error) {
	if settings.CarrierRoundingGrams <= 0 || settings.ShipRatePerKG < 0 {
		return Allocation{}, ErrInvalidSettings
	}

	weights := make([]int64, len(lines))
	bases := make([]int64, len(lines))
	var totalWeight, subtotal int64

	for i, line := range lines {
		rate, ok := rates.Rate(line.Currency)
		if !ok {
			return Allocation{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, line.Currency)
		}

		base := decimal.NewFromInt(line.UnitPrice).
			Mul(rate).
			Mul(decimal.NewFromInt(int64(line.Quantity))).
			Round(0).IntPart()
		bases[i] = base
		subtotal += base

		weight := int64(a.lineWeight(line)) * int64(line.Quantity)
		weights[i] = weight
		totalWeight += weight
	}

	shipping := a.shippingCost(totalWeight, settings)
	overhead := shipping + settings.FixedFees
	overheads := splitByWeight(overhead, weights, totalWeight)

	allocated := make([]AllocatedLine, 0, len(lines))
	var vatTotal int64
	for i, line := range lines {
		vat := applyBasisPoints(bases[i]+overheads[i], settings.VATBP)
		vatTotal += vat
		lineTotal := bases[i] + overheads[i] + vat

		unitPrice := lineTotal
		if line.Quantity > 0 {
			unitPrice = decimal.NewFromInt(lineTotal).
				Div(decimal.NewFromInt(int64(line.Quantity))).
				Round(0).IntPart()
		}

		allocated = append(allocated, AllocatedLine{
			Line:         line,
			WeightGrams:  a.lineWeight(line),
			BaseILS:      bases[i],
			OverheadILS:  overheads[i],
			VATILS:       vat,
			TotalILS:     lineTotal,
			UnitPriceILS: unitPrice,
		})
	}

	breakdown := domain.PriceBreakdown{
		Subtotal: subtotal,
		Shipping: shipping,
		Fees:     settings.FixedFees,
		VAT:      vatTotal,
		Delivery: settings.LastMileFee,
	}
	breakdown.Total = breakdown.Subtotal + breakdown.Shipping + breakdown.Fees + breakdown.VAT + breakdown.Delivery

	return Allocation{Lines: allocated, Breakdown: breakdown}, nil
}

// shippingCost bills the packaging-inclusive weight rounded up to the carrier
// bracket, then applies fuel and remote-area surcharges multiplicatively.
func (a *CostAllocator) shippingCost(totalWeightGrams int64, settings domain.ShippingSettings) int64 {
	packed := totalWeightGrams + int64(settings.OuterPackGrams)
	bracket := int64(settings.CarrierRoundingGrams)
	billedGrams := ((packed + bracket - 1) / bracket) * bracket

	base := decimal.NewFromInt(billedGrams).
		Div(decimal.NewFromInt(1000)).
		Mul(decimal.NewFromInt(settings.ShipRatePerKG))

	surcharge := decimal.NewFromInt(10000 + settings.FuelSurchargeBP + settings.RemoteAreaBP).
		Div(decimal.NewFromInt(10000))

	return base.Mul(surcharge).Round(0).IntPart()
}

func (a *CostAllocator) lineWeight(line domain.CartLine) int {
	if line.WeightGrams > 0 {
		return line.WeightGrams
	}
	return a.defaultWeightGrams
}

// splitByWeight allocates the overhead proportionally to weight share, giving
// the rounding remainder to the last line so the parts always sum to the
// whole. Zero total weight falls back to an equal split.
func splitByWeight(overhead int64, weights []int64, totalWeight int64) []int64 {
	n := len(weights)
	parts := make([]int64, n)
	if n == 0 || overhead <= 0 {
		return parts
	}

	var assigned int64
	if totalWeight <= 0 {
		share := overhead / int64(n)
		for i := 0; i < n-1; i++ {
			parts[i] = share
			assigned += share
		}
	} else {
		for i := 0; i < n-1; i++ {
			part := overhead * weights[i] / totalWeight
			parts[i] = part
			assigned += part
		}
	}
	parts[n-1] = overhead - assigned
	return parts
}

func applyBasisPoints(amount, bp int64) int64 {
	if bp <= 0 || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bp)).
		Div(decimal.NewFromInt(10000)).
		Round(0).IntPart()
}

func allLocal(lines []domain.CartLine) bool {
	for _, line := range lines {
		if line.Site != domain.SiteLocal {
			return false
		}
	}
	return true
}
