package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/repositories"
)

// Rejection reasons surfaced to the shopper.
const (
	CouponRejectUnknown      = "coupon code not found"
	CouponRejectInactive     = "coupon is not active"
	CouponRejectExpired      = "coupon is outside its validity window"
	CouponRejectUsageLimit   = "coupon usage limit reached"
	CouponRejectMinimum      = "order amount is below the coupon minimum"
	CouponRejectWrongSite    = "coupon does not apply to this site"
	CouponRejectInvalidInput = "coupon code is required"
)

// CouponServiceDeps bundles the collaborators required to construct a coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		coupons: deps.Coupons,
		clock:   clock,
	}, nil
}

// Apply runs the validation chain in order; the first failing check wins and
// produces a rejection result, not an error. Errors are reserved for backend
// failures.
func (s *couponService) Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponResult, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return rejected("", CouponRejectInvalidInput), nil
	}

	now := cmd.Now
	if now.IsZero() {
		now = s.clock()
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return rejected(code, CouponRejectUnknown), nil
		}
		return CouponResult{}, err
	}

	if !coupon.IsActive {
		return rejected(code, CouponRejectInactive), nil
	}
	if now.Before(coupon.ValidFrom) || now.After(coupon.ValidUntil) {
		return rejected(code, CouponRejectExpired), nil
	}
	if coupon.UsageLimit > 0 && coupon.TimesUsed >= coupon.UsageLimit {
		return rejected(code, CouponRejectUsageLimit), nil
	}
	if cmd.Subtotal < coupon.MinOrderAmount {
		return rejected(code, CouponRejectMinimum), nil
	}
	if !couponAppliesToSite(coupon, cmd.Site) {
		return rejected(code, CouponRejectWrongSite), nil
	}

	return CouponResult{
		Applied:        true,
		Code:           code,
		DiscountAgorot: discountAmount(coupon, cmd.Subtotal),
	}, nil
}

// RecordUsage bumps the coupon usage counter after an order is created.
func (s *couponService) RecordUsage(ctx context.Context, code string) error {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil
	}
	return s.coupons.IncrementUsage(ctx, trimmed, s.clock().UTC())
}

func discountAmount(coupon domain.Coupon, subtotal int64) int64 {
	switch coupon.DiscountType {
	case domain.DiscountPercentage:
		return decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(coupon.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart()
	case domain.DiscountFixed:
		if coupon.DiscountValue > subtotal {
			return subtotal
		}
		return coupon.DiscountValue
	default:
		return 0
	}
}

func couponAppliesToSite(coupon domain.Coupon, site domain.Site) bool {
	restriction := strings.ToLower(strings.TrimSpace(coupon.AppliesToSite))
	return restriction == "" || restriction == "all" || restriction == string(site)
}

func rejected(code, reason string) CouponResult {
	return CouponResult{Code: code, RejectReason: reason}
}
