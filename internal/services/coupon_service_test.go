package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/kanili/api/internal/domain"
)

type stubNotFoundError struct{ msg string }

func (e stubNotFoundError) Error() string       { return e.msg }
func (e stubNotFoundError) IsNotFound() bool    { return true }
func (e stubNotFoundError) IsConflict() bool    { return false }
func (e stubNotFoundError) IsUnavailable() bool { return false }

type stubCouponRepo struct {
	coupons    map[string]domain.Coupon
	usageCalls []string
	findErr    error
}

func (s *stubCouponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	if s.findErr != nil {
		return domain.Coupon{}, s.findErr
	}
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, stubNotFoundError{msg: "coupon not found"}
	}
	return coupon, nil
}

func (s *stubCouponRepo) IncrementUsage(_ context.Context, code string, _ time.Time) error {
	s.usageCalls = append(s.usageCalls, code)
	return nil
}

func couponFixture() domain.Coupon {
	return domain.Coupon{
		Code:           "SAVE10",
		DiscountType:   domain.DiscountPercentage,
		DiscountValue:  10,
		IsActive:       true,
		ValidFrom:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:     time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		UsageLimit:     100,
		TimesUsed:      5,
		MinOrderAmount: 1000,
		AppliesToSite:  "all",
	}
}

func newCouponService(t *testing.T, repo *stubCouponRepo) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: repo,
		Clock: func() time.Time {
			return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}
	return svc
}

func TestCouponApplyPercentage(t *testing.T) {
	repo := &stubCouponRepo{coupons: map[string]domain.Coupon{"SAVE10": couponFixture()}}
	svc := newCouponService(t, repo)

	result, err := svc.Apply(context.Background(), ApplyCouponCommand{Code: "save10", Subtotal: 43190, Site: domain.SiteUS})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected coupon applied, got rejection %q", result.RejectReason)
	}
	if result.DiscountAgorot != 4319 {
		t.Fatalf("expected discount 4319, got %d", result.DiscountAgorot)
	}
}

func TestCouponApplyFixedNeverExceedsSubtotal(t *testing.T) {
	coupon := couponFixture()
	coupon.DiscountType = domain.DiscountFixed
	coupon.DiscountValue = 50000
	coupon.MinOrderAmount = 0
	repo := &stubCouponRepo{coupons: map[string]domain.Coupon{"SAVE10": coupon}}
	svc := newCouponService(t, repo)

	result, err := svc.Apply(context.Background(), ApplyCouponCommand{Code: "SAVE10", Subtotal: 4200, Site: domain.SiteLocal})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if result.DiscountAgorot != 4200 {
		t.Fatalf("fixed discount must be capped at the subtotal, got %d", result.DiscountAgorot)
	}
}

func TestCouponValidationOrder(t *testing.T) {
	base := couponFixture()

	cases := []struct {
		name   string
		mutate func(*domain.Coupon)
		cmd    ApplyCouponCommand
		want   string
	}{
		{
			name:   "unknown code",
			mutate: nil,
			cmd:    ApplyCouponCommand{Code: "NOPE", Subtotal: 5000, Site: domain.SiteUS},
			want:   CouponRejectUnknown,
		},
		{
			name:   "inactive",
			mutate: func(c *domain.Coupon) { c.IsActive = false },
			cmd:    ApplyCouponCommand{Code: "SAVE10", Subtotal: 5000, Site: domain.SiteUS},
			want:   CouponRejectInactive,
		},
		{
			name:   "expired",
			mutate: func(c *domain.Coupon) { c.ValidUntil = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) },
			cmd:    ApplyCouponCommand{Code: "SAVE10", Subtotal: 5000, Site: domain.SiteUS},
			want:   CouponRejectExpired,
		},
		{
			name:   "usage limit",
			mutate: func(c *domain.Coupon) { c.TimesUsed = 100 },
			cmd:    ApplyCouponCommand{Code: "SAVE10", Subtotal: 5000, Site: domain.SiteUS},
			want:   CouponRejectUsageLimit,
		},
		{
			name:   "below minimum",
			mutate: nil,
			cmd:    ApplyCouponCommand{Code: "SAVE10", Subtotal: 500, Site: domain.SiteUS},
			want:   CouponRejectMinimum,
		},
		{
			name:   "wrong site",
			mutate: func(c *domain.Coupon) { c.AppliesToSite = "eu" },
			cmd:    ApplyCouponCommand{Code: "SAVE10", Subtotal: 5000, Site: domain.SiteUS},
			want:   CouponRejectWrongSite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := base
			if tc.mutate != nil {
				tc.mutate(&coupon)
			}
			repo := &stubCouponRepo{coupons: map[string]domain.Coupon{"SAVE10": coupon}}
			svc := newCouponService(t, repo)

			result, err := svc.Apply(context.Background(), tc.cmd)
			if err != nil {
				t.Fatalf("Apply returned error: %v", err)
			}
			if result.Applied {
				t.Fatal("expected rejection")
			}
			if result.RejectReason != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, result.RejectReason)
			}
		})
	}
}

func TestCouponUnlimitedUsage(t *testing.T) {
	coupon := couponFixture()
	coupon.UsageLimit = 0
	coupon.TimesUsed = 100000
	repo := &stubCouponRepo{coupons: map[string]domain.Coupon{"SAVE10": coupon}}
	svc := newCouponService(t, repo)

	result, err := svc.Apply(context.Background(), ApplyCouponCommand{Code: "SAVE10", Subtotal: 5000, Site: domain.SiteUS})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !result.Applied {
		t.Fatalf("zero usage limit means unlimited, got rejection %q", result.RejectReason)
	}
}

func TestCouponRecordUsage(t *testing.T) {
	repo := &stubCouponRepo{coupons: map[string]domain.Coupon{"SAVE10": couponFixture()}}
	svc := newCouponService(t, repo)

	if err := svc.RecordUsage(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("RecordUsage returned error: %v", err)
	}
	if len(repo.usageCalls) != 1 || repo.usageCalls[0] != "SAVE10" {
		t.Fatalf("expected one usage increment for SAVE10, got %v", repo.usageCalls)
	}
}
