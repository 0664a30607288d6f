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

const couponsCollection = "coupons"

type couponDocument struct {
	DiscountType   string    `firestore:"discount_type"`
	DiscountValue  int64     `firestore:"discount_value"`
	IsActive       bool      `firestore:"is_active"`
	ValidFrom      time.Time `firestore:"valid_from"`
	ValidUntil     time.Time `firestore:"valid_until"`
	TimesUsed      int64     `firestore:"times_used"`
	UsageLimit     int64     `firestore:"usage_limit,omitempty"`
	MinOrderAmount int64     `firestore:"min_order_amount,omitempty"`
	AppliesToSite  string    `firestore:"applies_to_site,omitempty"`
	UpdatedAt      time.Time `firestore:"updated_at"`
}

// CouponRepository reads coupon definitions keyed by their uppercase code.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	return &CouponRepository{base: base}, nil
}

// FindByCode loads a coupon by code. Codes are case-insensitive.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	doc, err := r.base.Get(ctx, normalized)
	if err != nil {
		return domain.Coupon{}, err
	}
	return couponFromDocument(doc.ID, doc.Data), nil
}

// IncrementUsage bumps times_used by one.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return errors.New("coupon repository: code is required")
	}

	_, err := r.base.Update(ctx, normalized, []firestore.Update{
		{Path: "times_used", Value: firestore.Increment(1)},
		{Path: "updated_at", Value: now.UTC()},
	})
	return err
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func couponFromDocument(code string, doc couponDocument) domain.Coupon {
	site := strings.ToLower(strings.TrimSpace(doc.AppliesToSite))
	if site == "" {
		site = "all"
	}
	return domain.Coupon{
		Code:           code,
		DiscountType:   domain.DiscountType(doc.DiscountType),
		DiscountValue:  doc.DiscountValue,
		IsActive:       doc.IsActive,
		ValidFrom:      doc.ValidFrom,
		ValidUntil:     doc.ValidUntil,
		TimesUsed:      doc.TimesUsed,
		UsageLimit:     doc.UsageLimit,
		MinOrderAmount: doc.MinOrderAmount,
		AppliesToSite:  site,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
