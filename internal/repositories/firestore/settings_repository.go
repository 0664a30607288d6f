package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/kanili/api/internal/domain"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

const (
	settingsCollection  = "settings"
	shippingSettingsDoc = "shipping"
	exchangeRatesDoc    = "exchange_rates"
)

type shippingSettingsDocument struct {
	OuterPackGrams       int       `firestore:"outer_pack_grams"`
	CarrierRoundingGrams int       `firestore:"carrier_rounding_grams"`
	ShipRatePerKG        int64     `firestore:"ship_rate_per_kg"`
	FuelSurchargeBP      int64     `firestore:"fuel_surcharge_bp"`
	RemoteAreaBP         int64     `firestore:"remote_area_bp"`
	FixedFees            int64     `firestore:"fixed_fees"`
	VATBP                int64     `firestore:"vat_bp"`
	LastMileFee          int64     `firestore:"last_mile_fee"`
	DomesticDeliveryFee  int64     `firestore:"domestic_delivery_fee"`
	UpdatedAt            time.Time `firestore:"updated_at"`
}

// Rates are stored as decimal strings so operator edits never lose precision.
type exchangeRatesDocument struct {
	USDToILS  string    `firestore:"usd_to_ils"`
	EURToILS  string    `firestore:"eur_to_ils"`
	GBPToILS  string    `firestore:"gbp_to_ils"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// SettingsRepository reads operator-managed pricing configuration from the
// settings collection.
type SettingsRepository struct {
	shipping *pfirestore.BaseRepository[shippingSettingsDocument]
	rates    *pfirestore.BaseRepository[exchangeRatesDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		shipping: pfirestore.NewBaseRepository[shippingSettingsDocument](provider, settingsCollection, nil, nil),
		rates:    pfirestore.NewBaseRepository[exchangeRatesDocument](provider, settingsCollection, nil, nil),
	}, nil
}

// ShippingSettings loads the carrier and tax parameters.
func (r *SettingsRepository) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	if r == nil || r.shipping == nil {
		return domain.ShippingSettings{}, errors.New("settings repository not initialised")
	}

	doc, err := r.shipping.Get(ctx, shippingSettingsDoc)
	if err != nil {
		return domain.ShippingSettings{}, err
	}

	return domain.ShippingSettings{
		OuterPackGrams:       doc.Data.OuterPackGrams,
		CarrierRoundingGrams: doc.Data.CarrierRoundingGrams,
		ShipRatePerKG:        doc.Data.ShipRatePerKG,
		FuelSurchargeBP:      doc.Data.FuelSurchargeBP,
		RemoteAreaBP:         doc.Data.RemoteAreaBP,
		FixedFees:            doc.Data.FixedFees,
		VATBP:                doc.Data.VATBP,
		LastMileFee:          doc.Data.LastMileFee,
		DomesticDeliveryFee:  doc.Data.DomesticDeliveryFee,
	}, nil
}

// ExchangeRates loads the currency conversion table.
func (r *SettingsRepository) ExchangeRates(ctx context.Context) (domain.ExchangeRates, error) {
	if r == nil || r.rates == nil {
		return domain.ExchangeRates{}, errors.New("settings repository not initialised")
	}

	doc, err := r.rates.Get(ctx, exchangeRatesDoc)
	if err != nil {
		return domain.ExchangeRates{}, err
	}

	usd, err := parseRate("usd_to_ils", doc.Data.USDToILS)
	if err != nil {
		return domain.ExchangeRates{}, err
	}
	eur, err := parseRate("eur_to_ils", doc.Data.EURToILS)
	if err != nil {
		return domain.ExchangeRates{}, err
	}
	gbp, err := parseRate("gbp_to_ils", doc.Data.GBPToILS)
	if err != nil {
		return domain.ExchangeRates{}, err
	}

	return domain.ExchangeRates{
		USDToILS:  usd,
		EURToILS:  eur,
		GBPToILS:  gbp,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

func parseRate(field, value string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("settings: parse %s %q: %w", field, value, err)
	}
	if rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("settings: rate %s must be positive, got %s", field, rate)
	}
	return rate, nil
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)
