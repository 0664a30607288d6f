package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kanili/api/internal/platform/auth"
	"github.com/kanili/api/internal/platform/httpx"
	"github.com/kanili/api/internal/platform/requestctx"
	"github.com/kanili/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

type quoteRequest struct {
	CouponCode string `json:"coupon_code"`
}

type createOrderRequest struct {
	CouponCode    string `json:"coupon_code"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

// CheckoutHandlers exposes cart pricing and order creation for authenticated shoppers.
type CheckoutHandlers struct {
	orders services.OrderService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(orders services.OrderService) *CheckoutHandlers {
	return &CheckoutHandlers{orders: orders}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireUser)
	r.Post("/quote", h.quote)
	r.Post("/orders", h.createOrder)
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestctx.UserID(ctx)

	var req quoteRequest
	if !decodeCheckoutBody(ctx, w, r, &req) {
		return
	}

	quote, err := h.orders.Quote(ctx, services.QuoteCommand{
		UserID:     userID,
		CouponCode: strings.TrimSpace(req.CouponCode),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildQuoteResponse(quote))
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestctx.UserID(ctx)

	var req createOrderRequest
	if !decodeCheckoutBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:        userID,
		CouponCode:    strings.TrimSpace(req.CouponCode),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func decodeCheckoutBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

type quoteResponse struct {
	Lines        []quoteLinePayload `json:"lines"`
	Breakdown    breakdownPayload   `json:"breakdown"`
	CouponReject string             `json:"coupon_reject,omitempty"`
}

type quoteLinePayload struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name,omitempty"`
	Site         string `json:"site"`
	Quantity     int    `json:"quantity"`
	WeightGrams  int    `json:"weight_grams"`
	BaseILS      int64  `json:"base_ils"`
	OverheadILS  int64  `json:"overhead_ils"`
	VATILS       int64  `json:"vat_ils"`
	TotalILS     int64  `json:"total_ils"`
	UnitPriceILS int64  `json:"unit_price_ils"`
}

func buildQuoteResponse(quote services.PriceQuote) quoteResponse {
	lines := make([]quoteLinePayload, 0, len(quote.Lines))
	for _, allocated := range quote.Lines {
		lines = append(lines, quoteLinePayload{
			ProductID:    allocated.Line.ProductID,
			SKU:          allocated.Line.SKU,
			Name:         allocated.Line.Name,
			Site:         string(allocated.Line.Site),
			Quantity:     allocated.Line.Quantity,
			WeightGrams:  allocated.WeightGrams,
			BaseILS:      allocated.BaseILS,
			OverheadILS:  allocated.OverheadILS,
			VATILS:       allocated.VATILS,
			TotalILS:     allocated.TotalILS,
			UnitPriceILS: allocated.UnitPriceILS,
		})
	}
	return quoteResponse{
		Lines:        lines,
		Breakdown:    buildBreakdownPayload(quote.Breakdown),
		CouponReject: quote.CouponReject,
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no lines to check out", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownCurrency):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_currency", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidSettings):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing configuration is incomplete", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
