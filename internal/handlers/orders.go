package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/platform/auth"
	"github.com/kanili/api/internal/platform/httpx"
	"github.com/kanili/api/internal/platform/requestctx"
	"github.com/kanili/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

type advanceStatusRequest struct {
	Status string `json:"status"`
}

// OrderHandlers exposes order reads and the fulfilment status transition.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireUser)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.advanceStatus)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestctx.UserID(ctx)

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultOrderPageSize
		case parsed > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = parsed
		}
	}

	orders, err := h.orders.ListOrders(ctx, userID, limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestctx.UserID(ctx)

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// Ownership mismatches read as not found so order IDs cannot be probed.
	if !strings.EqualFold(strings.TrimSpace(order.UserID), userID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req advanceStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID: orderID,
		Target:  target,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	UserID            string             `json:"user_id"`
	Site              string             `json:"site"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"payment_status"`
	Lines             []orderLinePayload `json:"lines"`
	Breakdown         breakdownPayload   `json:"breakdown"`
	CustomerName      string             `json:"customer_name,omitempty"`
	CustomerEmail     string             `json:"customer_email,omitempty"`
	CustomerPhone     string             `json:"customer_phone,omitempty"`
	ConfirmNum        string             `json:"confirm_num,omitempty"`
	FreeShippingUntil string             `json:"free_shipping_until,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	PaidAt            string             `json:"paid_at,omitempty"`
}

type orderLinePayload struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name,omitempty"`
	Site         string `json:"site"`
	Quantity     int    `json:"quantity"`
	UnitPriceILS int64  `json:"unit_price_ils"`
	WeightGrams  int    `json:"weight_grams"`
	FreeShipping bool   `json:"free_shipping,omitempty"`
}

type breakdownPayload struct {
	Subtotal    int64  `json:"subtotal"`
	Shipping    int64  `json:"shipping"`
	Fees        int64  `json:"fees"`
	VAT         int64  `json:"vat"`
	Delivery    int64  `json:"delivery"`
	Discount    int64  `json:"discount"`
	PointsValue int64  `json:"points_value"`
	Total       int64  `json:"total"`
	CouponCode  string `json:"coupon_code,omitempty"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Breakdown.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ProductID:    line.ProductID,
			SKU:          line.SKU,
			Name:         line.Name,
			Site:         string(line.Site),
			Quantity:     line.Quantity,
			UnitPriceILS: line.UnitPriceILS,
			WeightGrams:  line.WeightGrams,
			FreeShipping: line.FreeShipping,
		})
	}

	return orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Site:              string(order.Site),
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		Lines:             lines,
		Breakdown:         buildBreakdownPayload(order.Breakdown),
		CustomerName:      order.CustomerName,
		CustomerEmail:     order.CustomerEmail,
		CustomerPhone:     order.CustomerPhone,
		ConfirmNum:        order.ConfirmNum,
		FreeShippingUntil: formatTimePtr(order.FreeShippingUntil),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		PaidAt:            formatTimePtr(order.PaidAt),
	}
}

func buildBreakdownPayload(breakdown domain.PriceBreakdown) breakdownPayload {
	return breakdownPayload{
		Subtotal:    breakdown.Subtotal,
		Shipping:    breakdown.Shipping,
		Fees:        breakdown.Fees,
		VAT:         breakdown.VAT,
		Delivery:    breakdown.Delivery,
		Discount:    breakdown.Discount,
		PointsValue: breakdown.PointsValue,
		Total:       breakdown.Total,
		CouponCode:  breakdown.CouponCode,
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
