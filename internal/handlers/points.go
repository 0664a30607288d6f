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

const maxPointsBodySize = 4 * 1024

type redeemRequest struct {
	OrderNumber string `json:"order_number"`
	Points      int64  `json:"points"`
}

// PointsHandlers exposes loyalty point redemption and balance reads.
type PointsHandlers struct {
	points services.PointsService
	orders services.OrderService
}

// NewPointsHandlers constructs a new PointsHandlers instance.
func NewPointsHandlers(points services.PointsService, orders services.OrderService) *PointsHandlers {
	return &PointsHandlers{points: points, orders: orders}
}

// Routes registers the /points endpoints.
func (h *PointsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireUser)
	r.Post("/redeem", h.redeem)
	r.Get("/balance", h.balance)
}

func (h *PointsHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.points == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("points_service_unavailable", "points service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestctx.UserID(ctx)

	body, err := readLimitedBody(r, maxPointsBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req redeemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_number is required", http.StatusBadRequest))
		return
	}
	if req.Points <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "points must be positive", http.StatusBadRequest))
		return
	}

	// The order total drives the redemption cap, so it is loaded here rather
	// than trusted from the request body.
	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(order.UserID), userID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	result, err := h.points.Redeem(ctx, services.RedeemCommand{
		UserID:      userID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Points:      req.Points,
		OrderTotal:  order.Breakdown.Total,
	})
	if err != nil {
		writeRedeemError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, redeemResponse{
		OrderNumber: order.OrderNumber,
		Redeemed:    -result.Entry.Amount,
		NewBalance:  result.NewBalance,
		EntryID:     result.Entry.ID,
		CreatedAt:   formatTime(result.Entry.CreatedAt),
	})
}

func (h *PointsHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.points == nil {
		httpx.WriteError(ctx, w, httpx.NewError("points_service_unavailable", "points service unavailable", http.StatusServiceUnavailable))
		return
	}

	balance, err := h.points.Balance(ctx, requestctx.UserID(ctx))
	if err != nil {
		writeRedeemError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, balanceResponse{Balance: balance})
}

type redeemResponse struct {
	OrderNumber string `json:"order_number"`
	Redeemed    int64  `json:"redeemed"`
	NewBalance  int64  `json:"new_balance"`
	EntryID     string `json:"entry_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

func writeRedeemError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRedeemInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRedemptionValidation):
		httpx.WriteError(ctx, w, httpx.NewError("redemption_rejected", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAlreadyRedeemed):
		httpx.WriteError(ctx, w, httpx.NewError("already_redeemed", "points were already redeemed for this order", http.StatusConflict))
	case errors.Is(err, services.ErrRedemptionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("redemption_in_progress", "another redemption is in progress for this user", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("points_error", "failed to process points request", http.StatusInternalServerError))
	}
}
