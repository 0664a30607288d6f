package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kanili/api/internal/payments"
	"github.com/kanili/api/internal/platform/httpx"
	"github.com/kanili/api/internal/platform/requestctx"
	"github.com/kanili/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment gateway callbacks. Settlement failures are
// dead-lettered inside the service, so the gateway is acknowledged with 200
// whenever a callback could be parsed; only malformed payloads get a 4xx.
type WebhookHandlers struct {
	settlement services.SettlementService
	logger     *zap.Logger
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(settlement services.SettlementService, logger *zap.Logger) *WebhookHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandlers{settlement: settlement, logger: logger}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentCallback)
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	logger := h.logger
	if ctxLogger := requestctx.Logger(ctx); ctxLogger != requestctx.NoopLogger() {
		logger = ctxLogger
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "callback body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	callback, err := payments.ParseCallback(r.Header.Get("Content-Type"), body)
	if err != nil {
		logger.Warn("unparseable gateway callback", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", "callback payload could not be parsed", http.StatusBadRequest))
		return
	}

	outcome, err := h.settlement.Process(ctx, callback)
	if err != nil {
		// Already routed to the dead-letter topic; ack so the gateway
		// stops redelivering a callback we have safely captured.
		logger.Error("settlement processing failed",
			zap.String("orderNumber", callback.OrderNumber),
			zap.String("confirmNum", callback.ConfirmNum),
			zap.Error(err),
		)
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Result: "accepted"})
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Result:      outcome.Result,
		OrderNumber: outcome.OrderNumber,
		ConfirmNum:  outcome.ConfirmNum,
	})
}

type webhookAckResponse struct {
	Result      string `json:"result"`
	OrderNumber string `json:"order_number,omitempty"`
	ConfirmNum  string `json:"confirm_num,omitempty"`
}
