package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kanili/api/internal/payments"
	"github.com/kanili/api/internal/services"
)

type stubSettlementService struct {
	outcome    services.SettlementOutcome
	processErr error
	callbacks  []payments.GatewayCallback
}

func (s *stubSettlementService) Process(_ context.Context, callback payments.GatewayCallback) (services.SettlementOutcome, error) {
	s.callbacks = append(s.callbacks, callback)
	if s.processErr != nil {
		return services.SettlementOutcome{}, s.processErr
	}
	return s.outcome, nil
}

func webhookRouter(settlement services.SettlementService) http.Handler {
	return NewRouter(
		WithWebhookRoutes(NewWebhookHandlers(settlement, zap.NewNop()).Routes),
	)
}

func TestPaymentCallbackAcksApproved(t *testing.T) {
	settlement := &stubSettlementService{outcome: services.SettlementOutcome{
		Result:      services.SettlementCompleted,
		OrderNumber: "KL-2025-00042",
		ConfirmNum:  "CONF-123",
	}}
	router := webhookRouter(settlement)

	payload := `{"status":"approved","order_id":"KL-2025-00042","amount":"150.00","confirm_num":"CONF-123"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Result != services.SettlementCompleted {
		t.Fatalf("expected %s, got %q", services.SettlementCompleted, body.Result)
	}

	if len(settlement.callbacks) != 1 {
		t.Fatalf("expected one processed callback, got %d", len(settlement.callbacks))
	}
	if settlement.callbacks[0].AmountAgorot != 15000 {
		t.Fatalf("expected amount 15000 agorot, got %d", settlement.callbacks[0].AmountAgorot)
	}
}

func TestPaymentCallbackParsesFormBody(t *testing.T) {
	settlement := &stubSettlementService{outcome: services.SettlementOutcome{Result: services.SettlementFailed}}
	router := webhookRouter(settlement)

	payload := "status=declined&order_id=KL-2025-00042&amount=150.00"
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(settlement.callbacks) != 1 || settlement.callbacks[0].Status != payments.CallbackStatusDeclined {
		t.Fatalf("unexpected callbacks: %+v", settlement.callbacks)
	}
}

func TestPaymentCallbackRejectsGarbage(t *testing.T) {
	settlement := &stubSettlementService{}
	router := webhookRouter(settlement)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(`{"status":"maybe"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(settlement.callbacks) != 0 {
		t.Fatal("unparseable callback must not reach settlement")
	}
}

func TestPaymentCallbackAcksInternalFailure(t *testing.T) {
	settlement := &stubSettlementService{processErr: errors.New("firestore unavailable")}
	router := webhookRouter(settlement)

	payload := `{"status":"approved","order_id":"KL-2025-00042","amount":"150.00","confirm_num":"CONF-123"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("gateway must be acked on internal failure, got %d", rr.Code)
	}

	var body webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Result != "accepted" {
		t.Fatalf("expected accepted, got %q", body.Result)
	}
}
