package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/platform/auth"
	"github.com/kanili/api/internal/services"
)

type stubPointsService struct {
	result     services.RedeemResult
	redeemErr  error
	redeemCmds []services.RedeemCommand
	balance    int64
	balanceErr error
}

func (s *stubPointsService) Redeem(_ context.Context, cmd services.RedeemCommand) (services.RedeemResult, error) {
	s.redeemCmds = append(s.redeemCmds, cmd)
	if s.redeemErr != nil {
		return services.RedeemResult{}, s.redeemErr
	}
	return s.result, nil
}

func (s *stubPointsService) Balance(_ context.Context, _ string) (int64, error) {
	return s.balance, s.balanceErr
}

func pointsRouter(points services.PointsService, orders services.OrderService) chi.Router {
	return NewRouter(
		WithMiddlewares(auth.GatewayIdentity("X-User-ID")),
		WithPointsRoutes(NewPointsHandlers(points, orders).Routes),
	)
}

func TestRedeemDebitsPoints(t *testing.T) {
	points := &stubPointsService{result: services.RedeemResult{
		Entry:      domain.PointsLedgerEntry{ID: "redeem_u1_KL-2025-00001", Amount: -100},
		NewBalance: 400,
	}}
	orders := &stubOrderService{byNumber: map[string]domain.Order{
		"KL-2025-00001": {ID: "o1", OrderNumber: "KL-2025-00001", UserID: "u1", Breakdown: domain.PriceBreakdown{Total: 15000}},
	}}
	router := pointsRouter(points, orders)

	req := httptest.NewRequest(http.MethodPost, "/v1/points/redeem", strings.NewReader(`{"order_number":"KL-2025-00001","points":100}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body redeemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Redeemed != 100 || body.NewBalance != 400 {
		t.Fatalf("unexpected response: %+v", body)
	}

	if len(points.redeemCmds) != 1 {
		t.Fatalf("expected one redeem command, got %d", len(points.redeemCmds))
	}
	if points.redeemCmds[0].OrderTotal != 15000 {
		t.Fatalf("order total must come from the stored order, got %d", points.redeemCmds[0].OrderTotal)
	}
	if points.redeemCmds[0].OrderID != "o1" {
		t.Fatalf("order id must come from the stored order, got %q", points.redeemCmds[0].OrderID)
	}
}

func TestRedeemHidesForeignOrder(t *testing.T) {
	orders := &stubOrderService{byNumber: map[string]domain.Order{
		"KL-2025-00001": {ID: "o1", OrderNumber: "KL-2025-00001", UserID: "someone-else"},
	}}
	router := pointsRouter(&stubPointsService{}, orders)

	req := httptest.NewRequest(http.MethodPost, "/v1/points/redeem", strings.NewReader(`{"order_number":"KL-2025-00001","points":100}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestRedeemAlreadyRedeemedConflict(t *testing.T) {
	points := &stubPointsService{redeemErr: services.ErrAlreadyRedeemed}
	orders := &stubOrderService{byNumber: map[string]domain.Order{
		"KL-2025-00001": {ID: "o1", OrderNumber: "KL-2025-00001", UserID: "u1"},
	}}
	router := pointsRouter(points, orders)

	req := httptest.NewRequest(http.MethodPost, "/v1/points/redeem", strings.NewReader(`{"order_number":"KL-2025-00001","points":100}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "already_redeemed" {
		t.Fatalf("expected already_redeemed error, got %v", body["error"])
	}
}

func TestRedeemLockContentionConflict(t *testing.T) {
	points := &stubPointsService{redeemErr: services.ErrRedemptionInProgress}
	orders := &stubOrderService{byNumber: map[string]domain.Order{
		"KL-2025-00001": {ID: "o1", OrderNumber: "KL-2025-00001", UserID: "u1"},
	}}
	router := pointsRouter(points, orders)

	req := httptest.NewRequest(http.MethodPost, "/v1/points/redeem", strings.NewReader(`{"order_number":"KL-2025-00001","points":100}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestRedeemRequiresPositivePoints(t *testing.T) {
	router := pointsRouter(&stubPointsService{}, &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/points/redeem", strings.NewReader(`{"order_number":"KL-2025-00001","points":0}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestBalanceReturnsCurrentBalance(t *testing.T) {
	router := pointsRouter(&stubPointsService{balance: 720}, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/points/balance", nil)
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body balanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Balance != 720 {
		t.Fatalf("expected balance 720, got %d", body.Balance)
	}
}
