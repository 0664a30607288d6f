package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/platform/auth"
	"github.com/kanili/api/internal/services"
)

type stubOrderService struct {
	quote      services.PriceQuote
	quoteErr   error
	created    domain.Order
	createErr  error
	createCmds []services.CreateOrderCommand
	orders     map[string]domain.Order
	byNumber   map[string]domain.Order
	advanced   domain.Order
	advanceErr error
}

func (s *stubOrderService) Quote(_ context.Context, _ services.QuoteCommand) (services.PriceQuote, error) {
	return s.quote, s.quoteErr
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	s.createCmds = append(s.createCmds, cmd)
	return s.created, s.createErr
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, services.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderService) GetOrderByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	order, ok := s.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, services.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderService) ListOrders(_ context.Context, userID string, _ int) ([]domain.Order, error) {
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *stubOrderService) AdvanceStatus(_ context.Context, _ services.AdvanceStatusCommand) (domain.Order, error) {
	if s.advanceErr != nil {
		return domain.Order{}, s.advanceErr
	}
	return s.advanced, nil
}

func checkoutRouter(orders services.OrderService) chi.Router {
	return NewRouter(
		WithMiddlewares(auth.GatewayIdentity("X-User-ID")),
		WithCheckoutRoutes(NewCheckoutHandlers(orders).Routes),
	)
}

func testQuote() services.PriceQuote {
	return services.PriceQuote{
		Lines: []services.AllocatedLine{
			{
				Line:         domain.CartLine{ProductID: "p1", SKU: "SKU-1", Quantity: 2, Site: domain.SiteUS},
				WeightGrams:  600,
				BaseILS:      19230,
				OverheadILS:  5000,
				VATILS:       4359,
				TotalILS:     28589,
				UnitPriceILS: 14295,
			},
		},
		Breakdown: domain.PriceBreakdown{
			Subtotal: 19230,
			Shipping: 4200,
			Fees:     800,
			VAT:      4359,
			Delivery: 1500,
			Total:    30089,
		},
	}
}

func TestQuoteReturnsBreakdown(t *testing.T) {
	router := checkoutRouter(&stubOrderService{quote: testQuote()})

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/quote", strings.NewReader(`{"coupon_code":"SAVE10"}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body quoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Breakdown.Total != 30089 {
		t.Fatalf("expected total 30089, got %d", body.Breakdown.Total)
	}
	if len(body.Lines) != 1 || body.Lines[0].UnitPriceILS != 14295 {
		t.Fatalf("unexpected lines payload: %+v", body.Lines)
	}
}

func TestQuoteRequiresIdentity(t *testing.T) {
	router := checkoutRouter(&stubOrderService{quote: testQuote()})

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/quote", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestQuoteEmptyCart(t *testing.T) {
	router := checkoutRouter(&stubOrderService{quoteErr: services.ErrEmptyCart})

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/quote", strings.NewReader(`{}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "empty_cart" {
		t.Fatalf("expected empty_cart error, got %v", body["error"])
	}
}

func TestCreateOrderReturnsCreated(t *testing.T) {
	created := domain.Order{
		ID:            "o1",
		OrderNumber:   "KL-2025-00001",
		UserID:        "u1",
		Status:        domain.OrderStatusAwaitingPayment,
		PaymentStatus: domain.PaymentStatusPending,
		Breakdown:     domain.PriceBreakdown{Total: 30089},
		CreatedAt:     time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	svc := &stubOrderService{created: created}
	router := checkoutRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/orders", strings.NewReader(`{"customer_name":"Dana","customer_email":"dana@example.com"}`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Order.OrderNumber != "KL-2025-00001" {
		t.Fatalf("unexpected order number %q", body.Order.OrderNumber)
	}
	if body.Order.Status != string(domain.OrderStatusAwaitingPayment) {
		t.Fatalf("expected awaiting_payment, got %q", body.Order.Status)
	}

	if len(svc.createCmds) != 1 {
		t.Fatalf("expected one create command, got %d", len(svc.createCmds))
	}
	if svc.createCmds[0].UserID != "u1" || svc.createCmds[0].CustomerName != "Dana" {
		t.Fatalf("unexpected command: %+v", svc.createCmds[0])
	}
}

func TestCreateOrderRejectsInvalidJSON(t *testing.T) {
	router := checkoutRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/orders", strings.NewReader(`{not json`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
