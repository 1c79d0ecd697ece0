package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bakejoy/api/internal/services"
)

func TestPaymentHandlersCallbackSuccessRedirect(t *testing.T) {
	var captured services.PaymentCallbackCommand
	settlement := &stubSettlementService{
		callbackFunc: func(ctx context.Context, cmd services.PaymentCallbackCommand) (services.SettlementResult, error) {
			captured = cmd
			return services.SettlementResult{Settled: true, OrderID: "order-1", RefID: "ref-42"}, nil
		},
	}

	handler := NewPaymentHandlers(settlement, "https://shop.bakejoy.example/payment/result", "https://shop.bakejoy.example/payment/failed")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000012345&Status=OK", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	if captured.Authority != "A0000012345" || captured.GatewayStatus != "OK" {
		t.Fatalf("unexpected command captured %#v", captured)
	}

	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect target: %v", err)
	}
	if location.Host != "shop.bakejoy.example" || location.Path != "/payment/result" {
		t.Fatalf("unexpected redirect target %q", location.String())
	}
	query := location.Query()
	if query.Get("order_id") != "order-1" || query.Get("ref_id") != "ref-42" || query.Get("authority") != "A0000012345" {
		t.Fatalf("unexpected redirect params %v", query)
	}
}

func TestPaymentHandlersCallbackFailedPaymentRedirect(t *testing.T) {
	settlement := &stubSettlementService{
		callbackFunc: func(ctx context.Context, cmd services.PaymentCallbackCommand) (services.SettlementResult, error) {
			return services.SettlementResult{Settled: false, OrderID: "order-1"}, nil
		},
	}

	handler := NewPaymentHandlers(settlement, "https://shop.bakejoy.example/payment/result", "https://shop.bakejoy.example/payment/failed")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000012345&Status=NOK", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect target: %v", err)
	}
	if location.Path != "/payment/failed" {
		t.Fatalf("expected failure page, got %q", location.String())
	}
	if reason := location.Query().Get("reason"); reason != "payment_failed" {
		t.Fatalf("expected reason payment_failed, got %q", reason)
	}
}

func TestPaymentHandlersCallbackUnknownAuthority(t *testing.T) {
	settlement := &stubSettlementService{
		callbackFunc: func(ctx context.Context, cmd services.PaymentCallbackCommand) (services.SettlementResult, error) {
			return services.SettlementResult{}, services.ErrTransactionNotFound
		},
	}

	handler := NewPaymentHandlers(settlement, "", "https://shop.bakejoy.example/payment/failed")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000099999&Status=OK", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect target: %v", err)
	}
	if reason := location.Query().Get("reason"); reason != "transaction_not_found" {
		t.Fatalf("expected reason transaction_not_found, got %q", reason)
	}
}

func TestPaymentHandlersCallbackMissingAuthority(t *testing.T) {
	handler := NewPaymentHandlers(&stubSettlementService{}, "", "")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?Status=OK", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersCallbackWithoutStorefrontAnswersJSON(t *testing.T) {
	settlement := &stubSettlementService{
		callbackFunc: func(ctx context.Context, cmd services.PaymentCallbackCommand) (services.SettlementResult, error) {
			return services.SettlementResult{Settled: true, OrderID: "order-1", RefID: "ref-42"}, nil
		},
	}

	handler := NewPaymentHandlers(settlement, "", "")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000012345&Status=OK", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if contentType := rr.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected JSON response, got %q", contentType)
	}
}

func TestPaymentHandlersCallbackRateLimited(t *testing.T) {
	settlement := &stubSettlementService{
		callbackFunc: func(ctx context.Context, cmd services.PaymentCallbackCommand) (services.SettlementResult, error) {
			return services.SettlementResult{Settled: true, OrderID: "order-1"}, nil
		},
	}

	handler := NewPaymentHandlers(settlement, "", "")
	handler.limiter = newSimpleRateLimiter(1, callbackRateWindow, nil)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	first := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000012345", nil)
	first.RemoteAddr = "203.0.113.9:51000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/payments/callback?Authority=A0000012345", nil)
	second.RemoteAddr = "203.0.113.9:51001"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestPaymentHandlersCallbackServiceUnavailable(t *testing.T) {
	handler := NewPaymentHandlers(nil, "", "")
	req := httptest.NewRequest(http.MethodGet, "/payments/callback", nil)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
