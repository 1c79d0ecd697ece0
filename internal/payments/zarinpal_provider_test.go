package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*ZarinpalProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewZarinpalProvider(ZarinpalProviderConfig{
		MerchantID:  "merchant-xyz",
		BaseURL:     server.URL,
		StartPayURL: server.URL + "/StartPay",
	})
	if err != nil {
		t.Fatalf("NewZarinpalProvider: %v", err)
	}
	return provider, server
}

func TestZarinpalAuthorizeSuccess(t *testing.T) {
	var captured map[string]any
	provider, server := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/request.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"code":100,"message":"Success","authority":"A000012345","fee_type":"Merchant","fee":1000},"errors":[]}`)
	})

	result, err := provider.Authorize(context.Background(), AuthorizeRequest{
		Amount:      2500000,
		Description: "settlement for order #BAKE-2001",
		CallbackURL: "https://shop.example.com/payment/callback",
		Email:       "sara@example.com",
		Mobile:      "09121234567",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if captured["merchant_id"] != "merchant-xyz" {
		t.Fatalf("expected merchant id forwarded, got %v", captured["merchant_id"])
	}
	if captured["amount"] != float64(2500000) {
		t.Fatalf("expected amount 2500000, got %v", captured["amount"])
	}
	metadata, _ := captured["metadata"].(map[string]any)
	if metadata["mobile"] != "09121234567" {
		t.Fatalf("expected mobile in metadata, got %v", metadata)
	}

	if result.Authority != "A000012345" {
		t.Fatalf("unexpected authority %q", result.Authority)
	}
	if result.PaymentURL != server.URL+"/StartPay/A000012345" {
		t.Fatalf("unexpected payment url %q", result.PaymentURL)
	}
	if result.Raw == "" {
		t.Fatal("expected raw response retained")
	}
}

func TestZarinpalAuthorizeDeclined(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[],"errors":{"code":-9,"message":"The input params invalid"}}`)
	})

	result, err := provider.Authorize(context.Background(), AuthorizeRequest{
		Amount:      1000,
		CallbackURL: "https://shop.example.com/payment/callback",
	})
	if !errors.Is(err, ErrGatewayDeclined) {
		t.Fatalf("expected ErrGatewayDeclined, got %v", err)
	}
	if !strings.Contains(result.Raw, `"code":-9`) {
		t.Fatalf("expected raw body on declined result, got %q", result.Raw)
	}
}

func TestZarinpalAuthorizeValidation(t *testing.T) {
	provider, _ := newTestProvider(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("gateway must not be called")
	})

	if _, err := provider.Authorize(context.Background(), AuthorizeRequest{Amount: 0, CallbackURL: "x"}); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := provider.Authorize(context.Background(), AuthorizeRequest{Amount: 1000}); err == nil {
		t.Fatal("expected error for missing callback url")
	}
}

func TestZarinpalVerifySettled(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		if payload["authority"] != "A000012345" {
			t.Fatalf("expected authority forwarded, got %v", payload["authority"])
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"code":100,"message":"Verified","card_pan":"502229******1234","ref_id":201000012345,"fee_type":"Merchant","fee":1000},"errors":[]}`)
	})

	result, err := provider.Verify(context.Background(), VerifyRequest{Amount: 2500000, Authority: "A000012345"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Code != 100 {
		t.Fatalf("expected code 100, got %d", result.Code)
	}
	if result.RefID != "201000012345" {
		t.Fatalf("unexpected ref id %q", result.RefID)
	}
	if result.CardPAN != "502229******1234" {
		t.Fatalf("unexpected card pan %q", result.CardPAN)
	}
}

func TestZarinpalVerifyDeclinedCodeIsResultNotError(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[],"errors":{"code":-51,"message":"Session is not valid"}}`)
	})

	result, err := provider.Verify(context.Background(), VerifyRequest{Amount: 2500000, Authority: "A000012345"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Code != -51 {
		t.Fatalf("expected code -51, got %d", result.Code)
	}
}

func TestZarinpalServerErrorTripsTransportError(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := provider.Verify(context.Background(), VerifyRequest{Amount: 1000, Authority: "A1"}); err == nil {
		t.Fatal("expected transport error for 502")
	}
}

func TestManagerResolvesDefaultProvider(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"code":100,"authority":"A1"},"errors":[]}`)
	})

	manager, err := NewManager(map[string]Provider{"zarinpal": provider})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	result, err := manager.Authorize(context.Background(), PaymentContext{}, AuthorizeRequest{
		Amount:      1000,
		CallbackURL: "https://shop.example.com/cb",
	})
	if err != nil {
		t.Fatalf("Authorize via manager: %v", err)
	}
	if result.Authority != "A1" {
		t.Fatalf("unexpected authority %q", result.Authority)
	}

	if _, err := manager.Authorize(context.Background(), PaymentContext{PreferredProvider: "unknown"}, AuthorizeRequest{
		Amount:      1000,
		CallbackURL: "https://shop.example.com/cb",
	}); err != nil {
		t.Fatalf("expected fallback to default provider, got %v", err)
	}
}
