package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bakejoy/api/internal/services"
)

func TestInternalHandlersNextCounterValue(t *testing.T) {
	var captured services.CounterCommand
	system := &stubSystemService{
		counterFunc: func(ctx context.Context, cmd services.CounterCommand) (int64, error) {
			captured = cmd
			return 2042, nil
		},
	}

	handler := NewInternalHandlers(nil, system)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/counters/orders:next", strings.NewReader(`{"step":2}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminContext(req))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CounterID != "orders" || captured.Step != 2 {
		t.Fatalf("unexpected command captured %#v", captured)
	}

	var resp counterNextResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.CounterID != "orders" || resp.Value != 2042 {
		t.Fatalf("unexpected payload %#v", resp)
	}
}

func TestInternalHandlersNextCounterValueWithoutBody(t *testing.T) {
	system := &stubSystemService{
		counterFunc: func(ctx context.Context, cmd services.CounterCommand) (int64, error) {
			if cmd.Step != 0 {
				t.Fatalf("expected default step, got %d", cmd.Step)
			}
			return 2043, nil
		},
	}

	handler := NewInternalHandlers(nil, system)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/counters/orders:next", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminContext(req))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestInternalHandlersNextCounterValueUnauthenticated(t *testing.T) {
	handler := NewInternalHandlers(nil, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/counters/orders:next", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestInternalHandlersNextCounterValueServiceUnavailable(t *testing.T) {
	handler := NewInternalHandlers(nil, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/counters/orders:next", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminContext(req))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
