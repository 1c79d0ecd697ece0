package handlers

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bakejoy/api/internal/platform/httpx"
	"github.com/bakejoy/api/internal/services"
)

// PaymentHandlers exposes the unauthenticated payment gateway callback. The
// gateway redirects the customer's browser here after the payment page, so
// responses are redirects back to the storefront rather than JSON.
type PaymentHandlers struct {
	settlement services.SettlementService
	successURL string
	failureURL string
	limiter    rateLimiter
}

const (
	callbackRateLimit  = 30
	callbackRateWindow = time.Minute
)

// PaymentOption customises payment handler behaviour.
type PaymentOption func(*PaymentHandlers)

// WithCallbackRateLimit overrides the per-IP callback rate limit. A
// non-positive value disables limiting.
func WithCallbackRateLimit(perMinute int) PaymentOption {
	return func(h *PaymentHandlers) {
		h.limiter = newSimpleRateLimiter(perMinute, callbackRateWindow, nil)
	}
}

// NewPaymentHandlers constructs handlers for the gateway return leg.
func NewPaymentHandlers(settlement services.SettlementService, successURL, failureURL string, opts ...PaymentOption) *PaymentHandlers {
	handlers := &PaymentHandlers{
		settlement: settlement,
		successURL: strings.TrimSpace(successURL),
		failureURL: strings.TrimSpace(failureURL),
		limiter:    newSimpleRateLimiter(callbackRateLimit, callbackRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/callback", h.callback)
}

func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(remoteIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many callback requests", http.StatusTooManyRequests))
		return
	}

	query := r.URL.Query()
	authority := strings.TrimSpace(query.Get("Authority"))
	gatewayStatus := strings.TrimSpace(query.Get("Status"))
	if authority == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Authority query parameter is required", http.StatusBadRequest))
		return
	}

	result, err := h.settlement.HandleCallback(ctx, services.PaymentCallbackCommand{
		Authority:     authority,
		GatewayStatus: gatewayStatus,
	})
	if err != nil {
		h.redirect(w, r, h.failureURL, map[string]string{
			"authority": authority,
			"reason":    callbackFailureReason(err),
		})
		return
	}

	if !result.Settled {
		h.redirect(w, r, h.failureURL, map[string]string{
			"authority": authority,
			"order_id":  result.OrderID,
			"reason":    "payment_failed",
		})
		return
	}

	h.redirect(w, r, h.successURL, map[string]string{
		"authority": authority,
		"order_id":  result.OrderID,
		"ref_id":    result.RefID,
	})
}

func (h *PaymentHandlers) redirect(w http.ResponseWriter, r *http.Request, target string, params map[string]string) {
	parsed, err := url.Parse(target)
	if err != nil || strings.TrimSpace(target) == "" {
		// No storefront to send the customer back to; answer with JSON.
		writeJSONResponse(w, http.StatusOK, params)
		return
	}
	values := parsed.Query()
	for key, value := range params {
		if strings.TrimSpace(value) == "" {
			continue
		}
		values.Set(key, value)
	}
	parsed.RawQuery = values.Encode()
	http.Redirect(w, r, parsed.String(), http.StatusFound)
}

func callbackFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, services.ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, services.ErrPaymentState):
		return "order_not_payable"
	case errors.Is(err, services.ErrPaymentUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, services.ErrPaymentGateway):
		return "gateway_error"
	case errors.Is(err, services.ErrPaymentInvalidInput):
		return "invalid_request"
	default:
		return "payment_error"
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
