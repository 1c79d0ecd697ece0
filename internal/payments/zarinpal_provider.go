package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultZarinpalBaseURL  = "https://payment.zarinpal.com/pg/v4/payment"
	defaultZarinpalStartPay = "https://payment.zarinpal.com/pg/StartPay"

	zarinpalCodeOK = 100
)

// ZarinpalLogger defines the logging contract for Zarinpal provider operations.
type ZarinpalLogger func(ctx context.Context, event string, fields map[string]any)

type zarinpalHTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ZarinpalProviderConfig configures the ZarinpalProvider.
type ZarinpalProviderConfig struct {
	MerchantID  string
	BaseURL     string
	StartPayURL string
	HTTPClient  zarinpalHTTPDoer
	Timeout     time.Duration
	Logger      ZarinpalLogger
	Breaker     *gobreaker.CircuitBreaker
}

// ZarinpalProvider implements the Provider interface against the Zarinpal
// v4 payment REST API.
type ZarinpalProvider struct {
	merchantID string
	baseURL    string
	startPay   string
	client     zarinpalHTTPDoer
	logger     ZarinpalLogger
	breaker    *gobreaker.CircuitBreaker
}

// NewZarinpalProvider constructs a Zarinpal Provider using the given configuration.
func NewZarinpalProvider(cfg ZarinpalProviderConfig) (*ZarinpalProvider, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" {
		return nil, errors.New("zarinpal: merchant id is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultZarinpalBaseURL
	}
	startPay := strings.TrimRight(strings.TrimSpace(cfg.StartPayURL), "/")
	if startPay == "" {
		startPay = defaultZarinpalStartPay
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "zarinpal",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &ZarinpalProvider{
		merchantID: merchantID,
		baseURL:    baseURL,
		startPay:   startPay,
		client:     client,
		logger:     logger,
		breaker:    breaker,
	}, nil
}

type zarinpalRequestPayload struct {
	MerchantID  string           `json:"merchant_id"`
	Amount      int64            `json:"amount"`
	Description string           `json:"description"`
	CallbackURL string           `json:"callback_url"`
	Metadata    zarinpalMetadata `json:"metadata"`
}

type zarinpalMetadata struct {
	Email  string `json:"email,omitempty"`
	Mobile string `json:"mobile,omitempty"`
}

type zarinpalVerifyPayload struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalRequestData struct {
	Code      int    `json:"code"`
	Authority string `json:"authority"`
	Message   string `json:"message"`
}

type zarinpalVerifyData struct {
	Code    int    `json:"code"`
	RefID   int64  `json:"ref_id"`
	CardPAN string `json:"card_pan"`
	Message string `json:"message"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Authorize opens a payment session. A non-100 response code is reported as
// ErrGatewayDeclined with the raw body kept on the result.
func (p *ZarinpalProvider) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if req.Amount <= 0 {
		return AuthorizeResult{}, errors.New("zarinpal: amount must be positive")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return AuthorizeResult{}, errors.New("zarinpal: callback url is required")
	}

	payload := zarinpalRequestPayload{
		MerchantID:  p.merchantID,
		Amount:      req.Amount,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		Metadata: zarinpalMetadata{
			Email:  strings.TrimSpace(req.Email),
			Mobile: strings.TrimSpace(req.Mobile),
		},
	}

	body, err := p.post(ctx, p.baseURL+"/request.json", payload)
	if err != nil {
		return AuthorizeResult{}, err
	}
	result := AuthorizeResult{Raw: string(body)}

	var envelope zarinpalEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return result, fmt.Errorf("zarinpal: decode response: %w", err)
	}

	var data zarinpalRequestData
	if len(envelope.Data) > 0 {
		// The errors variant serialises data as an empty array.
		_ = json.Unmarshal(envelope.Data, &data)
	}
	if data.Code != zarinpalCodeOK || data.Authority == "" {
		gwErr := decodeZarinpalError(envelope.Errors)
		p.logger(ctx, "zarinpal.request.declined", map[string]any{
			"code":    gwErr.Code,
			"message": gwErr.Message,
		})
		return result, fmt.Errorf("%w: code %d %s", ErrGatewayDeclined, gwErr.Code, gwErr.Message)
	}

	result.Authority = data.Authority
	result.PaymentURL = p.startPay + "/" + data.Authority
	return result, nil
}

// Verify confirms a payment. Transport and decode failures return an error;
// gateway verdicts, declined ones included, come back as a result code.
func (p *ZarinpalProvider) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	authority := strings.TrimSpace(req.Authority)
	if authority == "" {
		return VerifyResult{}, errors.New("zarinpal: authority is required")
	}

	payload := zarinpalVerifyPayload{
		MerchantID: p.merchantID,
		Amount:     req.Amount,
		Authority:  authority,
	}

	body, err := p.post(ctx, p.baseURL+"/verify.json", payload)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{Raw: string(body)}

	var envelope zarinpalEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return result, fmt.Errorf("zarinpal: decode response: %w", err)
	}

	var data zarinpalVerifyData
	if len(envelope.Data) > 0 {
		_ = json.Unmarshal(envelope.Data, &data)
	}
	if data.Code != 0 {
		result.Code = data.Code
		if data.RefID != 0 {
			result.RefID = fmt.Sprintf("%d", data.RefID)
		}
		result.CardPAN = data.CardPAN
		return result, nil
	}

	gwErr := decodeZarinpalError(envelope.Errors)
	result.Code = gwErr.Code
	return result, nil
}

func (p *ZarinpalProvider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("zarinpal: encode payload: %w", err)
	}

	raw, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("zarinpal: gateway returned %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		p.logger(ctx, "zarinpal.call.failed", map[string]any{
			"url":   url,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("zarinpal: %w", err)
	}
	return raw.([]byte), nil
}

func decodeZarinpalError(raw json.RawMessage) zarinpalError {
	var gwErr zarinpalError
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &gwErr)
	}
	return gwErr
}
