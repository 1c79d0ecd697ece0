// Package sms contains the sms.ir transport client used to deliver
// customer notifications.
package sms

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

	"github.com/bakejoy/api/internal/platform/textutil"
)

const (
	defaultSMSIRBaseURL = "https://api.sms.ir/v1"

	smsirStatusOK = 1

	// Iranian mobile numbers are ten digits once the leading zero and
	// country code are removed.
	localMobileLength = 10
)

// ErrSendRejected is returned when sms.ir accepts the request transport but
// rejects the message itself.
var ErrSendRejected = errors.New("sms: send rejected by provider")

// Logger defines the logging contract for sms.ir client operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures the sms.ir Client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	LineNumber int64
	HTTPClient httpDoer
	Timeout    time.Duration
	Logger     Logger
	Breaker    *gobreaker.CircuitBreaker
}

// Client talks to the sms.ir v1 REST API.
type Client struct {
	apiKey     string
	baseURL    string
	lineNumber int64
	client     httpDoer
	logger     Logger
	breaker    *gobreaker.CircuitBreaker
}

// NewClient constructs an sms.ir client using the given configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("sms: api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultSMSIRBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
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
			Name:     "smsir",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		lineNumber: cfg.LineNumber,
		client:     client,
		logger:     logger,
		breaker:    breaker,
	}, nil
}

// SendRequest carries a single outbound text message.
type SendRequest struct {
	Recipient string
	Message   string
}

// SendReceipt reports what sms.ir accepted for delivery.
type SendReceipt struct {
	PackID        string
	MessageIDs    []int64
	Cost          float64
	StatusCode    int
	StatusMessage string
}

type smsirSendPayload struct {
	LineNumber  int64    `json:"lineNumber,omitempty"`
	MessageText string   `json:"messageText"`
	Mobiles     []string `json:"mobiles"`
}

type smsirSendEnvelope struct {
	Status  int           `json:"status"`
	Message string        `json:"message"`
	Data    smsirSendData `json:"data"`
}

type smsirSendData struct {
	PackID     string  `json:"packId"`
	MessageIDs []int64 `json:"messageIds"`
	Cost       float64 `json:"cost"`
}

type smsirCreditEnvelope struct {
	Status  int     `json:"status"`
	Message string  `json:"message"`
	Data    float64 `json:"data"`
}

// Send delivers one message through the bulk-send endpoint.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendReceipt, error) {
	mobile := NormalizeMobile(req.Recipient)
	if mobile == "" {
		return SendReceipt{}, errors.New("sms: recipient mobile is required")
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return SendReceipt{}, errors.New("sms: message text is required")
	}

	payload := smsirSendPayload{
		LineNumber:  c.lineNumber,
		MessageText: message,
		Mobiles:     []string{mobile},
	}
	body, err := c.call(ctx, http.MethodPost, c.baseURL+"/send/bulk", payload)
	if err != nil {
		return SendReceipt{}, err
	}

	var envelope smsirSendEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return SendReceipt{}, fmt.Errorf("sms: decode response: %w", err)
	}

	receipt := SendReceipt{
		PackID:        envelope.Data.PackID,
		MessageIDs:    envelope.Data.MessageIDs,
		Cost:          envelope.Data.Cost,
		StatusCode:    envelope.Status,
		StatusMessage: envelope.Message,
	}
	if envelope.Status != smsirStatusOK {
		c.logger(ctx, "smsir.send.rejected", map[string]any{
			"status":  envelope.Status,
			"message": envelope.Message,
		})
		return receipt, fmt.Errorf("%w: status %d %s", ErrSendRejected, envelope.Status, envelope.Message)
	}
	return receipt, nil
}

// Credit returns the remaining account balance.
func (c *Client) Credit(ctx context.Context) (float64, error) {
	body, err := c.call(ctx, http.MethodGet, c.baseURL+"/credit", nil)
	if err != nil {
		return 0, err
	}

	var envelope smsirCreditEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, fmt.Errorf("sms: decode response: %w", err)
	}
	if envelope.Status != smsirStatusOK {
		return 0, fmt.Errorf("sms: credit lookup failed with status %d %s", envelope.Status, envelope.Message)
	}
	return envelope.Data, nil
}

func (c *Client) call(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("sms: encode payload: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("sms: provider returned %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		c.logger(ctx, "smsir.call.failed", map[string]any{
			"url":   url,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("sms: %w", err)
	}
	return raw.([]byte), nil
}

// NormalizeMobile folds Persian and Arabic-Indic digits, strips the Iranian
// country code, and drops the leading zero so that "09123456789",
// "+989123456789", and "۰۹۱۲۳۴۵۶۷۸۹" all resolve to "9123456789".
func NormalizeMobile(mobile string) string {
	folded := textutil.FoldDigits(strings.TrimSpace(mobile))

	var digits strings.Builder
	for _, r := range folded {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	normalized := strings.TrimLeft(digits.String(), "0")
	// The country code is only stripped when a full mobile number
	// remains; local numbers starting with 98 keep their digits.
	if rest := strings.TrimPrefix(normalized, "98"); len(rest) == localMobileLength {
		normalized = rest
	}
	return normalized
}
