package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bakejoy/api/internal/platform/requestctx"
)

// Error is the JSON error envelope every endpoint returns. Code is a stable
// machine-readable token; Message is for humans and must not leak internals.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error, clamping the code and message lengths.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clampLine(code, 80),
		Message: clampLine(message, 512),
		Status:  status,
	}
}

// WithRequestID overrides the request identifier taken from context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clampLine(id, 80)
	return e
}

// WithTraceID overrides the trace identifier taken from context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clampLine(id, 64)
	return e
}

// WithDetails merges extra JSON-serialisable fields into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(details))
	for key, value := range details {
		merged[key] = value
	}
	e.Details = merged
	return e
}

// WriteError renders the envelope as JSON, filling request and trace IDs
// from ctx when the error does not carry its own.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := pickID(err.RequestID, middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := pickID(err.TraceID, requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}
	for key, value := range err.Details {
		payload[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pickID(explicit, fromContext string, limit int) string {
	if explicit != "" {
		return explicit
	}
	return clampLine(fromContext, limit)
}

func clampLine(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
