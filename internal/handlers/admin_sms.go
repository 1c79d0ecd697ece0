package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/platform/auth"
	"github.com/bakejoy/api/internal/platform/httpx"
	"github.com/bakejoy/api/internal/repositories"
	"github.com/bakejoy/api/internal/services"
)

const (
	defaultNotificationPageSize = 50
	maxNotificationPageSize     = 200
	maxSMSTemplateBodySize      = 16 * 1024
)

var validNotificationStatuses = map[domain.NotificationStatus]struct{}{
	domain.NotificationStatusPending: {},
	domain.NotificationStatusSent:    {},
	domain.NotificationStatusFailed:  {},
}

var validNotificationChannels = map[domain.NotificationChannel]struct{}{
	domain.NotificationChannelSMS:   {},
	domain.NotificationChannelEmail: {},
	domain.NotificationChannelInApp: {},
}

// AdminSMSHandlers exposes staff-facing notification and template endpoints.
type AdminSMSHandlers struct {
	authn         *auth.Authenticator
	notifications services.NotificationService
}

// NewAdminSMSHandlers constructs the admin notification handlers.
func NewAdminSMSHandlers(authn *auth.Authenticator, notifications services.NotificationService) *AdminSMSHandlers {
	return &AdminSMSHandlers{
		authn:         authn,
		notifications: notifications,
	}
}

// NotificationRoutes registers the notification log endpoints.
func (h *AdminSMSHandlers) NotificationRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/", h.listNotifications)
	r.Get("/stats", h.stats)
	r.Get("/credit", h.credit)
}

// TemplateRoutes registers the SMS template management endpoints.
func (h *AdminSMSHandlers) TemplateRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/", h.listTemplates)
	r.Get("/{trigger}", h.getTemplate)
	r.Put("/{trigger}", h.upsertTemplate)
	r.Delete("/{trigger}", h.deleteTemplate)
}

func (h *AdminSMSHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *AdminSMSHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	query := r.URL.Query()

	filter := services.NotificationListFilter{
		OrderID: strings.TrimSpace(query.Get("order_id")),
		UserID:  strings.TrimSpace(query.Get("user_id")),
	}

	if raw := strings.TrimSpace(query.Get("channel")); raw != "" {
		channel := domain.NotificationChannel(strings.ToLower(raw))
		if _, valid := validNotificationChannels[channel]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "channel must be a valid notification channel", http.StatusBadRequest))
			return
		}
		filter.Channel = &channel
	}

	for _, raw := range query["status"] {
		status := domain.NotificationStatus(strings.ToLower(strings.TrimSpace(raw)))
		if _, valid := validNotificationStatuses[status]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid notification status", http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}
	filter.DateRange = dateRange

	pageSize, err := parsePageSize(query.Get("page_size"), defaultNotificationPageSize, maxNotificationPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.notifications.ListNotifications(ctx, filter)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	items := make([]notificationPayload, 0, len(page.Items))
	for _, notification := range page.Items {
		items = append(items, buildNotificationPayload(notification))
	}
	writeJSONResponse(w, http.StatusOK, notificationListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminSMSHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	stats, err := h.notifications.Stats(ctx)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, notificationStatsResponse{
		Total:   stats.Total,
		Sent:    stats.Sent,
		Failed:  stats.Failed,
		Pending: stats.Pending,
	})
}

func (h *AdminSMSHandlers) credit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	balance, err := h.notifications.CreditBalance(ctx)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, creditBalanceResponse{Balance: balance})
}

func (h *AdminSMSHandlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	templates, err := h.notifications.ListTemplates(ctx)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	items := make([]smsTemplatePayload, 0, len(templates))
	for _, template := range templates {
		items = append(items, buildSMSTemplatePayload(template))
	}
	writeJSONResponse(w, http.StatusOK, smsTemplateListResponse{Items: items})
}

func (h *AdminSMSHandlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	trigger, ok := parseTemplateTrigger(ctx, w, r)
	if !ok {
		return
	}

	template, err := h.notifications.GetTemplate(ctx, trigger)
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, smsTemplateResponse{Template: buildSMSTemplatePayload(template)})
}

type upsertTemplateRequest struct {
	Body        string `json:"body"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

func (h *AdminSMSHandlers) upsertTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	trigger, ok := parseTemplateTrigger(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxSMSTemplateBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req upsertTemplateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	template, err := h.notifications.UpsertTemplate(ctx, services.UpsertSMSTemplateCommand{
		Template: domain.SMSTemplate{
			EventTrigger: trigger,
			Body:         req.Body,
			Description:  strings.TrimSpace(req.Description),
			Active:       active,
		},
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, smsTemplateResponse{Template: buildSMSTemplatePayload(template)})
}

func (h *AdminSMSHandlers) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	trigger, ok := parseTemplateTrigger(ctx, w, r)
	if !ok {
		return
	}

	if err := h.notifications.DeleteTemplate(ctx, trigger); err != nil {
		h.writeNotificationError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseTemplateTrigger(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.OrderStatus, bool) {
	trigger, valid := parseOrderStatus(chi.URLParam(r, "trigger"))
	if !valid || trigger == domain.OrderStatusCart {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "trigger must be a valid order status", http.StatusBadRequest))
		return "", false
	}
	return trigger, true
}

func (h *AdminSMSHandlers) writeNotificationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrNotificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTemplateNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("template_not_found", "sms template not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSMSGateway):
		httpx.WriteError(ctx, w, httpx.NewError("sms_gateway_error", "sms gateway is unavailable", http.StatusBadGateway))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			switch {
			case repoErr.IsNotFound():
				httpx.WriteError(ctx, w, httpx.NewError("template_not_found", "sms template not found", http.StatusNotFound))
				return
			case repoErr.IsConflict():
				httpx.WriteError(ctx, w, httpx.NewError("notification_conflict", "resource has been modified; refresh and retry", http.StatusConflict))
				return
			case repoErr.IsUnavailable():
				httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
				return
			}
		}
		httpx.WriteError(ctx, w, httpx.NewError("notification_error", "failed to process notification request", http.StatusInternalServerError))
	}
}

type notificationListResponse struct {
	Items         []notificationPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type notificationStatsResponse struct {
	Total   int64 `json:"total"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
}

type creditBalanceResponse struct {
	Balance float64 `json:"balance"`
}

type smsTemplateListResponse struct {
	Items []smsTemplatePayload `json:"items"`
}

type smsTemplateResponse struct {
	Template smsTemplatePayload `json:"template"`
}
