package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	smsCreditCacheKey = "sms:credit"
	smsCreditCacheTTL = 10 * time.Minute

	// Messages are Persian, so placeholders fall back to Persian phrases
	// when the order is missing the value.
	fallbackCustomerName = "مشتری گرامی"
	fallbackTrackingCode = "ثبت نشده"
)

var (
	// ErrNotificationInvalidInput signals bad notification request data.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrTemplateNotFound indicates no template exists for the trigger.
	ErrTemplateNotFound = errors.New("notification: template not found")
	// ErrSMSGateway indicates the SMS provider rejected or failed the call.
	ErrSMSGateway = errors.New("notification: sms gateway failure")
)

// SMSGateway is the notification view of the SMS provider.
type SMSGateway interface {
	Send(ctx context.Context, req SMSSendRequest) (SMSSendReceipt, error)
	Credit(ctx context.Context) (float64, error)
}

// SMSSendRequest carries one rendered message for one recipient.
type SMSSendRequest struct {
	Recipient string
	Message   string
}

// SMSSendReceipt is the provider acknowledgement for a sent message.
type SMSSendReceipt struct {
	PackID        string
	MessageIDs    []int64
	Cost          float64
	StatusCode    string
	StatusMessage string
}

// ValueCache is a small string cache with per-key expiry.
type ValueCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// NotificationServiceDeps bundles collaborators for the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Templates     repositories.SMSTemplateRepository
	Gateway       SMSGateway
	Cache         ValueCache
	StoreName     string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	templates     repositories.SMSTemplateRepository
	gateway       SMSGateway
	cache         ValueCache
	storeName     string
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	amounts       *message.Printer
}

// NewNotificationService wires dependencies into a concrete NotificationService.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}
	if deps.Templates == nil {
		return nil, errors.New("notification service: template repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("notification service: sms gateway is required")
	}

	storeName := strings.TrimSpace(deps.StoreName)
	if storeName == "" {
		storeName = "BakeJoy"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		templates:     deps.Templates,
		gateway:       deps.Gateway,
		cache:         deps.Cache,
		storeName:     storeName,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		amounts: message.NewPrinter(language.English),
	}, nil
}

// DispatchOrderStatus sends the SMS configured for a status change and
// records the attempt. It never fails the caller: missing templates are
// skipped and gateway errors end up as failed notification rows.
func (s *notificationService) DispatchOrderStatus(ctx context.Context, order Order, trigger domain.OrderStatus) {
	template, err := s.templates.FindActiveByTrigger(ctx, trigger)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			s.logger(ctx, "notification.template.missing", map[string]any{
				"order":   order.ID,
				"trigger": string(trigger),
			})
			return
		}
		s.logger(ctx, "notification.template.lookup.failed", map[string]any{
			"order":   order.ID,
			"trigger": string(trigger),
			"error":   err.Error(),
		})
		return
	}

	body := s.renderTemplate(template.Body, order)
	record := Notification{
		ID:      notificationIDPrefix + s.newID(),
		UserID:  order.UserID,
		OrderID: order.ID,
		Channel: domain.NotificationChannelSMS,
		Message: body,
	}

	recipient := ""
	if order.Contact != nil {
		recipient = strings.TrimSpace(order.Contact.Phone)
	}
	if recipient == "" {
		record.Status = domain.NotificationStatusFailed
		record.GatewayMessage = "no recipient phone number"
		s.record(ctx, record)
		return
	}

	receipt, err := s.gateway.Send(ctx, SMSSendRequest{
		Recipient: recipient,
		Message:   body,
	})
	now := s.clock()
	record.GatewayStatusCode = receipt.StatusCode
	record.GatewayMessage = receipt.StatusMessage
	record.PackID = receipt.PackID
	record.MessageIDs = receipt.MessageIDs
	record.Cost = receipt.Cost
	if err != nil {
		record.Status = domain.NotificationStatusFailed
		if record.GatewayMessage == "" {
			record.GatewayMessage = err.Error()
		}
		s.logger(ctx, "notification.sms.failed", map[string]any{
			"order":   order.ID,
			"trigger": string(trigger),
			"error":   err.Error(),
		})
	} else {
		record.Status = domain.NotificationStatusSent
		record.SentAt = &now
	}
	s.record(ctx, record)
}

func (s *notificationService) ListNotifications(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[Notification], error) {
	page, err := s.notifications.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Notification]{}, translateOrderRepositoryError(err)
	}
	return page, nil
}

func (s *notificationService) Stats(ctx context.Context) (domain.NotificationStats, error) {
	stats, err := s.notifications.Stats(ctx)
	if err != nil {
		return domain.NotificationStats{}, translateOrderRepositoryError(err)
	}
	return stats, nil
}

func (s *notificationService) CreditBalance(ctx context.Context) (float64, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, smsCreditCacheKey); err == nil && ok {
			if balance, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
				return balance, nil
			}
		}
	}

	balance, err := s.gateway.Credit(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSMSGateway, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, smsCreditCacheKey, strconv.FormatFloat(balance, 'f', -1, 64), smsCreditCacheTTL); err != nil {
			s.logger(ctx, "notification.credit.cache.failed", map[string]any{"error": err.Error()})
		}
	}
	return balance, nil
}

func (s *notificationService) UpsertTemplate(ctx context.Context, cmd UpsertSMSTemplateCommand) (SMSTemplate, error) {
	template := cmd.Template
	if !isKnownStatus(template.EventTrigger) {
		return SMSTemplate{}, fmt.Errorf("%w: unknown event trigger %q", ErrNotificationInvalidInput, template.EventTrigger)
	}
	template.Body = strings.TrimSpace(template.Body)
	if template.Body == "" {
		return SMSTemplate{}, fmt.Errorf("%w: template body is required", ErrNotificationInvalidInput)
	}
	template.Description = strings.TrimSpace(template.Description)

	now := s.clock()
	existing, err := s.templates.FindByTrigger(ctx, template.EventTrigger)
	if err == nil {
		template.CreatedAt = existing.CreatedAt
	} else {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	if err := s.templates.Upsert(ctx, template); err != nil {
		return SMSTemplate{}, translateOrderRepositoryError(err)
	}
	return template, nil
}

func (s *notificationService) DeleteTemplate(ctx context.Context, trigger domain.OrderStatus) error {
	if !isKnownStatus(trigger) {
		return fmt.Errorf("%w: unknown event trigger %q", ErrNotificationInvalidInput, trigger)
	}
	if err := s.templates.Delete(ctx, trigger); err != nil {
		return s.mapTemplateError(err)
	}
	return nil
}

func (s *notificationService) GetTemplate(ctx context.Context, trigger domain.OrderStatus) (SMSTemplate, error) {
	template, err := s.templates.FindByTrigger(ctx, trigger)
	if err != nil {
		return SMSTemplate{}, s.mapTemplateError(err)
	}
	return template, nil
}

func (s *notificationService) ListTemplates(ctx context.Context) ([]SMSTemplate, error) {
	templates, err := s.templates.List(ctx)
	if err != nil {
		return nil, translateOrderRepositoryError(err)
	}
	return templates, nil
}

func (s *notificationService) renderTemplate(body string, order Order) string {
	customer := ""
	if order.Contact != nil {
		customer = strings.TrimSpace(order.Contact.Name)
	}
	if customer == "" {
		customer = fallbackCustomerName
	}
	orderRef := order.Number
	if orderRef == "" {
		orderRef = order.ID
	}
	tracking := strings.TrimSpace(order.TrackingCode)
	if tracking == "" {
		tracking = fallbackTrackingCode
	}
	replacer := strings.NewReplacer(
		"{{customer_name}}", customer,
		"{{order_id}}", orderRef,
		"{{order_total}}", s.amounts.Sprintf("%d", order.TotalPrice),
		"{{tracking_number}}", tracking,
		"{{store_name}}", s.storeName,
	)
	return replacer.Replace(body)
}

func (s *notificationService) record(ctx context.Context, record Notification) {
	record.CreatedAt = s.clock()
	if err := s.notifications.Insert(ctx, record); err != nil {
		s.logger(ctx, "notification.record.failed", map[string]any{
			"order": record.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *notificationService) mapTemplateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	}
	return translateOrderRepositoryError(err)
}
