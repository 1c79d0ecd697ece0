package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	notificationCollection = "notifications"

	notificationCountAlias = "total"
)

// NotificationRepository records delivery attempts in Firestore.
type NotificationRepository struct {
	base     *pfirestore.BaseRepository[notificationDocument]
	provider *pfirestore.Provider
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[notificationDocument](provider, notificationCollection)
	return &NotificationRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert stores a new delivery attempt record.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	if r == nil || r.base == nil {
		return errors.New("notification repository not initialised")
	}
	notificationID := strings.TrimSpace(notification.ID)
	if notificationID == "" {
		return errors.New("notification repository: notification id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, notificationID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeNotificationDocument(notification)); err != nil {
		return pfirestore.WrapError("notifications.insert", err)
	}
	return nil
}

// List returns delivery attempts matching the filter, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("notification repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	orderID := strings.TrimSpace(filter.OrderID)
	userID := strings.TrimSpace(filter.UserID)
	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if trimmed := strings.TrimSpace(string(s)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if orderID != "" {
			q = q.Where("orderId", "==", orderID)
		}
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if filter.Channel != nil {
			q = q.Where("channel", "==", string(*filter.Channel))
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		if from := filter.DateRange.From; from != nil && !from.IsZero() {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil && !to.IsZero() {
			q = q.Where("createdAt", "<=", to.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Notification, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}

	return domain.CursorPage[domain.Notification]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Stats counts delivery outcomes using server-side aggregation queries.
func (r *NotificationRepository) Stats(ctx context.Context) (domain.NotificationStats, error) {
	if r == nil || r.provider == nil {
		return domain.NotificationStats{}, errors.New("notification repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.NotificationStats{}, err
	}
	coll := client.Collection(notificationCollection)

	total, err := r.count(ctx, coll.Query)
	if err != nil {
		return domain.NotificationStats{}, err
	}
	sent, err := r.count(ctx, coll.Where("status", "==", string(domain.NotificationStatusSent)))
	if err != nil {
		return domain.NotificationStats{}, err
	}
	failed, err := r.count(ctx, coll.Where("status", "==", string(domain.NotificationStatusFailed)))
	if err != nil {
		return domain.NotificationStats{}, err
	}
	pending, err := r.count(ctx, coll.Where("status", "==", string(domain.NotificationStatusPending)))
	if err != nil {
		return domain.NotificationStats{}, err
	}

	return domain.NotificationStats{
		Total:   total,
		Sent:    sent,
		Failed:  failed,
		Pending: pending,
	}, nil
}

func (r *NotificationRepository) count(ctx context.Context, query firestore.Query) (int64, error) {
	results, err := query.NewAggregationQuery().WithCount(notificationCountAlias).Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("notifications.stats", err)
	}
	value, ok := results[notificationCountAlias].(*firestorepb.Value)
	if !ok {
		return 0, errors.New("notification repository: unexpected aggregation result")
	}
	return value.GetIntegerValue(), nil
}

type notificationDocument struct {
	UserID            string     `firestore:"userId,omitempty"`
	OrderID           string     `firestore:"orderId,omitempty"`
	Channel           string     `firestore:"channel"`
	Message           string     `firestore:"message"`
	Status            string     `firestore:"status"`
	SentAt            *time.Time `firestore:"sentAt,omitempty"`
	GatewayStatusCode string     `firestore:"gatewayStatusCode,omitempty"`
	GatewayMessage    string     `firestore:"gatewayMessage,omitempty"`
	PackID            string     `firestore:"packId,omitempty"`
	MessageIDs        []int64    `firestore:"messageIds,omitempty"`
	Cost              float64    `firestore:"cost,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
}

func encodeNotificationDocument(notification domain.Notification) notificationDocument {
	return notificationDocument{
		UserID:            strings.TrimSpace(notification.UserID),
		OrderID:           strings.TrimSpace(notification.OrderID),
		Channel:           string(notification.Channel),
		Message:           notification.Message,
		Status:            string(notification.Status),
		SentAt:            utcTimePtr(notification.SentAt),
		GatewayStatusCode: strings.TrimSpace(notification.GatewayStatusCode),
		GatewayMessage:    notification.GatewayMessage,
		PackID:            strings.TrimSpace(notification.PackID),
		MessageIDs:        notification.MessageIDs,
		Cost:              notification.Cost,
		CreatedAt:         notification.CreatedAt.UTC(),
	}
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:                id,
		UserID:            d.UserID,
		OrderID:           d.OrderID,
		Channel:           domain.NotificationChannel(d.Channel),
		Message:           d.Message,
		Status:            domain.NotificationStatus(d.Status),
		SentAt:            d.SentAt,
		GatewayStatusCode: d.GatewayStatusCode,
		GatewayMessage:    d.GatewayMessage,
		PackID:            d.PackID,
		MessageIDs:        d.MessageIDs,
		Cost:              d.Cost,
		CreatedAt:         d.CreatedAt,
	}
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)
