package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const statusLogCollectionPattern = "orders/%s/statusLogs"

// StatusLogRepository stores the append-only status history of orders in
// per-order Firestore subcollections.
type StatusLogRepository struct {
	provider *pfirestore.Provider
}

// NewStatusLogRepository constructs a Firestore-backed status log repository.
func NewStatusLogRepository(provider *pfirestore.Provider) (*StatusLogRepository, error) {
	if provider == nil {
		return nil, errors.New("status log repository requires firestore provider")
	}
	return &StatusLogRepository{provider: provider}, nil
}

// Append stores a new history entry. Entries are never updated.
func (r *StatusLogRepository) Append(ctx context.Context, entry domain.OrderStatusLog) error {
	coll, err := r.collection(ctx, entry.OrderID)
	if err != nil {
		return err
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("status log repository: entry id is required")
	}

	doc := statusLogDocument{
		NewStatus: string(entry.NewStatus),
		Actor:     entry.Actor,
		Note:      strings.TrimSpace(entry.Note),
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("status_logs.append", tx.Create(coll.Doc(entryID), doc))
	}
	if _, err := coll.Doc(entryID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("status_logs.append", err)
	}
	return nil
}

// ListByOrder returns the full history of an order in append order.
func (r *StatusLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusLog, error) {
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var entries []domain.OrderStatusLog
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("status_logs.list", err)
		}
		var doc statusLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode status log %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, domain.OrderStatusLog{
			ID:        snap.Ref.ID,
			OrderID:   strings.TrimSpace(orderID),
			NewStatus: domain.OrderStatus(doc.NewStatus),
			Actor:     doc.Actor,
			Note:      doc.Note,
			CreatedAt: doc.CreatedAt,
		})
	}
	return entries, nil
}

func (r *StatusLogRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("status log repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return nil, errors.New("status log repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(statusLogCollectionPattern, oid)), nil
}

type statusLogDocument struct {
	NewStatus string    `firestore:"newStatus"`
	Actor     *string   `firestore:"actor,omitempty"`
	Note      string    `firestore:"note,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

var _ repositories.StatusLogRepository = (*StatusLogRepository)(nil)
