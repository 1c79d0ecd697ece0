package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const transactionCollection = "transactions"

// TransactionRepository persists settlement attempts in Firestore.
type TransactionRepository struct {
	base     *pfirestore.BaseRepository[transactionDocument]
	provider *pfirestore.Provider
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[transactionDocument](provider, transactionCollection)
	return &TransactionRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert stores a new transaction. Inserting an existing ID is a conflict.
func (r *TransactionRepository) Insert(ctx context.Context, trx domain.Transaction) error {
	if r == nil || r.base == nil {
		return errors.New("transaction repository not initialised")
	}
	trxID := strings.TrimSpace(trx.ID)
	if trxID == "" {
		return errors.New("transaction repository: transaction id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, trxID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeTransactionDocument(trx)); err != nil {
		return pfirestore.WrapError("transactions.insert", err)
	}
	return nil
}

// Update rewrites an existing transaction document.
func (r *TransactionRepository) Update(ctx context.Context, trx domain.Transaction) error {
	if r == nil || r.base == nil {
		return errors.New("transaction repository not initialised")
	}
	trxID := strings.TrimSpace(trx.ID)
	if trxID == "" {
		return errors.New("transaction repository: transaction id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, trxID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(docRef); err != nil {
			return err
		}
		return tx.Set(docRef, encodeTransactionDocument(trx))
	})
	if err != nil {
		return pfirestore.WrapError("transactions.update", err)
	}
	return nil
}

// FindByID loads a single transaction.
func (r *TransactionRepository) FindByID(ctx context.Context, trxID string) (domain.Transaction, error) {
	if r == nil || r.base == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	trxID = strings.TrimSpace(trxID)
	if trxID == "" {
		return domain.Transaction{}, errors.New("transaction repository: transaction id is required")
	}

	doc, err := r.base.Get(ctx, trxID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByAuthority returns the most recent transaction carrying the gateway
// authority, optionally narrowed to the given statuses.
func (r *TransactionRepository) FindByAuthority(ctx context.Context, authority string, statuses []domain.TransactionStatus) (domain.Transaction, error) {
	if r == nil || r.base == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	authority = strings.TrimSpace(authority)
	if authority == "" {
		return domain.Transaction{}, errors.New("transaction repository: authority is required")
	}

	statusFilters := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if trimmed := strings.TrimSpace(string(s)); trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("authority", "==", authority)
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			q = q.Where("status", "in", statusFilters)
		}
		return q.OrderBy("createdAt", firestore.Desc).Limit(1)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(docs) == 0 {
		return domain.Transaction{}, pfirestore.WrapError("transactions.find_by_authority",
			status.Error(codes.NotFound, "transaction not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByOrder returns all settlement attempts for an order, newest first.
func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("transaction repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("transaction repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	transactions := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		transactions = append(transactions, doc.Data.toDomain(doc.ID))
	}
	return transactions, nil
}

type transactionDocument struct {
	OrderID       string     `firestore:"orderId"`
	Amount        int64      `firestore:"amount"`
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	Authority     string     `firestore:"authority,omitempty"`
	RefID         string     `firestore:"refId,omitempty"`
	CardPAN       string     `firestore:"cardPan,omitempty"`
	RawResponse   string     `firestore:"rawResponse,omitempty"`
	FailureReason string     `firestore:"failureReason,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	SettledAt     *time.Time `firestore:"settledAt,omitempty"`
}

func encodeTransactionDocument(trx domain.Transaction) transactionDocument {
	return transactionDocument{
		OrderID:       strings.TrimSpace(trx.OrderID),
		Amount:        trx.Amount,
		Method:        string(trx.Method),
		Status:        string(trx.Status),
		Authority:     strings.TrimSpace(trx.Authority),
		RefID:         strings.TrimSpace(trx.RefID),
		CardPAN:       strings.TrimSpace(trx.CardPAN),
		RawResponse:   trx.RawResponse,
		FailureReason: strings.TrimSpace(trx.FailureReason),
		CreatedAt:     trx.CreatedAt.UTC(),
		UpdatedAt:     trx.UpdatedAt.UTC(),
		SettledAt:     utcTimePtr(trx.SettledAt),
	}
}

func (d transactionDocument) toDomain(id string) domain.Transaction {
	return domain.Transaction{
		ID:            id,
		OrderID:       d.OrderID,
		Amount:        d.Amount,
		Method:        domain.PaymentMethod(d.Method),
		Status:        domain.TransactionStatus(d.Status),
		Authority:     d.Authority,
		RefID:         d.RefID,
		CardPAN:       d.CardPAN,
		RawResponse:   d.RawResponse,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		SettledAt:     d.SettledAt,
	}
}

var _ repositories.TransactionRepository = (*TransactionRepository)(nil)
