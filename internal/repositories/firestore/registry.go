package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	orders        *OrderRepository
	transactions  *TransactionRepository
	statusLogs    *StatusLogRepository
	internalNotes *InternalNoteRepository
	notifications *NotificationRepository
	smsTemplates  *SMSTemplateRepository
	counters      *CounterRepository
	catalog       *CatalogRepository
	health        repositories.HealthRepository
}

// NewRegistry constructs the full repository set over a shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	statusLogs, err := NewStatusLogRepository(provider)
	if err != nil {
		return nil, err
	}
	internalNotes, err := NewInternalNoteRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}
	smsTemplates, err := NewSMSTemplateRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		orders:        orders,
		transactions:  transactions,
		statusLogs:    statusLogs,
		internalNotes: internalNotes,
		notifications: notifications,
		smsTemplates:  smsTemplates,
		counters:      counters,
		catalog:       catalog,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Transactions() repositories.TransactionRepository   { return r.transactions }
func (r *Registry) StatusLogs() repositories.StatusLogRepository       { return r.statusLogs }
func (r *Registry) InternalNotes() repositories.InternalNoteRepository { return r.internalNotes }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) SMSTemplates() repositories.SMSTemplateRepository   { return r.smsTemplates }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) Catalog() repositories.CatalogRepository            { return r.catalog }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repository writes made
// through the callback context join the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
