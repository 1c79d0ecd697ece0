package repositories

import (
	"context"
	"time"

	domain "github.com/bakejoy/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Transactions() TransactionRepository
	StatusLogs() StatusLogRepository
	InternalNotes() InternalNoteRepository
	Notifications() NotificationRepository
	SMSTemplates() SMSTemplateRepository
	Counters() CounterRepository
	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate, carts included. Updates use
// optimistic locking; Update must return a conflict RepositoryError when the
// stored document changed since the read.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindCartByUser returns the user's open cart. A user has at most one;
	// UpsertCart creates it under a deterministic per-user key so concurrent
	// callers converge on the same document.
	FindCartByUser(ctx context.Context, userID string) (domain.Order, error)
	UpsertCart(ctx context.Context, cart domain.Order) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	SetDeleted(ctx context.Context, orderID string, deleted bool, now time.Time) error
}

// TransactionRepository stores settlement attempts keyed by the gateway authority.
type TransactionRepository interface {
	Insert(ctx context.Context, trx domain.Transaction) error
	Update(ctx context.Context, trx domain.Transaction) error
	FindByID(ctx context.Context, trxID string) (domain.Transaction, error)
	// FindByAuthority returns the transaction holding the gateway reference,
	// optionally narrowed to a status. Statuses nil means any.
	FindByAuthority(ctx context.Context, authority string, statuses []domain.TransactionStatus) (domain.Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
}

// StatusLogRepository appends and lists the immutable status history of an order.
type StatusLogRepository interface {
	Append(ctx context.Context, entry domain.OrderStatusLog) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusLog, error)
}

// InternalNoteRepository stores staff annotations per order.
type InternalNoteRepository interface {
	Append(ctx context.Context, note domain.InternalOrderNote) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.InternalOrderNote, error)
}

// NotificationRepository records every delivery attempt for audit and admin listings.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	List(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	Stats(ctx context.Context) (domain.NotificationStats, error)
}

// SMSTemplateRepository stores message templates keyed by event trigger.
type SMSTemplateRepository interface {
	Upsert(ctx context.Context, template domain.SMSTemplate) error
	Delete(ctx context.Context, trigger domain.OrderStatus) error
	// FindActiveByTrigger returns a not-found RepositoryError when no active
	// template exists for the trigger.
	FindActiveByTrigger(ctx context.Context, trigger domain.OrderStatus) (domain.SMSTemplate, error)
	FindByTrigger(ctx context.Context, trigger domain.OrderStatus) (domain.SMSTemplate, error)
	List(ctx context.Context) ([]domain.SMSTemplate, error)
}

// CatalogRepository reads product snapshots used for naming and pricing.
type CatalogRepository interface {
	Cake(ctx context.Context, cakeID string) (domain.CakeSnapshot, error)
	SizeVariant(ctx context.Context, variantID string) (domain.SizeVariantSnapshot, error)
	PartySupply(ctx context.Context, supplyID string) (domain.PartySupplySnapshot, error)
	Addon(ctx context.Context, addonID string) (domain.AddonSnapshot, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID         string
	Status         []domain.OrderStatus
	ExcludeStatus  []domain.OrderStatus
	IncludeDeleted bool
	DateRange      domain.RangeQuery[time.Time]
	Pagination     domain.Pagination
}

type NotificationListFilter struct {
	OrderID    string
	UserID     string
	Channel    *domain.NotificationChannel
	Status     []domain.NotificationStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
