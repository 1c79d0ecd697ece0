package services

import (
	"context"
	"time"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderAddon          = domain.OrderAddon
	OrderStatus         = domain.OrderStatus
	OrderContact        = domain.OrderContact
	OrderStatusLog      = domain.OrderStatusLog
	InternalOrderNote   = domain.InternalOrderNote
	ProductRef          = domain.ProductRef
	ProductKind         = domain.ProductKind
	CustomDesign        = domain.CustomDesign
	Transaction         = domain.Transaction
	TransactionStatus   = domain.TransactionStatus
	PaymentMethod       = domain.PaymentMethod
	Notification        = domain.Notification
	NotificationStats   = domain.NotificationStats
	SMSTemplate         = domain.SMSTemplate
	Address             = domain.Address
	LinePricing         = domain.LinePricing
	PricingBreakdown    = domain.PricingBreakdown
	CakeSnapshot        = domain.CakeSnapshot
	SizeVariantSnapshot = domain.SizeVariantSnapshot
	PartySupplySnapshot = domain.PartySupplySnapshot
	AddonSnapshot       = domain.AddonSnapshot
	SystemHealthReport  = domain.SystemHealthReport
)

// CartService manages the user's open cart: the single order document whose
// status is CART.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Order, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Order, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Order, error)
	AttachDesign(ctx context.Context, cmd AttachDesignCommand) (Order, error)
	SetItemAddons(ctx context.Context, cmd SetItemAddonsCommand) (Order, error)
	Reorder(ctx context.Context, cmd ReorderCommand) (Order, error)
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// DesignUploadService issues presigned upload slots for custom design images.
type DesignUploadService interface {
	CreateUploadURL(ctx context.Context, cmd CreateDesignUploadCommand) (DesignUpload, error)
}

// PricingEngine computes line prices from catalog snapshots.
type PricingEngine interface {
	PriceItem(ctx context.Context, item OrderItem) (int64, error)
	PriceOrder(ctx context.Context, order Order) (PricingBreakdown, error)
}

// CatalogGateway resolves product snapshots used for pricing and validation.
// Implementations must return a not-found repository error for unknown IDs.
type CatalogGateway interface {
	Cake(ctx context.Context, cakeID string) (CakeSnapshot, error)
	SizeVariant(ctx context.Context, variantID string) (SizeVariantSnapshot, error)
	PartySupply(ctx context.Context, supplyID string) (PartySupplySnapshot, error)
	Addon(ctx context.Context, addonID string) (AddonSnapshot, error)
}

// OrderService owns the lifecycle of placed orders: validated transitions,
// the append-only status history, and the post-commit side effects.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	BulkTransitionStatus(ctx context.Context, cmd BulkStatusTransitionCommand) (BulkTransitionResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	SoftDelete(ctx context.Context, cmd SoftDeleteOrdersCommand) (int, error)
	StatusHistory(ctx context.Context, orderID string) ([]OrderStatusLog, error)
	AddInternalNote(ctx context.Context, cmd AddInternalNoteCommand) (InternalOrderNote, error)
	ListInternalNotes(ctx context.Context, orderID string) ([]InternalOrderNote, error)
}

// SettlementService drives the authorize/callback/verify flow against the
// payment gateway and keeps transactions consistent with order status.
type SettlementService interface {
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
	HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (SettlementResult, error)
	GetTransaction(ctx context.Context, trxID string) (Transaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error)
}

// NotificationService renders and delivers order status notifications.
// DispatchOrderStatus never returns an error: delivery failures are recorded
// and logged, not surfaced to lifecycle callers.
type NotificationService interface {
	DispatchOrderStatus(ctx context.Context, order Order, trigger OrderStatus)
	ListNotifications(ctx context.Context, filter NotificationListFilter) (domain.CursorPage[Notification], error)
	Stats(ctx context.Context) (NotificationStats, error)
	CreditBalance(ctx context.Context) (float64, error)
	UpsertTemplate(ctx context.Context, cmd UpsertSMSTemplateCommand) (SMSTemplate, error)
	DeleteTemplate(ctx context.Context, trigger OrderStatus) error
	GetTemplate(ctx context.Context, trigger OrderStatus) (SMSTemplate, error)
	ListTemplates(ctx context.Context) ([]SMSTemplate, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID        string
	Product       ProductRef
	FlavorID      *string
	SizeVariantID *string
	Quantity      int
	Notes         string
}

type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type AttachDesignCommand struct {
	UserID string
	ItemID string
	Design *CustomDesign
}

type SetItemAddonsCommand struct {
	UserID string
	ItemID string
	Addons []CartAddonInput
}

type CartAddonInput struct {
	AddonID  string
	Quantity int
}

type ReorderCommand struct {
	UserID        string
	SourceOrderID string
}

type CheckoutCommand struct {
	UserID     string
	Address    *Address
	Contact    *OrderContact
	DeliveryAt *time.Time
	Notes      string
}

type OrderListFilter = repositories.OrderListFilter

type NotificationListFilter = repositories.NotificationListFilter

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Note           string
	ExpectedStatus *OrderStatus
	// CancelReason is persisted on the order when the target status is
	// CANCELLED.
	CancelReason *string
}

type BulkStatusTransitionCommand struct {
	OrderIDs     []string
	TargetStatus OrderStatus
	ActorID      string
}

// BulkTransitionResult reports per-order outcomes of a bulk transition.
type BulkTransitionResult struct {
	Updated int
	Skipped []string
	Failed  map[string]error
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	AsAdmin bool
	Reason  string
}

type SoftDeleteOrdersCommand struct {
	OrderIDs []string
	ActorID  string
}

type AddInternalNoteCommand struct {
	OrderID string
	Author  string
	Text    string
}

type InitiatePaymentCommand struct {
	OrderID     string
	UserID      string
	CallbackURL string
}

// PaymentInitiation returns the redirect target for the customer's browser.
type PaymentInitiation struct {
	TransactionID string
	Authority     string
	PaymentURL    string
}

type PaymentCallbackCommand struct {
	Authority     string
	GatewayStatus string
}

// SettlementResult reports the outcome of processing a gateway callback.
type SettlementResult struct {
	Settled     bool
	OrderID     string
	RefID       string
	Transaction Transaction
}

type UpsertSMSTemplateCommand struct {
	Template SMSTemplate
	ActorID  string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
