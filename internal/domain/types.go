package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders. A cart is an
// order whose status is OrderStatusCart.
type OrderStatus string

const (
	// OrderStatusCart indicates the order is still an open shopping cart.
	OrderStatusCart OrderStatus = "CART"
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusProcessing indicates payment settled and the bakery is preparing the order.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order left the bakery with a courier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusPaymentFailed indicates the last settlement attempt failed.
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
)

// ProductKind discriminates the product variants an order item may reference.
type ProductKind string

const (
	// ProductKindCake references a cake product.
	ProductKindCake ProductKind = "cake"
	// ProductKindPartySupply references a party supply product.
	ProductKindPartySupply ProductKind = "party_supply"
)

// ProductRef is a tagged reference to a purchasable product.
type ProductRef struct {
	Kind ProductKind
	ID   string
}

// CustomDesign carries customer-provided decoration instructions for a cake item.
type CustomDesign struct {
	ImagePath string
	Notes     string
}

// OrderAddon stores one addon line attached to an order item. Addons are
// unique per (item, addon) pair.
type OrderAddon struct {
	AddonID   string
	Name      string
	UnitPrice int64
	Quantity  int
}

// OrderItem stores a single product line within an order or cart.
// UnitPrice is the price captured when the line was added or last repriced.
type OrderItem struct {
	ID            string
	Product       ProductRef
	Name          string
	FlavorID      *string
	SizeVariantID *string
	Quantity      int
	UnitPrice     int64
	Notes         string
	Addons        []OrderAddon
	Design        *CustomDesign
	AddedAt       time.Time
	UpdatedAt     *time.Time
}

// OrderContact stores the customer contact snapshot used for notifications.
type OrderContact struct {
	Name  string
	Email string
	Phone string
}

// Order is the aggregate for both open carts and placed orders. Monetary
// amounts are whole toman.
type Order struct {
	ID           string
	Number       string
	UserID       string
	Status       OrderStatus
	Items        []OrderItem
	Address      *Address
	Contact      *OrderContact
	DeliveryAt   *time.Time
	Notes        string
	TrackingCode string
	TotalPrice   int64
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PlacedAt     *time.Time
	PaidAt       *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// IsCart reports whether the order is still an open cart.
func (o Order) IsCart() bool { return o.Status == OrderStatusCart }

// OrderStatusLog is one append-only entry in an order's status history.
type OrderStatusLog struct {
	ID        string
	OrderID   string
	NewStatus OrderStatus
	Actor     *string
	Note      string
	CreatedAt time.Time
}

// InternalOrderNote stores staff-only annotations attached to an order.
type InternalOrderNote struct {
	ID        string
	OrderID   string
	Author    string
	Text      string
	CreatedAt time.Time
}

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodOnline pays through the online gateway.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCOD pays cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodTransfer pays via manual bank transfer.
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// TransactionStatus enumerates settlement states for a transaction.
type TransactionStatus string

const (
	// TransactionStatusPending indicates the gateway has not settled the attempt yet.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusSuccess indicates the gateway verified the payment.
	TransactionStatusSuccess TransactionStatus = "success"
	// TransactionStatusFailed indicates the attempt failed or was rejected.
	TransactionStatusFailed TransactionStatus = "failed"
)

// Transaction records one settlement attempt against an order.
// Amount is in rial, the unit the gateway settles in. Authority is the
// gateway reference handed out at authorization; RefID is the final
// settlement tracking code and is unique across transactions.
type Transaction struct {
	ID            string
	OrderID       string
	Amount        int64
	Method        PaymentMethod
	Status        TransactionStatus
	Authority     string
	RefID         string
	CardPAN       string
	RawResponse   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     *time.Time
}

// NotificationChannel enumerates delivery channels for customer notifications.
type NotificationChannel string

const (
	// NotificationChannelSMS delivers via the SMS gateway.
	NotificationChannelSMS NotificationChannel = "sms"
	// NotificationChannelEmail delivers via email.
	NotificationChannelEmail NotificationChannel = "email"
	// NotificationChannelInApp delivers inside the application.
	NotificationChannelInApp NotificationChannel = "inapp"
)

// NotificationStatus enumerates delivery outcomes.
type NotificationStatus string

const (
	// NotificationStatusPending indicates the message has not been handed to the gateway.
	NotificationStatusPending NotificationStatus = "pending"
	// NotificationStatusSent indicates the gateway accepted the message.
	NotificationStatusSent NotificationStatus = "sent"
	// NotificationStatusFailed indicates the message could not be delivered.
	NotificationStatusFailed NotificationStatus = "failed"
)

// Notification is the persisted record of one delivery attempt, successful
// or not. Gateway fields keep the raw outcome for operator debugging.
type Notification struct {
	ID                string
	UserID            string
	OrderID           string
	Channel           NotificationChannel
	Message           string
	Status            NotificationStatus
	SentAt            *time.Time
	GatewayStatusCode string
	GatewayMessage    string
	PackID            string
	MessageIDs        []int64
	Cost              float64
	CreatedAt         time.Time
}

// SMSTemplate holds one message template keyed by the order event that
// triggers it.
type SMSTemplate struct {
	EventTrigger OrderStatus
	Body         string
	Description  string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PriceType describes how a cake's base price is interpreted.
type PriceType string

const (
	// PriceTypeFixed prices the cake as a flat amount.
	PriceTypeFixed PriceType = "FIXED"
	// PriceTypePerKg prices the cake per kilogram of estimated weight.
	PriceTypePerKg PriceType = "PER_KG"
)

// CakeSnapshot carries the catalog pricing inputs for a cake.
type CakeSnapshot struct {
	ID        string
	Name      string
	BasePrice int64
	PriceType PriceType
	SalePrice *int64
	Active    bool
}

// SizeVariantSnapshot carries the pricing inputs of a cake size variant.
// WeightOverrideKg, when set, replaces the size's estimated weight.
type SizeVariantSnapshot struct {
	ID               string
	CakeID           string
	SizeName         string
	EstimatedKg      float64
	WeightOverrideKg *float64
	PriceModifier    int64
}

// PartySupplySnapshot carries the flat price of a party supply product.
type PartySupplySnapshot struct {
	ID     string
	Name   string
	Price  int64
	Active bool
}

// AddonSnapshot carries the flat price of an addon.
type AddonSnapshot struct {
	ID     string
	Name   string
	Price  int64
	Active bool
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// NotificationStats aggregates delivery outcomes for admin dashboards.
type NotificationStats struct {
	Total   int64
	Sent    int64
	Failed  int64
	Pending int64
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
