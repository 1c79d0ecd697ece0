package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix        = "ord_"
	statusLogIDPrefix    = "log_"
	internalNoteIDPrefix = "not_"
	transactionIDPrefix  = "trx_"
	notificationIDPrefix = "ntf_"
	orderItemIDPrefix    = "itm_"

	orderNumberCounter = "orders"
	orderNumberOffset  = 2000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the persistence layer rejected the operation.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCart:           {domain.OrderStatusPendingPayment},
	domain.OrderStatusPendingPayment: {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusPaymentFailed},
	domain.OrderStatusPaymentFailed:  {domain.OrderStatusPendingPayment, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusDelivered},
}

var customerCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusPaymentFailed,
}

var notifiableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusPaymentFailed,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderNotifier delivers customer-facing notifications after a transition
// commits. Implementations must swallow their own failures.
type OrderNotifier interface {
	DispatchOrderStatus(ctx context.Context, order domain.Order, trigger domain.OrderStatus)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	StatusLogs  repositories.StatusLogRepository
	Notes       repositories.InternalNoteRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Notifier    OrderNotifier
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	statusLogs repositories.StatusLogRepository
	notes      repositories.InternalNoteRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	notifier   OrderNotifier
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.StatusLogs == nil {
		return nil, errors.New("order service: status log repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &orderService{
		orders:     deps.Orders,
		statusLogs: deps.StatusLogs,
		notes:      deps.Notes,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		notifier: deps.Notifier,
		logger:   logger,
	}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !isKnownStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	// Same-status requests are a no-op: no log entry, no notification.
	if order.Status == target {
		return order, nil
	}

	now := s.now()
	actor := strings.TrimSpace(cmd.ActorID)
	prev := order.Status

	if err := applyStatusTransition(&order, target, now); err != nil {
		return Order{}, err
	}
	if target == domain.OrderStatusCancelled && cmd.CancelReason != nil {
		order.CancelReason = cmd.CancelReason
	}

	entry := s.statusLogEntry(order, prev, actor, cmd.Note, now)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.statusLogs.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterTransition(ctx, order, prev, actor, now)

	return order, nil
}

func (s *orderService) BulkTransitionStatus(ctx context.Context, cmd BulkStatusTransitionCommand) (BulkTransitionResult, error) {
	if len(cmd.OrderIDs) == 0 {
		return BulkTransitionResult{}, fmt.Errorf("%w: order ids are required", ErrOrderInvalidInput)
	}
	if !isKnownStatus(cmd.TargetStatus) {
		return BulkTransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	ids := dedupeIDs(cmd.OrderIDs)

	// Unknown IDs fail the whole request before any order is touched.
	current := make(map[string]domain.OrderStatus, len(ids))
	for _, id := range ids {
		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return BulkTransitionResult{}, fmt.Errorf("%w: order %q", ErrOrderNotFound, id)
		}
		current[id] = order.Status
	}

	result := BulkTransitionResult{Failed: map[string]error{}}
	for _, id := range ids {
		if current[id] == cmd.TargetStatus {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		_, err := s.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:      id,
			TargetStatus: cmd.TargetStatus,
			ActorID:      cmd.ActorID,
		})
		if err != nil {
			result.Failed[id] = err
			continue
		}
		result.Updated++
	}
	return result, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !cmd.AsAdmin && !slices.Contains(customerCancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled by the customer", ErrOrderInvalidState, order.Status)
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	reason := strings.TrimSpace(cmd.Reason)

	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatusCancelled,
		ActorID:      cmd.ActorID,
		Note:         reason,
		CancelReason: optionalString(reason),
	})
}

func (s *orderService) SoftDelete(ctx context.Context, cmd SoftDeleteOrdersCommand) (int, error) {
	if len(cmd.OrderIDs) == 0 {
		return 0, fmt.Errorf("%w: order ids are required", ErrOrderInvalidInput)
	}

	now := s.now()
	deleted := 0
	for _, id := range dedupeIDs(cmd.OrderIDs) {
		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return deleted, s.mapRepositoryError(err)
		}
		if order.Deleted {
			continue
		}
		if err := s.orders.SetDeleted(ctx, id, true, now); err != nil {
			return deleted, s.mapRepositoryError(err)
		}
		deleted++

		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventDeleted,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			ActorID:     cmd.ActorID,
			OccurredAt:  now,
		})
	}
	return deleted, nil
}

func (s *orderService) StatusHistory(ctx context.Context, orderID string) ([]OrderStatusLog, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, s.mapRepositoryError(err)
	}

	logs, err := s.statusLogs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	// Newest first for history views.
	slices.SortFunc(logs, func(a, b OrderStatusLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return logs, nil
}

func (s *orderService) AddInternalNote(ctx context.Context, cmd AddInternalNoteCommand) (InternalOrderNote, error) {
	if s.notes == nil {
		return InternalOrderNote{}, errors.New("order service: internal note repository not configured")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return InternalOrderNote{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return InternalOrderNote{}, fmt.Errorf("%w: note text is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return InternalOrderNote{}, s.mapRepositoryError(err)
	}

	note := InternalOrderNote{
		ID:        internalNoteIDPrefix + s.newID(),
		OrderID:   orderID,
		Author:    strings.TrimSpace(cmd.Author),
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.notes.Append(ctx, note); err != nil {
		return InternalOrderNote{}, s.mapRepositoryError(err)
	}
	return note, nil
}

func (s *orderService) ListInternalNotes(ctx context.Context, orderID string) ([]InternalOrderNote, error) {
	if s.notes == nil {
		return nil, errors.New("order service: internal note repository not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	notes, err := s.notes.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return notes, nil
}

// afterTransition runs the post-commit side effects. Each is independently
// fire-and-forget: a failure is logged and never reaches the caller.
func (s *orderService) afterTransition(ctx context.Context, order Order, prev domain.OrderStatus, actor string, now time.Time) {
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		ActorID:        actor,
		OccurredAt:     now,
	})

	if s.notifier != nil && slices.Contains(notifiableStatuses, order.Status) {
		s.notifier.DispatchOrderStatus(ctx, order, order.Status)
	}
}

func (s *orderService) statusLogEntry(order Order, prev domain.OrderStatus, actor, note string, now time.Time) OrderStatusLog {
	note = strings.TrimSpace(note)
	if note == "" {
		by := actor
		if by == "" {
			by = "system"
		}
		note = fmt.Sprintf("status changed from %s to %s by %s", prev, order.Status, by)
	}
	return OrderStatusLog{
		ID:        statusLogIDPrefix + s.newID(),
		OrderID:   order.ID,
		NewStatus: order.Status,
		Actor:     optionalString(actor),
		Note:      note,
		CreatedAt: now,
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	return translateOrderRepositoryError(err)
}

func translateOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// applyStatusTransition validates and applies a status change in place,
// stamping the per-status timestamps.
func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	updateStatusTimestamps(order, target, now)
	return nil
}

func updateStatusTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPendingPayment:
		if order.PlacedAt == nil {
			order.PlacedAt = &now
		}
	case domain.OrderStatusProcessing:
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStateTransitions[current], target)
}

func isKnownStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusCart, domain.OrderStatusPendingPayment, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
		domain.OrderStatusPaymentFailed:
		return true
	}
	return false
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func formatOrderNumber(seq int64) string {
	return fmt.Sprintf("#BAKE-%d", orderNumberOffset+seq)
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
