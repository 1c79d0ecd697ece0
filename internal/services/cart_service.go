package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals bad cart request data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the referenced cart line does not exist.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartEmpty indicates checkout was attempted on an empty cart.
	ErrCartEmpty = errors.New("cart: empty")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Orders      repositories.OrderRepository
	StatusLogs  repositories.StatusLogRepository
	Counters    repositories.CounterRepository
	Catalog     CatalogGateway
	Pricing     PricingEngine
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Notifier    OrderNotifier
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	orders     repositories.OrderRepository
	statusLogs repositories.StatusLogRepository
	counters   repositories.CounterRepository
	catalog    CatalogGateway
	pricing    PricingEngine
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	notifier   OrderNotifier
	sanitize   func(string) string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Orders == nil {
		return nil, errors.New("cart service: order repository is required")
	}
	if deps.StatusLogs == nil {
		return nil, errors.New("cart service: status log repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("cart service: counter repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog gateway is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
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
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		orders:     deps.Orders,
		statusLogs: deps.StatusLogs,
		counters:   deps.Counters,
		catalog:    deps.Catalog,
		pricing:    deps.Pricing,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		notifier: deps.Notifier,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.orders.FindCartByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if translated := translateOrderRepositoryError(err); !errors.Is(translated, ErrOrderNotFound) {
		return Order{}, translated
	}

	now := s.clock()
	fresh := Order{
		UserID:    userID,
		Status:    domain.OrderStatusCart,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.orders.UpsertCart(ctx, fresh)
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}
	return created, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Order, error) {
	if cmd.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.Product.ID)
	if productID == "" {
		return Order{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Order{}, err
	}

	flavorID := trimPtr(cmd.FlavorID)
	sizeVariantID := trimPtr(cmd.SizeVariantID)
	notes := s.sanitize(cmd.Notes)
	now := s.clock()

	name, err := s.productName(ctx, cmd.Product)
	if err != nil {
		return Order{}, err
	}

	// Matching lines without a design merge into one.
	merged := false
	for i := range cart.Items {
		existing := &cart.Items[i]
		if existing.Product != cmd.Product || existing.Design != nil {
			continue
		}
		if !stringPtrEqual(existing.FlavorID, flavorID) || !stringPtrEqual(existing.SizeVariantID, sizeVariantID) {
			continue
		}
		existing.Quantity += cmd.Quantity
		if notes != "" {
			existing.Notes = notes
		}
		existing.UpdatedAt = &now
		merged = true
		break
	}

	if !merged {
		cart.Items = append(cart.Items, OrderItem{
			ID:            orderItemIDPrefix + s.newID(),
			Product:       cmd.Product,
			Name:          name,
			FlavorID:      flavorID,
			SizeVariantID: sizeVariantID,
			Quantity:      cmd.Quantity,
			Notes:         notes,
			AddedAt:       now,
			UpdatedAt:     &now,
		})
	}

	return s.saveCart(ctx, cart)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Order, error) {
	if cmd.Quantity < 0 {
		return Order{}, fmt.Errorf("%w: quantity cannot be negative", ErrCartInvalidInput)
	}

	cart, item, err := s.findCartItem(ctx, cmd.UserID, cmd.ItemID)
	if err != nil {
		return Order{}, err
	}

	// Quantity zero removes the line.
	if cmd.Quantity == 0 {
		cart.Items = removeItem(cart.Items, item.ID)
		return s.saveCart(ctx, cart)
	}

	now := s.clock()
	for i := range cart.Items {
		if cart.Items[i].ID == item.ID {
			cart.Items[i].Quantity = cmd.Quantity
			cart.Items[i].UpdatedAt = &now
			break
		}
	}
	return s.saveCart(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Order, error) {
	cart, item, err := s.findCartItem(ctx, cmd.UserID, cmd.ItemID)
	if err != nil {
		return Order{}, err
	}
	cart.Items = removeItem(cart.Items, item.ID)
	return s.saveCart(ctx, cart)
}

func (s *cartService) AttachDesign(ctx context.Context, cmd AttachDesignCommand) (Order, error) {
	if cmd.Design == nil {
		return Order{}, fmt.Errorf("%w: design payload is required", ErrCartInvalidInput)
	}
	imagePath := strings.TrimSpace(cmd.Design.ImagePath)
	designNotes := s.sanitize(cmd.Design.Notes)
	if imagePath == "" && designNotes == "" {
		return Order{}, fmt.Errorf("%w: design requires an image or notes", ErrCartInvalidInput)
	}

	cart, item, err := s.findCartItem(ctx, cmd.UserID, cmd.ItemID)
	if err != nil {
		return Order{}, err
	}
	if item.Product.Kind != domain.ProductKindCake {
		return Order{}, fmt.Errorf("%w: designs apply to cakes only", ErrCartInvalidInput)
	}

	now := s.clock()
	for i := range cart.Items {
		if cart.Items[i].ID == item.ID {
			cart.Items[i].Design = &domain.CustomDesign{
				ImagePath: imagePath,
				Notes:     designNotes,
			}
			cart.Items[i].UpdatedAt = &now
			break
		}
	}
	return s.saveCart(ctx, cart)
}

func (s *cartService) SetItemAddons(ctx context.Context, cmd SetItemAddonsCommand) (Order, error) {
	cart, item, err := s.findCartItem(ctx, cmd.UserID, cmd.ItemID)
	if err != nil {
		return Order{}, err
	}

	addons := make([]domain.OrderAddon, 0, len(cmd.Addons))
	for _, input := range cmd.Addons {
		addonID := strings.TrimSpace(input.AddonID)
		if addonID == "" {
			return Order{}, fmt.Errorf("%w: addon id is required", ErrCartInvalidInput)
		}
		if input.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: addon quantity must be positive", ErrCartInvalidInput)
		}
		snapshot, err := s.catalog.Addon(ctx, addonID)
		if err != nil {
			return Order{}, fmt.Errorf("%w: addon %s: %v", ErrPricingProduct, addonID, err)
		}
		if !snapshot.Active {
			return Order{}, fmt.Errorf("%w: addon %s is inactive", ErrPricingProduct, addonID)
		}
		addons = append(addons, domain.OrderAddon{
			AddonID:   snapshot.ID,
			Name:      snapshot.Name,
			UnitPrice: snapshot.Price,
			Quantity:  input.Quantity,
		})
	}

	now := s.clock()
	for i := range cart.Items {
		if cart.Items[i].ID == item.ID {
			cart.Items[i].Addons = addons
			cart.Items[i].UpdatedAt = &now
			break
		}
	}
	return s.saveCart(ctx, cart)
}

func (s *cartService) Reorder(ctx context.Context, cmd ReorderCommand) (Order, error) {
	sourceID := strings.TrimSpace(cmd.SourceOrderID)
	if sourceID == "" {
		return Order{}, fmt.Errorf("%w: source order id is required", ErrCartInvalidInput)
	}

	source, err := s.orders.FindByID(ctx, sourceID)
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}
	if source.UserID != strings.TrimSpace(cmd.UserID) {
		return Order{}, fmt.Errorf("%w: order %q", ErrOrderNotFound, sourceID)
	}
	if source.IsCart() {
		return Order{}, fmt.Errorf("%w: cannot reorder from a cart", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	copied := 0
	for _, item := range source.Items {
		// Products gone from the catalog are skipped, not fatal.
		if _, err := s.pricing.PriceItem(ctx, item); err != nil {
			s.logger(ctx, "cart.reorder.item.skipped", map[string]any{
				"order":   sourceID,
				"item":    item.ID,
				"product": item.Product.ID,
				"error":   err.Error(),
			})
			continue
		}
		clone := item
		clone.ID = orderItemIDPrefix + s.newID()
		clone.AddedAt = now
		clone.UpdatedAt = &now
		clone.Addons = append([]domain.OrderAddon(nil), item.Addons...)
		if item.Design != nil {
			design := *item.Design
			clone.Design = &design
		}
		cart.Items = append(cart.Items, clone)
		copied++
	}
	if copied == 0 {
		return Order{}, fmt.Errorf("%w: no items from order %s are still available", ErrCartInvalidInput, sourceID)
	}

	return s.saveCart(ctx, cart)
}

func (s *cartService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if cmd.Address == nil {
		return Order{}, fmt.Errorf("%w: delivery address is required", ErrCartInvalidInput)
	}
	if cmd.Contact == nil || strings.TrimSpace(cmd.Contact.Name) == "" {
		return Order{}, fmt.Errorf("%w: contact name is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrCartEmpty
	}

	now := s.clock()
	if cmd.DeliveryAt != nil && cmd.DeliveryAt.Before(now) {
		return Order{}, fmt.Errorf("%w: delivery time is in the past", ErrCartInvalidInput)
	}

	if err := s.repriceCart(ctx, &cart); err != nil {
		return Order{}, err
	}

	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}

	order := cart
	order.ID = orderIDPrefix + s.newID()
	order.Number = formatOrderNumber(seq)
	order.Address = cloneAddress(cmd.Address)
	order.Contact = &domain.OrderContact{
		Name:  strings.TrimSpace(cmd.Contact.Name),
		Email: strings.TrimSpace(cmd.Contact.Email),
		Phone: strings.TrimSpace(cmd.Contact.Phone),
	}
	order.DeliveryAt = cmd.DeliveryAt
	order.Notes = s.sanitize(cmd.Notes)
	order.CreatedAt = now

	if err := applyStatusTransition(&order, domain.OrderStatusPendingPayment, now); err != nil {
		return Order{}, err
	}

	entry := OrderStatusLog{
		ID:        statusLogIDPrefix + s.newID(),
		OrderID:   order.ID,
		NewStatus: order.Status,
		Actor:     optionalString(order.UserID),
		Note:      "order placed",
		CreatedAt: now,
	}

	emptied := cart
	emptied.Items = nil
	emptied.TotalPrice = 0
	emptied.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return translateOrderRepositoryError(err)
		}
		if _, err := s.orders.UpsertCart(txCtx, emptied); err != nil {
			return translateOrderRepositoryError(err)
		}
		if err := s.statusLogs.Append(txCtx, entry); err != nil {
			return translateOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if s.events != nil {
		event := OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: domain.OrderStatusCart,
			CurrentStatus:  order.Status,
			ActorID:        order.UserID,
			OccurredAt:     now,
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "order.event.publish.failed", map[string]any{
				"type":  event.Type,
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}
	if s.notifier != nil {
		s.notifier.DispatchOrderStatus(ctx, order, domain.OrderStatusPendingPayment)
	}

	return order, nil
}

func (s *cartService) findCartItem(ctx context.Context, userID, itemID string) (Order, OrderItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return Order{}, OrderItem{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Order{}, OrderItem{}, err
	}
	for _, item := range cart.Items {
		if item.ID == itemID {
			return cart, item, nil
		}
	}
	return Order{}, OrderItem{}, fmt.Errorf("%w: %q", ErrCartItemNotFound, itemID)
}

// saveCart reprices the cart and persists it through the upsert path.
func (s *cartService) saveCart(ctx context.Context, cart Order) (Order, error) {
	if err := s.repriceCart(ctx, &cart); err != nil {
		return Order{}, err
	}
	cart.UpdatedAt = s.clock()

	saved, err := s.orders.UpsertCart(ctx, cart)
	if err != nil {
		return Order{}, translateOrderRepositoryError(err)
	}
	return saved, nil
}

// repriceCart refreshes every unit price from the catalog and recomputes
// the cart total. Carts track current catalog prices; totals freeze at
// checkout.
func (s *cartService) repriceCart(ctx context.Context, cart *Order) error {
	if len(cart.Items) == 0 {
		cart.TotalPrice = 0
		return nil
	}
	for i := range cart.Items {
		price, err := s.pricing.PriceItem(ctx, cart.Items[i])
		if err != nil {
			return err
		}
		cart.Items[i].UnitPrice = price
	}
	breakdown, err := s.pricing.PriceOrder(ctx, *cart)
	if err != nil {
		return err
	}
	cart.TotalPrice = breakdown.Total
	return nil
}

func (s *cartService) productName(ctx context.Context, ref domain.ProductRef) (string, error) {
	switch ref.Kind {
	case domain.ProductKindCake:
		cake, err := s.catalog.Cake(ctx, ref.ID)
		if err != nil {
			return "", fmt.Errorf("%w: cake %s: %v", ErrPricingProduct, ref.ID, err)
		}
		if !cake.Active {
			return "", fmt.Errorf("%w: cake %s is inactive", ErrPricingProduct, ref.ID)
		}
		return cake.Name, nil
	case domain.ProductKindPartySupply:
		supply, err := s.catalog.PartySupply(ctx, ref.ID)
		if err != nil {
			return "", fmt.Errorf("%w: party supply %s: %v", ErrPricingProduct, ref.ID, err)
		}
		if !supply.Active {
			return "", fmt.Errorf("%w: party supply %s is inactive", ErrPricingProduct, ref.ID)
		}
		return supply.Name, nil
	default:
		return "", fmt.Errorf("%w: unknown product kind %q", ErrCartInvalidInput, ref.Kind)
	}
}

func (s *cartService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func removeItem(items []OrderItem, itemID string) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if item.ID != itemID {
			out = append(out, item)
		}
	}
	return out
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneAddress(addr *domain.Address) *domain.Address {
	if addr == nil {
		return nil
	}
	clone := *addr
	return &clone
}
