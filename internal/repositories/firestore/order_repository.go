package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	orderCollection = "orders"

	// Carts live in the orders collection under a deterministic per-user
	// document ID so concurrent get-or-create calls converge.
	cartDocPrefix = "cart_"

	orderStatusInLimit = 10
)

// OrderRepository persists the order aggregate, open carts included, in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert stores a new order document. Inserting an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(docRef, doc))
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces an existing order document inside a transaction so that a
// concurrent write surfaces as a conflict instead of a lost update.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if _, err := tx.Get(docRef); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return pfirestore.WrapError("orders.update", tx.Set(docRef, doc))
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(docRef); err != nil {
			return err
		}
		return tx.Set(docRef, doc)
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindCartByUser loads the user's open cart via its deterministic document ID.
func (r *OrderRepository) FindCartByUser(ctx context.Context, userID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Order{}, errors.New("order repository: user id is required")
	}

	doc, err := r.base.Get(ctx, cartDocPrefix+uid)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertCart writes the cart document under its per-user key and returns the
// stored aggregate with the key as its ID.
func (r *OrderRepository) UpsertCart(ctx context.Context, cart domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Order{}, errors.New("order repository: cart user id is required")
	}

	cartID := cartDocPrefix + uid
	doc := encodeOrderDocument(cart)
	doc.Status = string(domain.OrderStatusCart)

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		docRef, err := r.base.DocumentRef(ctx, cartID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := tx.Set(docRef, doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.upsert_cart", err)
		}
		return doc.toDomain(cartID), nil
	}

	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Order{}, err
	}

	saved := doc.toDomain(cartID)
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = result.UpdateTime
	}
	return saved, nil
}

// List returns orders matching the filter ordered by creation time descending.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	statuses := normaliseOrderStatuses(filter.Status)
	excluded := excludedStatusSet(filter.ExcludeStatus)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			if len(statuses) > orderStatusInLimit {
				statuses = statuses[:orderStatusInLimit]
			}
			q = q.Where("status", "in", statuses)
		}
		if !filter.IncludeDeleted {
			q = q.Where("deleted", "==", false)
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		// Status exclusion runs here: a Firestore not-in clause cannot be
		// combined with the createdAt ordering.
		if _, skip := excluded[domain.OrderStatus(doc.Data.Status)]; skip {
			continue
		}
		items = append(items, doc.Data.toDomain(doc.ID))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// SetDeleted flips the soft-delete marker on an order.
func (r *OrderRepository) SetDeleted(ctx context.Context, orderID string, deleted bool, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	_, err := r.base.Update(ctx, orderID, []firestore.Update{
		{Path: "deleted", Value: deleted},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return err
}

func normaliseOrderStatuses(statuses []domain.OrderStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.TrimSpace(string(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func excludedStatusSet(statuses []domain.OrderStatus) map[domain.OrderStatus]struct{} {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, status := range statuses {
		set[status] = struct{}{}
	}
	return set
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

type orderDocument struct {
	Number       string               `firestore:"number,omitempty"`
	UserID       string               `firestore:"userId"`
	Status       string               `firestore:"status"`
	Items        []orderItemDocument  `firestore:"items,omitempty"`
	Address      *orderAddressDoc     `firestore:"address,omitempty"`
	Contact      *orderContactDoc     `firestore:"contact,omitempty"`
	DeliveryAt   *time.Time           `firestore:"deliveryAt,omitempty"`
	Notes        string               `firestore:"notes,omitempty"`
	TrackingCode string               `firestore:"trackingCode,omitempty"`
	TotalPrice   int64                `firestore:"totalPrice"`
	Deleted      bool                 `firestore:"deleted"`
	CreatedAt    time.Time            `firestore:"createdAt"`
	UpdatedAt    time.Time            `firestore:"updatedAt"`
	PlacedAt     *time.Time           `firestore:"placedAt,omitempty"`
	PaidAt       *time.Time           `firestore:"paidAt,omitempty"`
	ShippedAt    *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt  *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt  *time.Time           `firestore:"cancelledAt,omitempty"`
	CancelReason *string              `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ID            string               `firestore:"id"`
	ProductKind   string               `firestore:"productKind"`
	ProductID     string               `firestore:"productId"`
	Name          string               `firestore:"name"`
	FlavorID      *string              `firestore:"flavorId,omitempty"`
	SizeVariantID *string              `firestore:"sizeVariantId,omitempty"`
	Quantity      int                  `firestore:"quantity"`
	UnitPrice     int64                `firestore:"unitPrice"`
	Notes         string               `firestore:"notes,omitempty"`
	Addons        []orderAddonDocument `firestore:"addons,omitempty"`
	Design        *orderDesignDoc      `firestore:"design,omitempty"`
	AddedAt       time.Time            `firestore:"addedAt"`
	UpdatedAt     *time.Time           `firestore:"updatedAt,omitempty"`
}

type orderAddonDocument struct {
	AddonID   string `firestore:"addonId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type orderDesignDoc struct {
	ImagePath string `firestore:"imagePath,omitempty"`
	Notes     string `firestore:"notes,omitempty"`
}

type orderAddressDoc struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderContactDoc struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:       strings.TrimSpace(order.Number),
		UserID:       strings.TrimSpace(order.UserID),
		Status:       string(order.Status),
		Notes:        order.Notes,
		TrackingCode: strings.TrimSpace(order.TrackingCode),
		TotalPrice:   order.TotalPrice,
		Deleted:      order.Deleted,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		DeliveryAt:   utcTimePtr(order.DeliveryAt),
		PlacedAt:     utcTimePtr(order.PlacedAt),
		PaidAt:       utcTimePtr(order.PaidAt),
		ShippedAt:    utcTimePtr(order.ShippedAt),
		DeliveredAt:  utcTimePtr(order.DeliveredAt),
		CancelledAt:  utcTimePtr(order.CancelledAt),
		CancelReason: order.CancelReason,
	}

	if len(order.Items) > 0 {
		doc.Items = make([]orderItemDocument, 0, len(order.Items))
		for _, item := range order.Items {
			doc.Items = append(doc.Items, encodeOrderItem(item))
		}
	}
	if order.Address != nil {
		doc.Address = &orderAddressDoc{
			Recipient:  order.Address.Recipient,
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Country:    order.Address.Country,
			Phone:      order.Address.Phone,
		}
	}
	if order.Contact != nil {
		doc.Contact = &orderContactDoc{
			Name:  order.Contact.Name,
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}
	return doc
}

func encodeOrderItem(item domain.OrderItem) orderItemDocument {
	doc := orderItemDocument{
		ID:            item.ID,
		ProductKind:   string(item.Product.Kind),
		ProductID:     item.Product.ID,
		Name:          item.Name,
		FlavorID:      item.FlavorID,
		SizeVariantID: item.SizeVariantID,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Notes:         item.Notes,
		AddedAt:       item.AddedAt.UTC(),
		UpdatedAt:     utcTimePtr(item.UpdatedAt),
	}
	if len(item.Addons) > 0 {
		doc.Addons = make([]orderAddonDocument, 0, len(item.Addons))
		for _, addon := range item.Addons {
			doc.Addons = append(doc.Addons, orderAddonDocument{
				AddonID:   addon.AddonID,
				Name:      addon.Name,
				UnitPrice: addon.UnitPrice,
				Quantity:  addon.Quantity,
			})
		}
	}
	if item.Design != nil {
		doc.Design = &orderDesignDoc{
			ImagePath: item.Design.ImagePath,
			Notes:     item.Design.Notes,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:           id,
		Number:       d.Number,
		UserID:       d.UserID,
		Status:       domain.OrderStatus(d.Status),
		Notes:        d.Notes,
		TrackingCode: d.TrackingCode,
		TotalPrice:   d.TotalPrice,
		Deleted:      d.Deleted,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		DeliveryAt:   d.DeliveryAt,
		PlacedAt:     d.PlacedAt,
		PaidAt:       d.PaidAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CancelledAt:  d.CancelledAt,
		CancelReason: d.CancelReason,
	}
	if len(d.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(d.Items))
		for _, item := range d.Items {
			order.Items = append(order.Items, item.toDomain())
		}
	}
	if d.Address != nil {
		order.Address = &domain.Address{
			Recipient:  d.Address.Recipient,
			Line1:      d.Address.Line1,
			Line2:      d.Address.Line2,
			City:       d.Address.City,
			State:      d.Address.State,
			PostalCode: d.Address.PostalCode,
			Country:    d.Address.Country,
			Phone:      d.Address.Phone,
		}
	}
	if d.Contact != nil {
		order.Contact = &domain.OrderContact{
			Name:  d.Contact.Name,
			Email: d.Contact.Email,
			Phone: d.Contact.Phone,
		}
	}
	return order
}

func (d orderItemDocument) toDomain() domain.OrderItem {
	item := domain.OrderItem{
		ID: d.ID,
		Product: domain.ProductRef{
			Kind: domain.ProductKind(d.ProductKind),
			ID:   d.ProductID,
		},
		Name:          d.Name,
		FlavorID:      d.FlavorID,
		SizeVariantID: d.SizeVariantID,
		Quantity:      d.Quantity,
		UnitPrice:     d.UnitPrice,
		Notes:         d.Notes,
		AddedAt:       d.AddedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if len(d.Addons) > 0 {
		item.Addons = make([]domain.OrderAddon, 0, len(d.Addons))
		for _, addon := range d.Addons {
			item.Addons = append(item.Addons, domain.OrderAddon{
				AddonID:   addon.AddonID,
				Name:      addon.Name,
				UnitPrice: addon.UnitPrice,
				Quantity:  addon.Quantity,
			})
		}
	}
	if d.Design != nil {
		item.Design = &domain.CustomDesign{
			ImagePath: d.Design.ImagePath,
			Notes:     d.Design.Notes,
		}
	}
	return item
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
