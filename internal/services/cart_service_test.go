package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/bakejoy/api/internal/domain"
)

// cartFixture wires a cart service against an in-memory order store and a
// stub catalog with one fixed-price cake, one party supply and one addon.
type cartFixture struct {
	svc      CartService
	carts    map[string]domain.Order
	inserted []domain.Order
	logs     []domain.OrderStatusLog
	notifier *captureNotifier
	events   *captureOrderEvents
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()

	f := &cartFixture{
		carts:    map[string]domain.Order{},
		notifier: &captureNotifier{},
		events:   &captureOrderEvents{},
	}

	catalog := &stubCatalog{
		cakeFn: func(_ context.Context, id string) (domain.CakeSnapshot, error) {
			if id != "cake_1" {
				return domain.CakeSnapshot{}, errors.New("unknown cake")
			}
			return domain.CakeSnapshot{ID: "cake_1", Name: "Chocolate Dream", BasePrice: 100000, PriceType: domain.PriceTypeFixed, Active: true}, nil
		},
		supplyFn: func(_ context.Context, id string) (domain.PartySupplySnapshot, error) {
			if id != "sup_1" {
				return domain.PartySupplySnapshot{}, errors.New("unknown supply")
			}
			return domain.PartySupplySnapshot{ID: "sup_1", Name: "Candles", Price: 20000, Active: true}, nil
		},
		addonFn: func(_ context.Context, id string) (domain.AddonSnapshot, error) {
			if id != "add_1" {
				return domain.AddonSnapshot{}, errors.New("unknown addon")
			}
			return domain.AddonSnapshot{ID: "add_1", Name: "Sparklers", Price: 5000, Active: true}, nil
		},
	}

	pricing, err := NewCakePricingEngine(CakePricingEngineDeps{Catalog: catalog})
	if err != nil {
		t.Fatalf("NewCakePricingEngine: %v", err)
	}

	orders := &stubOrderRepo{
		findCartFn: func(_ context.Context, userID string) (domain.Order, error) {
			cart, ok := f.carts[userID]
			if !ok {
				return domain.Order{}, repoNotFound{}
			}
			return cart, nil
		},
		upsertCartFn: func(_ context.Context, cart domain.Order) (domain.Order, error) {
			if cart.ID == "" {
				cart.ID = "cart_" + cart.UserID
			}
			f.carts[cart.UserID] = cart
			return cart, nil
		},
		insertFn: func(_ context.Context, order domain.Order) error {
			f.inserted = append(f.inserted, order)
			return nil
		},
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			for _, order := range f.inserted {
				if order.ID == id {
					return order, nil
				}
			}
			return domain.Order{}, repoNotFound{}
		},
	}

	svc, err := NewCartService(CartServiceDeps{
		Orders: orders,
		StatusLogs: &stubStatusLogRepo{
			appendFn: func(_ context.Context, entry domain.OrderStatusLog) error {
				f.logs = append(f.logs, entry)
				return nil
			},
		},
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
				if counterID != orderNumberCounter {
					return 0, errors.New("unexpected counter")
				}
				return 7, nil
			},
		},
		Catalog:     catalog,
		Pricing:     pricing,
		Clock:       fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("01H"),
		Events:      f.events,
		Notifier:    f.notifier,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	f.svc = svc
	return f
}

func TestCartServiceGetOrCreateCart(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.GetOrCreateCart(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetOrCreateCart: %v", err)
	}
	if cart.Status != domain.OrderStatusCart {
		t.Fatalf("expected CART status, got %s", cart.Status)
	}
	if cart.ID == "" {
		t.Fatal("expected cart id to be assigned")
	}

	again, err := f.svc.GetOrCreateCart(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetOrCreateCart: %v", err)
	}
	if again.ID != cart.ID {
		t.Fatalf("expected same cart, got %s and %s", cart.ID, again.ID)
	}
}

func TestCartServiceAddItemSnapshotsNameAndPrice(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 2,
		Notes:    "  less sugar  ",
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	item := cart.Items[0]
	if item.Name != "Chocolate Dream" {
		t.Fatalf("expected snapshotted name, got %q", item.Name)
	}
	if item.UnitPrice != 100000 {
		t.Fatalf("expected unit price 100000, got %d", item.UnitPrice)
	}
	if item.Notes != "less sugar" {
		t.Fatalf("expected trimmed notes, got %q", item.Notes)
	}
	if cart.TotalPrice != 200000 {
		t.Fatalf("expected total 200000, got %d", cart.TotalPrice)
	}
}

func TestCartServiceAddItemMergesMatchingLines(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cmd := AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 1,
	}
	if _, err := f.svc.AddItem(ctx, cmd); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cart, err := f.svc.AddItem(ctx, cmd)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected lines to merge, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cases := []AddCartItemCommand{
		{UserID: "user_1", Product: domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"}, Quantity: 0},
		{UserID: "user_1", Product: domain.ProductRef{Kind: domain.ProductKindCake}, Quantity: 1},
	}
	for i, cmd := range cases {
		if _, err := f.svc.AddItem(ctx, cmd); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("case %d: expected ErrCartInvalidInput, got %v", i, err)
		}
	}
}

func TestCartServiceUpdateItemQuantity(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	itemID := cart.Items[0].ID

	cart, err = f.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "user_1", ItemID: itemID, Quantity: 3})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.Items[0].Quantity != 3 || cart.TotalPrice != 300000 {
		t.Fatalf("expected qty 3 total 300000, got qty %d total %d", cart.Items[0].Quantity, cart.TotalPrice)
	}

	cart, err = f.svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "user_1", ItemID: itemID, Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if len(cart.Items) != 0 || cart.TotalPrice != 0 {
		t.Fatalf("expected empty cart after zero quantity, got %+v", cart.Items)
	}
}

func TestCartServiceRemoveItemUnknownID(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	if _, err := f.svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user_1", ItemID: "itm_missing"}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartServiceAttachDesign(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err = f.svc.AttachDesign(ctx, AttachDesignCommand{
		UserID: "user_1",
		ItemID: cart.Items[0].ID,
		Design: &domain.CustomDesign{ImagePath: "designs/u1/birthday.png", Notes: "pink roses"},
	})
	if err != nil {
		t.Fatalf("AttachDesign: %v", err)
	}
	if cart.Items[0].Design == nil || cart.Items[0].Design.ImagePath != "designs/u1/birthday.png" {
		t.Fatalf("expected design attached, got %+v", cart.Items[0].Design)
	}
}

func TestCartServiceAttachDesignRejectsPartySupply(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindPartySupply, ID: "sup_1"},
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	_, err = f.svc.AttachDesign(ctx, AttachDesignCommand{
		UserID: "user_1",
		ItemID: cart.Items[0].ID,
		Design: &domain.CustomDesign{Notes: "happy birthday"},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceSetItemAddons(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	cart, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err = f.svc.SetItemAddons(ctx, SetItemAddonsCommand{
		UserID: "user_1",
		ItemID: cart.Items[0].ID,
		Addons: []CartAddonInput{{AddonID: "add_1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("SetItemAddons: %v", err)
	}
	addons := cart.Items[0].Addons
	if len(addons) != 1 || addons[0].Name != "Sparklers" || addons[0].UnitPrice != 5000 {
		t.Fatalf("expected snapshotted addon, got %+v", addons)
	}
	// 100000 + 5000*2
	if cart.TotalPrice != 110000 {
		t.Fatalf("expected total 110000, got %d", cart.TotalPrice)
	}
}

func TestCartServiceCheckout(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	if _, err := f.svc.AddItem(ctx, AddCartItemCommand{
		UserID:   "user_1",
		Product:  domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"},
		Quantity: 1,
	}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	order, err := f.svc.Checkout(ctx, CheckoutCommand{
		UserID:  "user_1",
		Address: &domain.Address{Line1: "12 Azadi St", City: "Tehran", Country: "IR"},
		Contact: &domain.OrderContact{Name: "Sara", Phone: "09121234567"},
		Notes:   "ring the bell",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", order.Status)
	}
	if order.Number != "#BAKE-2007" {
		t.Fatalf("expected order number #BAKE-2007, got %q", order.Number)
	}
	if !strings.HasPrefix(order.ID, orderIDPrefix) {
		t.Fatalf("expected order id prefix, got %q", order.ID)
	}
	if order.PlacedAt == nil {
		t.Fatal("expected placed timestamp")
	}
	if order.TotalPrice != 100000 {
		t.Fatalf("expected frozen total 100000, got %d", order.TotalPrice)
	}

	if len(f.inserted) != 1 {
		t.Fatalf("expected order inserted, got %d", len(f.inserted))
	}
	if len(f.logs) != 1 || f.logs[0].NewStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("expected status log for checkout, got %+v", f.logs)
	}
	if len(f.notifier.triggers) != 1 || f.notifier.triggers[0] != domain.OrderStatusPendingPayment {
		t.Fatalf("expected notification dispatch, got %+v", f.notifier.triggers)
	}
	if len(f.events.events) != 1 || f.events.events[0].PreviousStatus != domain.OrderStatusCart {
		t.Fatalf("expected status change event, got %+v", f.events.events)
	}

	emptied := f.carts["user_1"]
	if len(emptied.Items) != 0 || emptied.TotalPrice != 0 {
		t.Fatalf("expected cart emptied after checkout, got %+v", emptied)
	}
}

func TestCartServiceCheckoutRequiresItemsAndAddress(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	_, err := f.svc.Checkout(ctx, CheckoutCommand{
		UserID:  "user_1",
		Address: &domain.Address{Line1: "12 Azadi St"},
		Contact: &domain.OrderContact{Name: "Sara"},
	})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty, got %v", err)
	}

	if _, err := f.svc.Checkout(ctx, CheckoutCommand{UserID: "user_1"}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput without address, got %v", err)
	}
}

func TestCartServiceReorderCopiesAvailableItems(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	f.inserted = append(f.inserted, domain.Order{
		ID:     "ord_old",
		UserID: "user_1",
		Status: domain.OrderStatusDelivered,
		Items: []domain.OrderItem{
			{ID: "itm_a", Product: domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"}, Quantity: 1},
			{ID: "itm_b", Product: domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_gone"}, Quantity: 1},
		},
	})

	cart, err := f.svc.Reorder(ctx, ReorderCommand{UserID: "user_1", SourceOrderID: "ord_old"})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected only available item copied, got %d", len(cart.Items))
	}
	if cart.Items[0].Product.ID != "cake_1" {
		t.Fatalf("unexpected product %q", cart.Items[0].Product.ID)
	}
	if cart.Items[0].ID == "itm_a" {
		t.Fatal("expected fresh item id on reorder")
	}
}

func TestCartServiceReorderRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	f := newCartFixture(t)

	f.inserted = append(f.inserted, domain.Order{
		ID:     "ord_other",
		UserID: "user_2",
		Status: domain.OrderStatusDelivered,
		Items:  []domain.OrderItem{{ID: "itm_a", Product: domain.ProductRef{Kind: domain.ProductKindCake, ID: "cake_1"}, Quantity: 1}},
	})

	if _, err := f.svc.Reorder(ctx, ReorderCommand{UserID: "user_1", SourceOrderID: "ord_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
