package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/platform/auth"
	"github.com/bakejoy/api/internal/platform/httpx"
	"github.com/bakejoy/api/internal/repositories"
	"github.com/bakejoy/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn         *auth.Authenticator
	carts         services.CartService
	designUploads services.DesignUploadService
}

// CartOption customises optional cart handler collaborators.
type CartOption func(*CartHandlers)

// WithDesignUploads enables the presigned design image upload endpoint.
func WithDesignUploads(uploads services.DesignUploadService) CartOption {
	return func(h *CartHandlers) {
		h.designUploads = uploads
	}
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...CartOption) *CartHandlers {
	handlers := &CartHandlers{
		authn: authn,
		carts: carts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItemQuantity)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Put("/items/{itemID}/design", h.attachDesign)
	r.Put("/items/{itemID}/addons", h.setItemAddons)
	r.Post("/reorder", h.reorder)
	r.Post("/checkout", h.checkout)
	r.Post("/design-uploads", h.createDesignUpload)
}

func (h *CartHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

type addCartItemRequest struct {
	ProductKind   string  `json:"product_kind"`
	ProductID     string  `json:"product_id"`
	FlavorID      *string `json:"flavor_id"`
	SizeVariantID *string `json:"size_variant_id"`
	Quantity      int     `json:"quantity"`
	Notes         string  `json:"notes"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.AddCartItemCommand{
		UserID: identity.UID,
		Product: domain.ProductRef{
			Kind: domain.ProductKind(strings.TrimSpace(req.ProductKind)),
			ID:   strings.TrimSpace(req.ProductID),
		},
		FlavorID:      trimStringPointer(req.FlavorID),
		SizeVariantID: trimStringPointer(req.SizeVariantID),
		Quantity:      req.Quantity,
		Notes:         strings.TrimSpace(req.Notes),
	}

	cart, err := h.carts.AddItem(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusCreated, cart)
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) updateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:   identity.UID,
		ItemID:   itemID,
		Quantity: *req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID: identity.UID,
		ItemID: itemID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

type attachDesignRequest struct {
	ImagePath string `json:"image_path"`
	Notes     string `json:"notes"`
}

func (h *CartHandlers) attachDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req attachDesignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AttachDesign(ctx, services.AttachDesignCommand{
		UserID: identity.UID,
		ItemID: itemID,
		Design: &domain.CustomDesign{
			ImagePath: strings.TrimSpace(req.ImagePath),
			Notes:     strings.TrimSpace(req.Notes),
		},
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

type setItemAddonsRequest struct {
	Addons []cartAddonRequest `json:"addons"`
}

type cartAddonRequest struct {
	AddonID  string `json:"addon_id"`
	Quantity int    `json:"quantity"`
}

func (h *CartHandlers) setItemAddons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setItemAddonsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	addons := make([]services.CartAddonInput, 0, len(req.Addons))
	for _, addon := range req.Addons {
		addons = append(addons, services.CartAddonInput{
			AddonID:  strings.TrimSpace(addon.AddonID),
			Quantity: addon.Quantity,
		})
	}

	cart, err := h.carts.SetItemAddons(ctx, services.SetItemAddonsCommand{
		UserID: identity.UID,
		ItemID: itemID,
		Addons: addons,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

type reorderRequest struct {
	SourceOrderID string `json:"source_order_id"`
}

func (h *CartHandlers) reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req reorderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	sourceID := strings.TrimSpace(req.SourceOrderID)
	if sourceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "source_order_id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Reorder(ctx, services.ReorderCommand{
		UserID:        identity.UID,
		SourceOrderID: sourceID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.writeCart(w, http.StatusOK, cart)
}

type checkoutRequest struct {
	Address    *checkoutAddressRequest `json:"address"`
	Contact    *checkoutContactRequest `json:"contact"`
	DeliveryAt string                  `json:"delivery_at"`
	Notes      string                  `json:"notes"`
}

type checkoutAddressRequest struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2"`
	City       string  `json:"city"`
	State      *string `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone"`
}

type checkoutContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *CartHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Address == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address is required", http.StatusBadRequest))
		return
	}
	if req.Contact == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "contact is required", http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutCommand{
		UserID: identity.UID,
		Address: &domain.Address{
			Recipient:  strings.TrimSpace(req.Address.Recipient),
			Line1:      strings.TrimSpace(req.Address.Line1),
			Line2:      trimStringPointer(req.Address.Line2),
			City:       strings.TrimSpace(req.Address.City),
			State:      trimStringPointer(req.Address.State),
			PostalCode: strings.TrimSpace(req.Address.PostalCode),
			Country:    strings.TrimSpace(req.Address.Country),
			Phone:      trimStringPointer(req.Address.Phone),
		},
		Contact: &domain.OrderContact{
			Name:  strings.TrimSpace(req.Contact.Name),
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
		Notes: strings.TrimSpace(req.Notes),
	}
	if ts := strings.TrimSpace(req.DeliveryAt); ts != "" {
		parsed, parseErr := parseRFC3339(ts)
		if parseErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_at must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DeliveryAt = &parsed
	}

	order, err := h.carts.Checkout(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

type designUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type designUploadResponse struct {
	UploadID   string            `json:"upload_id"`
	ObjectPath string            `json:"object_path"`
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method"`
	ExpiresAt  string            `json:"expires_at"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (h *CartHandlers) createDesignUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if h.designUploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("design_uploads_unavailable", "design uploads are unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req designUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	upload, err := h.designUploads.CreateUploadURL(ctx, services.CreateDesignUploadCommand{
		UserID:      identity.UID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDesignUploadInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrDesignUploadSigner):
			httpx.WriteError(ctx, w, httpx.NewError("design_upload_failed", "failed to create upload slot", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("design_upload_error", "failed to process upload request", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusCreated, designUploadResponse{
		UploadID:   upload.UploadID,
		ObjectPath: upload.ObjectPath,
		UploadURL:  upload.UploadURL,
		Method:     upload.Method,
		ExpiresAt:  formatTime(upload.ExpiresAt),
		Headers:    upload.Headers,
	})
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, cart domain.Order) {
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, status, cartResponse{Cart: buildOrderPayload(cart)})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPricingProduct):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPricingInput), errors.Is(err, services.ErrPricingWeight):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_state", err.Error(), http.StatusBadRequest))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			switch {
			case repoErr.IsNotFound():
				httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
				return
			case repoErr.IsConflict():
				httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
				return
			case repoErr.IsUnavailable():
				httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
				return
			}
		}
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func setCartResponseHeaders(w http.ResponseWriter, cart domain.Order) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart domain.Order) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

func trimStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type cartResponse struct {
	Cart orderPayload `json:"cart"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}
