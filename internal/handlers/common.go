package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bakejoy/api/internal/domain"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

// Shared response payload shapes ---------------------------------------------

type orderPayload struct {
	ID           string             `json:"id"`
	Number       string             `json:"number,omitempty"`
	UserID       string             `json:"user_id"`
	Status       string             `json:"status"`
	ItemsCount   int                `json:"items_count"`
	Items        []orderItemPayload `json:"items"`
	Address      *addressPayload    `json:"address,omitempty"`
	Contact      *contactPayload    `json:"contact,omitempty"`
	DeliveryAt   string             `json:"delivery_at,omitempty"`
	Notes        string             `json:"notes,omitempty"`
	TrackingCode string             `json:"tracking_code,omitempty"`
	TotalPrice   int64              `json:"total_price"`
	CreatedAt    string             `json:"created_at,omitempty"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
	PlacedAt     string             `json:"placed_at,omitempty"`
	PaidAt       string             `json:"paid_at,omitempty"`
	ShippedAt    string             `json:"shipped_at,omitempty"`
	DeliveredAt  string             `json:"delivered_at,omitempty"`
	CancelledAt  string             `json:"cancelled_at,omitempty"`
	CancelReason *string            `json:"cancel_reason,omitempty"`
}

type orderItemPayload struct {
	ID            string              `json:"id"`
	ProductKind   string              `json:"product_kind"`
	ProductID     string              `json:"product_id"`
	Name          string              `json:"name"`
	FlavorID      *string             `json:"flavor_id,omitempty"`
	SizeVariantID *string             `json:"size_variant_id,omitempty"`
	Quantity      int                 `json:"quantity"`
	UnitPrice     int64               `json:"unit_price"`
	Notes         string              `json:"notes,omitempty"`
	Addons        []orderAddonPayload `json:"addons,omitempty"`
	Design        *designPayload      `json:"design,omitempty"`
	AddedAt       string              `json:"added_at,omitempty"`
	UpdatedAt     string              `json:"updated_at,omitempty"`
}

type orderAddonPayload struct {
	AddonID   string `json:"addon_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type designPayload struct {
	ImagePath string `json:"image_path,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type contactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone"`
}

type statusLogPayload struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	NewStatus string  `json:"new_status"`
	Actor     *string `json:"actor,omitempty"`
	Note      string  `json:"note,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

type internalNotePayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

type transactionPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Authority     string `json:"authority,omitempty"`
	RefID         string `json:"ref_id,omitempty"`
	CardPAN       string `json:"card_pan,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	SettledAt     string `json:"settled_at,omitempty"`
}

type notificationPayload struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id,omitempty"`
	OrderID           string  `json:"order_id,omitempty"`
	Channel           string  `json:"channel"`
	Message           string  `json:"message"`
	Status            string  `json:"status"`
	SentAt            string  `json:"sent_at,omitempty"`
	GatewayStatusCode string  `json:"gateway_status_code,omitempty"`
	GatewayMessage    string  `json:"gateway_message,omitempty"`
	PackID            string  `json:"pack_id,omitempty"`
	MessageIDs        []int64 `json:"message_ids,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

type smsTemplatePayload struct {
	EventTrigger string `json:"event_trigger"`
	Body         string `json:"body"`
	Description  string `json:"description,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:           strings.TrimSpace(order.ID),
		Number:       strings.TrimSpace(order.Number),
		UserID:       strings.TrimSpace(order.UserID),
		Status:       string(order.Status),
		ItemsCount:   len(order.Items),
		Items:        buildOrderItems(order.Items),
		Notes:        order.Notes,
		TrackingCode: strings.TrimSpace(order.TrackingCode),
		TotalPrice:   order.TotalPrice,
		DeliveryAt:   formatTimePtr(order.DeliveryAt),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PlacedAt:     formatTimePtr(order.PlacedAt),
		PaidAt:       formatTimePtr(order.PaidAt),
		ShippedAt:    formatTimePtr(order.ShippedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CancelledAt:  formatTimePtr(order.CancelledAt),
		CancelReason: cloneStringPointer(order.CancelReason),
	}
	if order.Address != nil {
		addr := buildAddressPayload(*order.Address)
		payload.Address = &addr
	}
	if order.Contact != nil {
		payload.Contact = &contactPayload{
			Name:  order.Contact.Name,
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}
	return payload
}

func buildOrderItems(items []domain.OrderItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		entry := orderItemPayload{
			ID:            strings.TrimSpace(item.ID),
			ProductKind:   string(item.Product.Kind),
			ProductID:     strings.TrimSpace(item.Product.ID),
			Name:          item.Name,
			FlavorID:      cloneStringPointer(item.FlavorID),
			SizeVariantID: cloneStringPointer(item.SizeVariantID),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Notes:         item.Notes,
			AddedAt:       formatTime(item.AddedAt),
			UpdatedAt:     formatTimePtr(item.UpdatedAt),
		}
		if len(item.Addons) > 0 {
			addons := make([]orderAddonPayload, 0, len(item.Addons))
			for _, addon := range item.Addons {
				addons = append(addons, orderAddonPayload{
					AddonID:   addon.AddonID,
					Name:      addon.Name,
					UnitPrice: addon.UnitPrice,
					Quantity:  addon.Quantity,
				})
			}
			entry.Addons = addons
		}
		if item.Design != nil {
			entry.Design = &designPayload{
				ImagePath: item.Design.ImagePath,
				Notes:     item.Design.Notes,
			}
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		State:      cloneStringPointer(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneStringPointer(addr.Phone),
	}
}

func buildStatusLogPayload(entry domain.OrderStatusLog) statusLogPayload {
	return statusLogPayload{
		ID:        entry.ID,
		OrderID:   entry.OrderID,
		NewStatus: string(entry.NewStatus),
		Actor:     cloneStringPointer(entry.Actor),
		Note:      entry.Note,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}

func buildInternalNotePayload(note domain.InternalOrderNote) internalNotePayload {
	return internalNotePayload{
		ID:        note.ID,
		OrderID:   note.OrderID,
		Author:    note.Author,
		Text:      note.Text,
		CreatedAt: formatTime(note.CreatedAt),
	}
}

func buildTransactionPayload(txn domain.Transaction) transactionPayload {
	return transactionPayload{
		ID:            txn.ID,
		OrderID:       txn.OrderID,
		Amount:        txn.Amount,
		Method:        string(txn.Method),
		Status:        string(txn.Status),
		Authority:     txn.Authority,
		RefID:         txn.RefID,
		CardPAN:       txn.CardPAN,
		FailureReason: txn.FailureReason,
		CreatedAt:     formatTime(txn.CreatedAt),
		UpdatedAt:     formatTime(txn.UpdatedAt),
		SettledAt:     formatTimePtr(txn.SettledAt),
	}
}

func buildNotificationPayload(n domain.Notification) notificationPayload {
	return notificationPayload{
		ID:                n.ID,
		UserID:            n.UserID,
		OrderID:           n.OrderID,
		Channel:           string(n.Channel),
		Message:           n.Message,
		Status:            string(n.Status),
		SentAt:            formatTimePtr(n.SentAt),
		GatewayStatusCode: n.GatewayStatusCode,
		GatewayMessage:    n.GatewayMessage,
		PackID:            n.PackID,
		MessageIDs:        n.MessageIDs,
		Cost:              n.Cost,
		CreatedAt:         formatTime(n.CreatedAt),
	}
}

func buildSMSTemplatePayload(tpl domain.SMSTemplate) smsTemplatePayload {
	return smsTemplatePayload{
		EventTrigger: string(tpl.EventTrigger),
		Body:         tpl.Body,
		Description:  tpl.Description,
		Active:       tpl.Active,
		CreatedAt:    formatTime(tpl.CreatedAt),
		UpdatedAt:    formatTime(tpl.UpdatedAt),
	}
}
