package invoice

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/pricing"
	"github.com/noah-isme/backend-grocery/internal/store"
)

// Payment statuses, in the only order an invoice may move through them.
const (
	StatusWaitingForPayment = "waiting_for_payment"
	StatusDelivering        = "delivering"
	StatusCompleted         = "completed"
)

var statusOrder = []string{StatusWaitingForPayment, StatusDelivering, StatusCompleted}

// ValidStatus reports whether status is a known payment status.
func ValidStatus(status string) bool {
	return slices.Contains(statusOrder, status)
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to string) bool {
	i, j := slices.Index(statusOrder, from), slices.Index(statusOrder, to)
	return i >= 0 && j > i
}

// AddressSnapshot is the delivery address frozen into an invoice.
type AddressSnapshot struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	ReceiverName string `json:"receiverName"`
	Phone        string `json:"phone"`
	Province     string `json:"province,omitempty"`
	City         string `json:"city,omitempty"`
	District     string `json:"district,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Detail       string `json:"detail"`
}

// SnapshotAddress copies an address row into its invoice form.
func SnapshotAddress(a store.Address) AddressSnapshot {
	return AddressSnapshot{
		ID:           store.UUIDString(a.ID),
		Label:        store.TextValue(a.Label),
		ReceiverName: a.ReceiverName,
		Phone:        a.Phone,
		Province:     store.TextValue(a.Province),
		City:         store.TextValue(a.City),
		District:     store.TextValue(a.District),
		PostalCode:   store.TextValue(a.PostalCode),
		Detail:       a.Detail,
	}
}

// Item is an invoice line with its recomputed breakdown.
type Item struct {
	ProductID *string                `json:"productId"`
	Name      string                 `json:"name"`
	DiscRules []pricing.DiscountRule `json:"discRules"`
	pricing.LineQuote
}

// Invoice is the public invoice payload.
type Invoice struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	UserEmail     string          `json:"userEmail"`
	Address       AddressSnapshot `json:"address"`
	PaymentStatus string          `json:"paymentStatus"`
	Items         []Item          `json:"items,omitempty"`
	Subtotal      pricing.Money   `json:"subtotal"`
	Discount      pricing.Money   `json:"discount"`
	DeliveryFee   pricing.Money   `json:"deliveryFee"`
	Total         pricing.Money   `json:"total"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Summary converts an invoice header without its lines.
func Summary(row store.Invoice) Invoice {
	out := Invoice{
		ID:            store.UUIDString(row.ID),
		UserID:        store.UUIDString(row.UserID),
		UserEmail:     row.UserEmail,
		PaymentStatus: row.PaymentStatus,
		Subtotal:      row.Subtotal,
		Discount:      row.Discount,
		DeliveryFee:   row.DeliveryFee,
		Total:         row.Total,
		CreatedAt:     store.TimeValue(row.CreatedAt),
		UpdatedAt:     store.TimeValue(row.UpdatedAt),
	}
	if len(row.Address) > 0 {
		_ = json.Unmarshal(row.Address, &out.Address)
	}
	return out
}

// Detail converts an invoice with its lines. Each line is priced again from
// its frozen unit price, amount and rules.
func Detail(row store.Invoice, items []store.InvoiceItem) (Invoice, error) {
	out := Summary(row)
	rules := make([][]pricing.DiscountRule, len(items))
	lineItems := make([]pricing.LineItem, len(items))
	for i, it := range items {
		parsed, err := pricing.ParseRules(it.DiscountRules)
		if err != nil {
			return Invoice{}, fmt.Errorf("rules of invoice item %s: %w", store.UUIDString(it.ID), err)
		}
		rules[i] = parsed
		lineItems[i] = pricing.LineItem{UnitPrice: it.UnitPrice, Quantity: int(it.Amount), Rules: parsed}
	}
	quote, err := pricing.QuoteOrder(lineItems, row.DeliveryFee, true)
	if err != nil {
		return Invoice{}, fmt.Errorf("price invoice %s: %w", out.ID, err)
	}
	out.Items = lo.Map(items, func(it store.InvoiceItem, i int) Item {
		return Item{
			ProductID: store.NullableUUIDString(it.ProductID),
			Name:      it.Name,
			DiscRules: rules[i],
			LineQuote: quote.Lines[i],
		}
	})
	return out, nil
}
