package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicInvoiceCreated       = "invoice.created"
	TopicInvoiceStatusChanged = "invoice.status_changed"
)

// DefaultTopics returns the topics that produce customer notifications.
func DefaultTopics() []string {
	return []string{
		TopicInvoiceCreated,
		TopicInvoiceStatusChanged,
	}
}

// InvoiceCreated is the payload of TopicInvoiceCreated.
type InvoiceCreated struct {
	InvoiceID   string `json:"invoiceId"`
	UserID      string `json:"userId"`
	UserEmail   string `json:"userEmail"`
	ItemCount   int    `json:"itemCount"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	DeliveryFee int64  `json:"deliveryFee"`
	Total       int64  `json:"total"`
}

// InvoiceStatusChanged is the payload of TopicInvoiceStatusChanged.
type InvoiceStatusChanged struct {
	InvoiceID string `json:"invoiceId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	From      string `json:"from"`
	To        string `json:"to"`
}
