package store

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// User is a row of users.
type User struct {
	ID           pgtype.UUID        `db:"id"`
	Name         string             `db:"name"`
	Email        string             `db:"email"`
	PasswordHash string             `db:"password_hash"`
	Roles        []string           `db:"roles"`
	CreatedAt    pgtype.Timestamptz `db:"created_at"`
	UpdatedAt    pgtype.Timestamptz `db:"updated_at"`
}

// Session is a row of sessions. RefreshToken holds the token hash.
type Session struct {
	ID           pgtype.UUID        `db:"id"`
	UserID       pgtype.UUID        `db:"user_id"`
	RefreshToken string             `db:"refresh_token"`
	UserAgent    pgtype.Text        `db:"user_agent"`
	IP           pgtype.Text        `db:"ip"`
	ExpiresAt    pgtype.Timestamptz `db:"expires_at"`
	CreatedAt    pgtype.Timestamptz `db:"created_at"`
}

// Category is a row of categories.
type Category struct {
	ID        pgtype.UUID        `db:"id"`
	Name      string             `db:"name"`
	CreatedAt pgtype.Timestamptz `db:"created_at"`
}

// Product is a row of products joined with its category name.
type Product struct {
	ID            pgtype.UUID        `db:"id"`
	Name          string             `db:"name"`
	Description   string             `db:"description"`
	Price         int64              `db:"price"`
	CategoryID    pgtype.UUID        `db:"category_id"`
	CategoryName  pgtype.Text        `db:"category_name"`
	ImageURL      pgtype.Text        `db:"image_url"`
	ImageKey      pgtype.Text        `db:"image_key"`
	DiscountRules []byte             `db:"discount_rules"`
	CreatedAt     pgtype.Timestamptz `db:"created_at"`
	UpdatedAt     pgtype.Timestamptz `db:"updated_at"`
}

// CartLine is a cart item joined with the current product data.
type CartLine struct {
	ProductID     pgtype.UUID        `db:"product_id"`
	Name          string             `db:"name"`
	ImageURL      pgtype.Text        `db:"image_url"`
	Price         int64              `db:"price"`
	DiscountRules []byte             `db:"discount_rules"`
	Amount        int32              `db:"amount"`
	UpdatedAt     pgtype.Timestamptz `db:"updated_at"`
}

// Address is a row of addresses.
type Address struct {
	ID           pgtype.UUID        `db:"id"`
	UserID       pgtype.UUID        `db:"user_id"`
	Label        pgtype.Text        `db:"label"`
	ReceiverName string             `db:"receiver_name"`
	Phone        string             `db:"phone"`
	Province     pgtype.Text        `db:"province"`
	City         pgtype.Text        `db:"city"`
	District     pgtype.Text        `db:"district"`
	PostalCode   pgtype.Text        `db:"postal_code"`
	Detail       string             `db:"detail"`
	IsDefault    bool               `db:"is_default"`
	CreatedAt    pgtype.Timestamptz `db:"created_at"`
	UpdatedAt    pgtype.Timestamptz `db:"updated_at"`
}

// Invoice is a row of invoices joined with the owner's email.
type Invoice struct {
	ID            pgtype.UUID        `db:"id"`
	UserID        pgtype.UUID        `db:"user_id"`
	UserEmail     string             `db:"user_email"`
	Address       []byte             `db:"address"`
	PaymentStatus string             `db:"payment_status"`
	Subtotal      int64              `db:"subtotal"`
	Discount      int64              `db:"discount"`
	DeliveryFee   int64              `db:"delivery_fee"`
	Total         int64              `db:"total"`
	CreatedAt     pgtype.Timestamptz `db:"created_at"`
	UpdatedAt     pgtype.Timestamptz `db:"updated_at"`
}

// InvoiceItem is a frozen line of an invoice.
type InvoiceItem struct {
	ID            pgtype.UUID `db:"id"`
	InvoiceID     pgtype.UUID `db:"invoice_id"`
	ProductID     pgtype.UUID `db:"product_id"`
	Name          string      `db:"name"`
	UnitPrice     int64       `db:"unit_price"`
	Amount        int32       `db:"amount"`
	DiscountRules []byte      `db:"discount_rules"`
	Discount      int64       `db:"discount"`
	LineTotal     int64       `db:"line_total"`
}

// DomainEvent is a persisted domain event.
type DomainEvent struct {
	ID          pgtype.UUID        `db:"id"`
	Topic       string             `db:"topic"`
	AggregateID pgtype.UUID        `db:"aggregate_id"`
	Payload     []byte             `db:"payload"`
	OccurredAt  pgtype.Timestamptz `db:"occurred_at"`
}

// AuditLog is a row of audit_logs.
type AuditLog struct {
	ID           pgtype.UUID        `db:"id"`
	ActorKind    string             `db:"actor_kind"`
	UserID       pgtype.UUID        `db:"user_id"`
	Action       string             `db:"action"`
	ResourceType string             `db:"resource_type"`
	ResourceID   pgtype.Text        `db:"resource_id"`
	Method       string             `db:"method"`
	Path         string             `db:"path"`
	Route        pgtype.Text        `db:"route"`
	Status       int32              `db:"status"`
	IP           pgtype.Text        `db:"ip"`
	UserAgent    pgtype.Text        `db:"user_agent"`
	RequestID    pgtype.Text        `db:"request_id"`
	Metadata     []byte             `db:"metadata"`
	CreatedAt    pgtype.Timestamptz `db:"created_at"`
}
