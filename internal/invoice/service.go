package invoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/store"
)

const exportBatch = 500

var (
	// ErrNotFound is returned for missing invoices and for invoices the
	// caller may not see.
	ErrNotFound = common.NewAppError("NOT_FOUND", "invoice not found", http.StatusNotFound, nil)
	// ErrInvalidState is returned for backward or repeated status changes.
	ErrInvalidState = common.NewAppError("INVALID_STATE", "payment status cannot move backwards", http.StatusConflict, nil)
	// ErrInvalidStatus is returned for unknown payment statuses.
	ErrInvalidStatus = common.NewAppError("INVALID_INPUT", "unknown payment status", http.StatusBadRequest, nil).WithDetails(map[string]any{"allowed": statusOrder})
)

// Store is the invoice persistence.
type Store interface {
	CountInvoices(ctx context.Context, filter store.InvoiceFilter) (int64, error)
	ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]store.Invoice, error)
	GetInvoice(ctx context.Context, id pgtype.UUID) (store.Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID pgtype.UUID) ([]store.InvoiceItem, error)
	UpdateInvoiceStatus(ctx context.Context, id pgtype.UUID, from, to string) error
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (store.DomainEvent, error)
}

// Viewer identifies who is reading invoices.
type Viewer struct {
	UserID string
	Admin  bool
}

// ListParams filters invoice listings.
type ListParams struct {
	Status  string
	Page    int
	PerPage int
}

// Service exposes invoice queries and payment status changes.
type Service struct {
	Store  Store
	Events Emitter
	Logger zerolog.Logger
}

// List returns the viewer's invoices, or every invoice for admins.
func (s *Service) List(ctx context.Context, viewer Viewer, params ListParams) ([]Invoice, int64, error) {
	filter, err := s.filter(viewer, params.Status)
	if err != nil {
		return nil, 0, err
	}
	params.Page = max(params.Page, 1)
	if params.PerPage < 1 {
		params.PerPage = 20
	}
	filter.Limit = int32(params.PerPage)
	filter.Offset = int32(common.Offset(params.Page, params.PerPage))

	total, err := s.Store.CountInvoices(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	rows, err := s.Store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return lo.Map(rows, func(row store.Invoice, _ int) Invoice { return Summary(row) }), total, nil
}

// Get loads an invoice with its lines. Only the owner and admins may read it.
func (s *Service) Get(ctx context.Context, viewer Viewer, id string) (Invoice, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !viewer.Admin && store.UUIDString(row.UserID) != viewer.UserID {
		return Invoice{}, ErrNotFound
	}
	items, err := s.Store.ListInvoiceItems(ctx, row.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("list invoice items: %w", err)
	}
	return Detail(row, items)
}

// UpdatePaymentStatus moves an invoice forward to status and emits
// invoice.status_changed.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id, status string) (Invoice, error) {
	status = strings.TrimSpace(status)
	if !ValidStatus(status) {
		return Invoice{}, ErrInvalidStatus
	}
	row, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	from := row.PaymentStatus
	if !CanTransition(from, status) {
		return Invoice{}, ErrInvalidState.WithDetails(map[string]string{"from": from, "to": status})
	}
	if err := s.Store.UpdateInvoiceStatus(ctx, row.ID, from, status); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			// Another request changed the status first.
			return Invoice{}, ErrInvalidState
		}
		return Invoice{}, fmt.Errorf("update invoice status: %w", err)
	}
	obs.ObserveInvoiceTransition(from, status)

	if s.Events != nil {
		payload := events.InvoiceStatusChanged{
			InvoiceID: store.UUIDString(row.ID),
			UserID:    store.UUIDString(row.UserID),
			UserEmail: row.UserEmail,
			From:      from,
			To:        status,
		}
		if _, err := s.Events.Emit(ctx, events.TopicInvoiceStatusChanged, row.ID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("invoice_id", payload.InvoiceID).Msg("emit invoice.status_changed failed")
		}
	}

	updated, err := s.Store.GetInvoice(ctx, row.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("reload invoice: %w", err)
	}
	return Summary(updated), nil
}

// CSVRow is one line of the invoice export.
type CSVRow struct {
	ID            string `csv:"invoice_id"`
	CreatedAt     string `csv:"created_at"`
	UserEmail     string `csv:"user_email"`
	ReceiverName  string `csv:"receiver_name"`
	City          string `csv:"city"`
	PaymentStatus string `csv:"payment_status"`
	Subtotal      int64  `csv:"subtotal"`
	Discount      int64  `csv:"discount"`
	DeliveryFee   int64  `csv:"delivery_fee"`
	Total         int64  `csv:"total"`
}

// ExportCSV renders every invoice matching status as CSV and returns the
// number of exported rows.
func (s *Service) ExportCSV(ctx context.Context, status string) ([]byte, int, error) {
	filter, err := s.filter(Viewer{Admin: true}, status)
	if err != nil {
		return nil, 0, err
	}
	filter.Limit = exportBatch

	records := make([]*CSVRow, 0)
	for {
		rows, err := s.Store.ListInvoices(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("list invoices: %w", err)
		}
		for _, row := range rows {
			inv := Summary(row)
			records = append(records, &CSVRow{
				ID:            inv.ID,
				CreatedAt:     inv.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				UserEmail:     inv.UserEmail,
				ReceiverName:  inv.Address.ReceiverName,
				City:          inv.Address.City,
				PaymentStatus: inv.PaymentStatus,
				Subtotal:      inv.Subtotal,
				Discount:      inv.Discount,
				DeliveryFee:   inv.DeliveryFee,
				Total:         inv.Total,
			})
		}
		if len(rows) < exportBatch {
			break
		}
		filter.Offset += exportBatch
	}

	var buf bytes.Buffer
	if err := gocsv.Marshal(records, &buf); err != nil {
		return nil, 0, fmt.Errorf("marshal csv: %w", err)
	}
	return buf.Bytes(), len(records), nil
}

func (s *Service) filter(viewer Viewer, status string) (store.InvoiceFilter, error) {
	var filter store.InvoiceFilter
	if status = strings.TrimSpace(status); status != "" {
		if !ValidStatus(status) {
			return filter, ErrInvalidStatus
		}
		filter.Status = status
	}
	if !viewer.Admin {
		uid, err := store.ParseUUID(viewer.UserID)
		if err != nil {
			return filter, common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
		}
		filter.UserID = uid
	}
	return filter, nil
}

func (s *Service) load(ctx context.Context, id string) (store.Invoice, error) {
	iid, err := store.ParseUUID(id)
	if err != nil {
		return store.Invoice{}, ErrNotFound
	}
	row, err := s.Store.GetInvoice(ctx, iid)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return store.Invoice{}, ErrNotFound
		}
		return store.Invoice{}, fmt.Errorf("load invoice: %w", err)
	}
	return row, nil
}
