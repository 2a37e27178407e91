package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const invoiceSelect = `
SELECT i.id, i.user_id, u.email AS user_email, i.address, i.payment_status,
       i.subtotal, i.discount, i.delivery_fee, i.total, i.created_at, i.updated_at
FROM invoices i
JOIN users u ON u.id = i.user_id`

const invoiceItemColumns = `id, invoice_id, product_id, name, unit_price, amount, discount_rules, discount, line_total`

// InvoiceFilter narrows invoice listings. Zero values disable a filter.
type InvoiceFilter struct {
	UserID pgtype.UUID
	Status string
	Limit  int32
	Offset int32
}

func (f InvoiceFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID.Valid {
		args = append(args, f.UserID)
		clauses = append(clauses, "i.user_id = $"+itoa(len(args)))
	}
	if s := strings.TrimSpace(f.Status); s != "" {
		args = append(args, s)
		clauses = append(clauses, "i.payment_status = $"+itoa(len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CountInvoices counts invoices matching filter.
func (q *Queries) CountInvoices(ctx context.Context, filter InvoiceFilter) (int64, error) {
	where, args := filter.where()
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM invoices i`+where, args...).Scan(&total)
	return total, err
}

// ListInvoices returns one page of invoices matching filter, newest first.
func (q *Queries) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	where, args := filter.where()
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	sql := invoiceSelect + where + ` ORDER BY i.created_at DESC, i.id LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Invoice])
}

// GetInvoice loads an invoice with the owner's email.
func (q *Queries) GetInvoice(ctx context.Context, id pgtype.UUID) (Invoice, error) {
	rows, err := q.db.Query(ctx, invoiceSelect+` WHERE i.id = $1`, id)
	if err != nil {
		return Invoice{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Invoice])
}

// ListInvoiceItems returns the frozen lines of an invoice.
func (q *Queries) ListInvoiceItems(ctx context.Context, invoiceID pgtype.UUID) ([]InvoiceItem, error) {
	rows, err := q.db.Query(ctx, `SELECT `+invoiceItemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY name, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[InvoiceItem])
}

// UpdateInvoiceStatus moves an invoice from one payment status to another.
// It returns ErrNoRows when the invoice is missing or no longer in from.
func (q *Queries) UpdateInvoiceStatus(ctx context.Context, id pgtype.UUID, from, to string) error {
	tag, err := q.db.Exec(ctx, `
UPDATE invoices SET payment_status = $3, updated_at = now()
WHERE id = $1 AND payment_status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// InvoiceItemParams is a priced line frozen into an invoice.
type InvoiceItemParams struct {
	ProductID     pgtype.UUID
	Name          string
	UnitPrice     int64
	Amount        int32
	DiscountRules []byte
	Discount      int64
	LineTotal     int64
}

// CreateInvoiceParams holds an invoice header and its lines.
type CreateInvoiceParams struct {
	UserID      pgtype.UUID
	Address     []byte
	Subtotal    int64
	Discount    int64
	DeliveryFee int64
	Total       int64
	Items       []InvoiceItemParams
}

// CreateInvoiceTx writes the invoice, its lines, and removes the purchased
// products from the user's cart in one transaction.
func (s *Store) CreateInvoiceTx(ctx context.Context, arg CreateInvoiceParams) (Invoice, []InvoiceItem, error) {
	var (
		invoice Invoice
		items   []InvoiceItem
	)
	err := s.ExecTx(ctx, func(q *Queries) error {
		var id pgtype.UUID
		if err := q.db.QueryRow(ctx, `
INSERT INTO invoices (user_id, address, subtotal, discount, delivery_fee, total)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, arg.UserID, arg.Address, arg.Subtotal, arg.Discount, arg.DeliveryFee, arg.Total).Scan(&id); err != nil {
			return err
		}

		productIDs := make([]pgtype.UUID, 0, len(arg.Items))
		for _, item := range arg.Items {
			rows, err := q.db.Query(ctx, `
INSERT INTO invoice_items (invoice_id, product_id, name, unit_price, amount, discount_rules, discount, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+invoiceItemColumns,
				id, item.ProductID, item.Name, item.UnitPrice, item.Amount, rulesOrEmpty(item.DiscountRules), item.Discount, item.LineTotal)
			if err != nil {
				return err
			}
			row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[InvoiceItem])
			if err != nil {
				return err
			}
			items = append(items, row)
			productIDs = append(productIDs, item.ProductID)
		}

		if _, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`, arg.UserID, productIDs); err != nil {
			return err
		}

		var err error
		invoice, err = q.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return Invoice{}, nil, err
	}
	return invoice, items, nil
}
