package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const cartLineSelect = `
SELECT ci.product_id, p.name, p.image_url, p.price, p.discount_rules, ci.amount, ci.updated_at
FROM cart_items ci
JOIN products p ON p.id = ci.product_id`

// ListCartLines returns the cart of a user joined with current product data.
func (q *Queries) ListCartLines(ctx context.Context, userID pgtype.UUID) ([]CartLine, error) {
	rows, err := q.db.Query(ctx, cartLineSelect+` WHERE ci.user_id = $1 ORDER BY ci.created_at, ci.product_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[CartLine])
}

// AddCartAmount inserts a line or increments an existing one by delta and
// returns the resulting amount.
func (q *Queries) AddCartAmount(ctx context.Context, userID, productID pgtype.UUID, delta int32) (int32, error) {
	var amount int32
	err := q.db.QueryRow(ctx, `
INSERT INTO cart_items (user_id, product_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, product_id)
DO UPDATE SET amount = cart_items.amount + EXCLUDED.amount, updated_at = now()
RETURNING amount`, userID, productID, delta).Scan(&amount)
	return amount, err
}

// SetCartAmount overwrites the amount of an existing line.
func (q *Queries) SetCartAmount(ctx context.Context, userID, productID pgtype.UUID, amount int32) error {
	tag, err := q.db.Exec(ctx, `
UPDATE cart_items SET amount = $3, updated_at = now()
WHERE user_id = $1 AND product_id = $2`, userID, productID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// IncrementCartAmount raises an existing line by one and returns the new
// amount. It returns ErrNoRows when the line does not exist.
func (q *Queries) IncrementCartAmount(ctx context.Context, userID, productID pgtype.UUID) (int32, error) {
	var amount int32
	err := q.db.QueryRow(ctx, `
UPDATE cart_items SET amount = amount + 1, updated_at = now()
WHERE user_id = $1 AND product_id = $2
RETURNING amount`, userID, productID).Scan(&amount)
	return amount, err
}

// DecrementCartAmount lowers an existing line by one in a single statement,
// deleting it instead when the amount is 1. The returned amount is 0 when the
// line was deleted and ErrNoRows is returned when it does not exist.
func (q *Queries) DecrementCartAmount(ctx context.Context, userID, productID pgtype.UUID) (int32, error) {
	const stmt = `
WITH dec AS (
    UPDATE cart_items SET amount = amount - 1, updated_at = now()
    WHERE user_id = $1 AND product_id = $2 AND amount > 1
    RETURNING amount
), del AS (
    DELETE FROM cart_items
    WHERE user_id = $1 AND product_id = $2 AND amount = 1
    RETURNING 0 AS amount
)
SELECT amount FROM dec UNION ALL SELECT amount FROM del`
	// A concurrent decrement can move the row between the two branches
	// after this statement took its snapshot; retry while the line exists.
	for range 3 {
		var amount int32
		err := q.db.QueryRow(ctx, stmt, userID, productID).Scan(&amount)
		if !errors.Is(err, ErrNoRows) {
			return amount, err
		}
		var exists bool
		if err := q.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM cart_items WHERE user_id = $1 AND product_id = $2)`, userID, productID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrNoRows
		}
	}
	return 0, ErrNoRows
}

// DeleteCartLine removes a line and reports whether it existed.
func (q *Queries) DeleteCartLine(ctx context.Context, userID, productID pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClearCart removes every line of a user's cart.
func (q *Queries) ClearCart(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
