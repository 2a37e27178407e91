package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const addressColumns = `id, user_id, label, receiver_name, phone, province, city, district, postal_code, detail, is_default, created_at, updated_at`

// AddressParams holds the writable address columns.
type AddressParams struct {
	Label        pgtype.Text
	ReceiverName string
	Phone        string
	Province     pgtype.Text
	City         pgtype.Text
	District     pgtype.Text
	PostalCode   pgtype.Text
	Detail       string
	IsDefault    bool
}

// ListAddressesByUser returns one page of a user's addresses, default first.
func (q *Queries) ListAddressesByUser(ctx context.Context, userID pgtype.UUID, limit, offset int32) ([]Address, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+addressColumns+` FROM addresses
WHERE user_id = $1
ORDER BY is_default DESC, created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Address])
}

// CountAddressesByUser counts a user's addresses.
func (q *Queries) CountAddressesByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM addresses WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

// GetAddressForUser loads an address owned by userID.
func (q *Queries) GetAddressForUser(ctx context.Context, userID, id pgtype.UUID) (Address, error) {
	rows, err := q.db.Query(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return Address{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Address])
}

// UnsetDefaultAddresses clears the default flag on every address of a user.
func (q *Queries) UnsetDefaultAddresses(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE addresses SET is_default = false, updated_at = now() WHERE user_id = $1 AND is_default`, userID)
	return err
}

// CreateAddress inserts an address.
func (q *Queries) CreateAddress(ctx context.Context, userID pgtype.UUID, arg AddressParams) (Address, error) {
	rows, err := q.db.Query(ctx, `
INSERT INTO addresses (user_id, label, receiver_name, phone, province, city, district, postal_code, detail, is_default)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+addressColumns,
		userID, arg.Label, arg.ReceiverName, arg.Phone, arg.Province, arg.City, arg.District, arg.PostalCode, arg.Detail, arg.IsDefault)
	if err != nil {
		return Address{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Address])
}

// UpdateAddress overwrites an address owned by userID.
func (q *Queries) UpdateAddress(ctx context.Context, userID, id pgtype.UUID, arg AddressParams) (Address, error) {
	rows, err := q.db.Query(ctx, `
UPDATE addresses
SET label = $3, receiver_name = $4, phone = $5, province = $6, city = $7,
    district = $8, postal_code = $9, detail = $10, is_default = $11, updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING `+addressColumns,
		id, userID, arg.Label, arg.ReceiverName, arg.Phone, arg.Province, arg.City, arg.District, arg.PostalCode, arg.Detail, arg.IsDefault)
	if err != nil {
		return Address{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Address])
}

// DeleteAddress removes an address owned by userID.
func (q *Queries) DeleteAddress(ctx context.Context, userID, id pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SaveAddressTx creates (id invalid) or updates an address. When the address
// becomes the default, the user's other defaults are cleared in the same
// transaction.
func (s *Store) SaveAddressTx(ctx context.Context, userID, id pgtype.UUID, arg AddressParams) (Address, error) {
	var out Address
	err := s.ExecTx(ctx, func(q *Queries) error {
		if arg.IsDefault {
			if err := q.UnsetDefaultAddresses(ctx, userID); err != nil {
				return err
			}
		}
		var err error
		if id.Valid {
			out, err = q.UpdateAddress(ctx, userID, id, arg)
		} else {
			out, err = q.CreateAddress(ctx, userID, arg)
		}
		return err
	})
	return out, err
}
