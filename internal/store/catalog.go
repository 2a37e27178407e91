package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ListCategories returns every category ordered by name.
func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Category])
}

// GetCategoryByID loads a category.
func (q *Queries) GetCategoryByID(ctx context.Context, id pgtype.UUID) (Category, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, created_at FROM categories WHERE id = $1`, id)
	if err != nil {
		return Category{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Category])
}

// CreateCategory inserts a category.
func (q *Queries) CreateCategory(ctx context.Context, name string) (Category, error) {
	rows, err := q.db.Query(ctx, `INSERT INTO categories (name) VALUES ($1) RETURNING id, name, created_at`, name)
	if err != nil {
		return Category{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Category])
}

// DeleteCategory removes a category and reports whether a row was deleted.
func (q *Queries) DeleteCategory(ctx context.Context, id pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const productSelect = `
SELECT p.id, p.name, p.description, p.price, p.category_id, c.name AS category_name,
       p.image_url, p.image_key, p.discount_rules, p.created_at, p.updated_at
FROM products p
LEFT JOIN categories c ON c.id = p.category_id`

// ProductFilter narrows product listings. Zero values disable a filter.
type ProductFilter struct {
	Query      string
	ID         pgtype.UUID
	CategoryID pgtype.UUID
	Limit      int32
	Offset     int32
}

func (f ProductFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		clauses = append(clauses, "p.name ILIKE $"+itoa(len(args)))
	}
	if f.ID.Valid {
		args = append(args, f.ID)
		clauses = append(clauses, "p.id = $"+itoa(len(args)))
	}
	if f.CategoryID.Valid {
		args = append(args, f.CategoryID)
		clauses = append(clauses, "p.category_id = $"+itoa(len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CountProducts counts products matching filter.
func (q *Queries) CountProducts(ctx context.Context, filter ProductFilter) (int64, error) {
	where, args := filter.where()
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM products p`+where, args...).Scan(&total)
	return total, err
}

// ListProducts returns one page of products matching filter, newest first.
func (q *Queries) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	where, args := filter.where()
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	sql := productSelect + where + ` ORDER BY p.created_at DESC, p.id LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Product])
}

// GetProductByID loads a product.
func (q *Queries) GetProductByID(ctx context.Context, id pgtype.UUID) (Product, error) {
	rows, err := q.db.Query(ctx, productSelect+` WHERE p.id = $1`, id)
	if err != nil {
		return Product{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Product])
}

// ProductParams holds the writable product columns.
type ProductParams struct {
	Name          string
	Description   string
	Price         int64
	CategoryID    pgtype.UUID
	ImageURL      pgtype.Text
	ImageKey      pgtype.Text
	DiscountRules []byte
}

// CreateProduct inserts a product and returns it with its category name.
func (q *Queries) CreateProduct(ctx context.Context, arg ProductParams) (Product, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, `
INSERT INTO products (name, description, price, category_id, image_url, image_key, discount_rules)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, arg.Name, arg.Description, arg.Price, arg.CategoryID, arg.ImageURL, arg.ImageKey, rulesOrEmpty(arg.DiscountRules)).Scan(&id)
	if err != nil {
		return Product{}, err
	}
	return q.GetProductByID(ctx, id)
}

// UpdateProduct overwrites every writable column of a product.
func (q *Queries) UpdateProduct(ctx context.Context, id pgtype.UUID, arg ProductParams) (Product, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE products
SET name = $2, description = $3, price = $4, category_id = $5,
    image_url = $6, image_key = $7, discount_rules = $8, updated_at = now()
WHERE id = $1`, id, arg.Name, arg.Description, arg.Price, arg.CategoryID, arg.ImageURL, arg.ImageKey, rulesOrEmpty(arg.DiscountRules))
	if err != nil {
		return Product{}, err
	}
	if tag.RowsAffected() == 0 {
		return Product{}, ErrNoRows
	}
	return q.GetProductByID(ctx, id)
}

// DeleteProduct removes a product and returns the deleted row.
func (q *Queries) DeleteProduct(ctx context.Context, id pgtype.UUID) (Product, error) {
	product, err := q.GetProductByID(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return Product{}, err
	}
	return product, nil
}

func rulesOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func itoa(i int) string { return strconv.Itoa(i) }
