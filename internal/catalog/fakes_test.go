package catalog_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-grocery/internal/media"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	categories []store.Category
	products   []store.Product
	listCalls  int
	catCalls   int
}

func newID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

func (f *fakeStore) ListCategories(context.Context) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catCalls++
	return append([]store.Category(nil), f.categories...), nil
}

func (f *fakeStore) GetCategoryByID(_ context.Context, id pgtype.UUID) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if c.ID == id {
			return c, nil
		}
	}
	return store.Category{}, store.ErrNoRows
}

func (f *fakeStore) CreateCategory(_ context.Context, name string) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if strings.EqualFold(c.Name, name) {
			return store.Category{}, &pgconn.PgError{Code: "23505"}
		}
	}
	c := store.Category{ID: newID(), Name: name}
	f.categories = append(f.categories, c)
	return c, nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, id pgtype.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.categories {
		if c.ID == id {
			f.categories = append(f.categories[:i], f.categories[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) match(filter store.ProductFilter) []store.Product {
	var out []store.Product
	for _, p := range f.products {
		if filter.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Query)) {
			continue
		}
		if filter.ID.Valid && p.ID != filter.ID {
			continue
		}
		if filter.CategoryID.Valid && p.CategoryID != filter.CategoryID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeStore) CountProducts(_ context.Context, filter store.ProductFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.match(filter))), nil
}

func (f *fakeStore) ListProducts(_ context.Context, filter store.ProductFilter) ([]store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	rows := f.match(filter)
	start := min(int(filter.Offset), len(rows))
	end := min(start+int(filter.Limit), len(rows))
	return rows[start:end], nil
}

func (f *fakeStore) GetProductByID(_ context.Context, id pgtype.UUID) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return store.Product{}, store.ErrNoRows
}

func (f *fakeStore) fill(p *store.Product, arg store.ProductParams) {
	p.Name, p.Description, p.Price = arg.Name, arg.Description, arg.Price
	p.CategoryID, p.ImageURL, p.ImageKey = arg.CategoryID, arg.ImageURL, arg.ImageKey
	p.DiscountRules = arg.DiscountRules
	if len(p.DiscountRules) == 0 {
		p.DiscountRules = []byte("[]")
	}
	p.UpdatedAt = store.Timestamp(time.Now())
}

func (f *fakeStore) CreateProduct(_ context.Context, arg store.ProductParams) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.Name == arg.Name {
			return store.Product{}, &pgconn.PgError{Code: "23505"}
		}
	}
	p := store.Product{ID: newID(), CreatedAt: store.Timestamp(time.Now())}
	f.fill(&p, arg)
	f.products = append(f.products, p)
	return p, nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, id pgtype.UUID, arg store.ProductParams) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.products {
		if f.products[i].ID == id {
			f.fill(&f.products[i], arg)
			return f.products[i], nil
		}
	}
	return store.Product{}, store.ErrNoRows
}

func (f *fakeStore) DeleteProduct(_ context.Context, id pgtype.UUID) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.products {
		if p.ID == id {
			f.products = append(f.products[:i], f.products[i+1:]...)
			return p, nil
		}
	}
	return store.Product{}, store.ErrNoRows
}

type fakeImages struct {
	uploads int
	removed []string
}

func (f *fakeImages) Upload(_ context.Context, prefix string, _ []byte) (media.Object, error) {
	f.uploads++
	key := fmt.Sprintf("%s/img-%d.jpg", prefix, f.uploads)
	return media.Object{Key: key, URL: "/media/" + key}, nil
}

func (f *fakeImages) Remove(_ context.Context, key string) {
	f.removed = append(f.removed, key)
}
