package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/media"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/pricing"
	"github.com/noah-isme/backend-grocery/internal/store"
)

var (
	// ErrNotFound is returned when a product or category does not exist.
	ErrNotFound = common.NewAppError("NOT_FOUND", "resource not found", http.StatusNotFound, nil)
	// ErrProductExists is returned when a product name is already taken.
	ErrProductExists = common.NewAppError("PRODUCT_EXISTS", "product name already taken", http.StatusConflict, nil)
	// ErrCategoryExists is returned when a category name is already taken.
	ErrCategoryExists = common.NewAppError("CATEGORY_EXISTS", "category name already taken", http.StatusConflict, nil)
)

// Store is the catalog persistence.
type Store interface {
	ListCategories(ctx context.Context) ([]store.Category, error)
	GetCategoryByID(ctx context.Context, id pgtype.UUID) (store.Category, error)
	CreateCategory(ctx context.Context, name string) (store.Category, error)
	DeleteCategory(ctx context.Context, id pgtype.UUID) (bool, error)
	CountProducts(ctx context.Context, filter store.ProductFilter) (int64, error)
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]store.Product, error)
	GetProductByID(ctx context.Context, id pgtype.UUID) (store.Product, error)
	CreateProduct(ctx context.Context, arg store.ProductParams) (store.Product, error)
	UpdateProduct(ctx context.Context, id pgtype.UUID, arg store.ProductParams) (store.Product, error)
	DeleteProduct(ctx context.Context, id pgtype.UUID) (store.Product, error)
}

// Images stores product pictures.
type Images interface {
	Upload(ctx context.Context, prefix string, data []byte) (media.Object, error)
	Remove(ctx context.Context, key string)
}

// Service orchestrates catalog queries, writes, and caching.
type Service struct {
	store        Store
	images       Images
	cache        *Cache
	categories   *categoryCache
	validate     *validator.Validate
	logger       zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store            Store
	Images           Images
	Cache            *Cache
	CategoryCacheTTL time.Duration
	Logger           zerolog.Logger
	DefaultLimit     int
	MaxLimit         int
}

// Product is the public product payload.
type Product struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Price       pricing.Money          `json:"price"`
	Category    *Category              `json:"category,omitempty"`
	ImageURL    *string                `json:"imageUrl,omitempty"`
	DiscRules   []pricing.DiscountRule `json:"discRules"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Category represents the public category payload.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query      string `json:"q,omitempty"`
	ID         string `json:"id,omitempty"`
	CategoryID string `json:"cat,omitempty"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
}

// ProductPage contains list data and pagination metadata.
type ProductPage struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// ProductInput is a create or partial update request. Nil fields are left
// untouched on update.
type ProductInput struct {
	Name        *string `validate:"omitnil,min=1,max=200"`
	Description *string `validate:"omitnil,max=5000"`
	Price       *int64  `validate:"omitnil,gt=0"`
	CategoryID  *string
	DiscRules   []pricing.DiscountRule `validate:"-"`
	HasRules    bool                   `validate:"-"`
	Image       []byte                 `validate:"-"`
}

// Quote is the calculator preview for a product and quantity.
type Quote struct {
	ProductID string `json:"productId"`
	pricing.LineQuote
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &Service{
		store:        cfg.Store,
		images:       cfg.Images,
		cache:        cfg.Cache,
		categories:   newCategoryCache(cfg.CategoryCacheTTL),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       cfg.Logger,
		defaultLimit: min(defaultLimit, maxLimit),
		maxLimit:     maxLimit,
	}, nil
}

// Limits returns the default and maximum page sizes.
func (s *Service) Limits() (defaultLimit, maxLimit int) {
	return s.defaultLimit, s.maxLimit
}

// ListProducts returns a filtered page of products, served from the Redis
// cache when possible.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductPage, error) {
	params.Page = max(params.Page, 1)
	if params.Limit < 1 {
		params.Limit = s.defaultLimit
	}
	params.Limit = min(params.Limit, s.maxLimit)

	filter := store.ProductFilter{
		Query:  strings.TrimSpace(params.Query),
		Limit:  int32(params.Limit),
		Offset: int32(common.Offset(params.Page, params.Limit)),
	}
	var err error
	if params.ID != "" {
		if filter.ID, err = store.ParseUUID(params.ID); err != nil {
			return ProductPage{Items: []Product{}, Page: params.Page, Limit: params.Limit}, nil
		}
	}
	if params.CategoryID != "" {
		// Unknown category ids are ignored rather than matching nothing.
		if id, err := store.ParseUUID(params.CategoryID); err == nil {
			filter.CategoryID = id
		}
	}

	var key string
	if s.cache.enabled() {
		if key, err = s.cache.ListKey(ctx, params); err != nil {
			s.logger.Warn().Err(err).Msg("catalog cache key failed")
		}
		var cached ProductPage
		if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			obs.ObserveCatalogCache(true)
			return cached, nil
		}
		obs.ObserveCatalogCache(false)
	}

	total, err := s.store.CountProducts(ctx, filter)
	if err != nil {
		return ProductPage{}, fmt.Errorf("count products: %w", err)
	}
	rows, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	page := ProductPage{
		Items: lo.Map(rows, func(p store.Product, _ int) Product { return toProduct(p) }),
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}
	if err := s.cache.SetJSON(ctx, key, page); err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache write failed")
	}
	return page, nil
}

// GetProduct loads a single product.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	row, err := s.loadProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	return toProduct(row), nil
}

// QuoteProduct prices qty units of a product.
func (s *Service) QuoteProduct(ctx context.Context, id string, qty int) (Quote, error) {
	row, err := s.loadProduct(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	rules, err := pricing.ParseRules(row.DiscountRules)
	if err != nil {
		return Quote{}, fmt.Errorf("stored rules for %s: %w", id, err)
	}
	q, err := pricing.QuoteLine(pricing.LineItem{UnitPrice: row.Price, Quantity: qty, Rules: rules})
	if err != nil {
		return Quote{}, pricingError(err)
	}
	return Quote{ProductID: store.UUIDString(row.ID), LineQuote: q}, nil
}

// CreateProduct validates in, stores the optional image, and inserts the product.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return Product{}, validationError("invalid product payload", map[string]string{"name": "required"})
	}
	if in.Price == nil {
		return Product{}, validationError("invalid product payload", map[string]string{"price": "required"})
	}
	params := store.ProductParams{}
	if err := s.apply(ctx, &params, in); err != nil {
		return Product{}, err
	}
	obj, err := s.upload(ctx, in.Image)
	if err != nil {
		return Product{}, err
	}
	if obj.Key != "" {
		params.ImageURL, params.ImageKey = store.Text(obj.URL), store.Text(obj.Key)
	}

	row, err := s.store.CreateProduct(ctx, params)
	if err != nil {
		s.removeImage(ctx, obj.Key)
		return Product{}, s.writeErr(err)
	}
	s.invalidate(ctx)
	return toProduct(row), nil
}

// UpdateProduct applies the non-nil fields of in. A new image replaces and
// removes the previous one.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (Product, error) {
	existing, err := s.loadProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	params := store.ProductParams{
		Name:          existing.Name,
		Description:   existing.Description,
		Price:         existing.Price,
		CategoryID:    existing.CategoryID,
		ImageURL:      existing.ImageURL,
		ImageKey:      existing.ImageKey,
		DiscountRules: existing.DiscountRules,
	}
	if err := s.apply(ctx, &params, in); err != nil {
		return Product{}, err
	}
	obj, err := s.upload(ctx, in.Image)
	if err != nil {
		return Product{}, err
	}
	if obj.Key != "" {
		params.ImageURL, params.ImageKey = store.Text(obj.URL), store.Text(obj.Key)
	}

	row, err := s.store.UpdateProduct(ctx, existing.ID, params)
	if err != nil {
		s.removeImage(ctx, obj.Key)
		return Product{}, s.writeErr(err)
	}
	if obj.Key != "" {
		s.removeImage(ctx, store.TextValue(existing.ImageKey))
	}
	s.invalidate(ctx)
	return toProduct(row), nil
}

// DeleteProduct removes a product and its image.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	pid, err := store.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	row, err := s.store.DeleteProduct(ctx, pid)
	if err != nil {
		return s.writeErr(err)
	}
	s.removeImage(ctx, store.TextValue(row.ImageKey))
	s.invalidate(ctx)
	return nil
}

// ListCategories returns all categories sorted by name.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	if cached, ok := s.categories.get(); ok {
		return cached, nil
	}
	rows, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	items := lo.Map(rows, func(c store.Category, _ int) Category {
		return Category{ID: store.UUIDString(c.ID), Name: c.Name}
	})
	s.categories.set(items)
	return items, nil
}

// CreateCategory inserts a category with a unique name.
func (s *Service) CreateCategory(ctx context.Context, name string) (Category, error) {
	name = strings.TrimSpace(name)
	if err := s.validate.Var(name, "required,max=100"); err != nil {
		return Category{}, validationError("invalid category payload", map[string]string{"name": "required"})
	}
	row, err := s.store.CreateCategory(ctx, name)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Category{}, ErrCategoryExists
		}
		return Category{}, fmt.Errorf("create category: %w", err)
	}
	s.categories.flush()
	return Category{ID: store.UUIDString(row.ID), Name: row.Name}, nil
}

// DeleteCategory removes a category. Products keep existing without one.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	cid, err := store.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	ok, err := s.store.DeleteCategory(ctx, cid)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	s.categories.flush()
	s.invalidate(ctx)
	return nil
}

func (s *Service) apply(ctx context.Context, params *store.ProductParams, in ProductInput) error {
	if err := s.validate.Struct(in); err != nil {
		return validationError("invalid product payload", fieldErrors(err))
	}
	if in.Name != nil {
		params.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		params.Description = strings.TrimSpace(*in.Description)
	}
	if in.Price != nil {
		params.Price = *in.Price
	}
	if in.CategoryID != nil {
		params.CategoryID = pgtype.UUID{}
		if raw := strings.TrimSpace(*in.CategoryID); raw != "" {
			cid, err := store.ParseUUID(raw)
			if err != nil {
				return common.NewAppError("INVALID_CATEGORY", "category not found", http.StatusBadRequest, err)
			}
			if _, err := s.store.GetCategoryByID(ctx, cid); err != nil {
				if errors.Is(err, store.ErrNoRows) {
					return common.NewAppError("INVALID_CATEGORY", "category not found", http.StatusBadRequest, err)
				}
				return fmt.Errorf("load category: %w", err)
			}
			params.CategoryID = cid
		}
	}
	if in.HasRules {
		rules, err := pricing.NormalizeRules(in.DiscRules)
		if err != nil {
			return pricingError(err)
		}
		raw, err := json.Marshal(rules)
		if err != nil {
			return fmt.Errorf("encode rules: %w", err)
		}
		params.DiscountRules = raw
	}
	return nil
}

func (s *Service) upload(ctx context.Context, data []byte) (media.Object, error) {
	if len(data) == 0 {
		return media.Object{}, nil
	}
	if s.images == nil {
		return media.Object{}, common.NewAppError("MEDIA_DISABLED", "image uploads are not configured", http.StatusBadRequest, nil)
	}
	obj, err := s.images.Upload(ctx, "products", data)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return media.Object{}, common.NewAppError("PAYLOAD_TOO_LARGE", "image is too large", http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, media.ErrUnsupportedType):
		return media.Object{}, common.NewAppError("INVALID_IMAGE", "image must be jpeg, png, gif or webp", http.StatusBadRequest, err)
	case err != nil:
		return media.Object{}, fmt.Errorf("upload image: %w", err)
	}
	return obj, nil
}

func (s *Service) removeImage(ctx context.Context, key string) {
	if s.images != nil && key != "" {
		s.images.Remove(ctx, key)
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache invalidate failed")
	}
}

func (s *Service) loadProduct(ctx context.Context, id string) (store.Product, error) {
	pid, err := store.ParseUUID(id)
	if err != nil {
		return store.Product{}, ErrNotFound
	}
	row, err := s.store.GetProductByID(ctx, pid)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return store.Product{}, ErrNotFound
		}
		return store.Product{}, fmt.Errorf("get product: %w", err)
	}
	return row, nil
}

func (s *Service) writeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return ErrNotFound
	case store.IsUniqueViolation(err):
		return ErrProductExists
	case store.IsForeignKeyViolation(err):
		return common.NewAppError("INVALID_CATEGORY", "category not found", http.StatusBadRequest, err)
	default:
		return fmt.Errorf("write product: %w", err)
	}
}

func toProduct(p store.Product) Product {
	rules, err := pricing.ParseRules(p.DiscountRules)
	if err != nil {
		rules = []pricing.DiscountRule{}
	}
	out := Product{
		ID:          store.UUIDString(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		DiscRules:   rules,
		CreatedAt:   store.TimeValue(p.CreatedAt),
		UpdatedAt:   store.TimeValue(p.UpdatedAt),
	}
	if p.CategoryID.Valid {
		out.Category = &Category{ID: store.UUIDString(p.CategoryID), Name: store.TextValue(p.CategoryName)}
	}
	if p.ImageURL.Valid {
		out.ImageURL = &p.ImageURL.String
	}
	return out
}

func pricingError(err error) error {
	var field string
	switch {
	case errors.Is(err, pricing.ErrInvalidRule):
		field = "discRules"
	case errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrOverflow):
		field = "qty"
	case errors.Is(err, pricing.ErrInvalidPrice):
		field = "price"
	default:
		return err
	}
	return common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, err).
		WithDetails(map[string]string{field: err.Error()})
}

func validationError(message string, details map[string]string) error {
	return common.NewAppError("VALIDATION_ERROR", message, http.StatusBadRequest, nil).WithDetails(details)
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}
