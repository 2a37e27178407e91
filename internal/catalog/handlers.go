package catalog

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/pricing"
)

const multipartMemory = 8 << 20

// Handler exposes catalog endpoints.
type Handler struct {
	Service        *Service
	MaxUploadBytes int64
}

type productPayload struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Price       *int64                 `json:"price"`
	Category    *string                `json:"category"`
	DiscRules   []pricing.DiscountRule `json:"discRules"`
}

type categoryPayload struct {
	Name string `json:"name"`
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	defaultLimit, maxLimit := h.Service.Limits()
	page, limit := common.ParsePagination(r, defaultLimit, maxLimit)
	q := r.URL.Query()
	result, err := h.Service.ListProducts(r.Context(), ListParams{
		Query:      q.Get("q"),
		ID:         strings.TrimSpace(q.Get("id")),
		CategoryID: strings.TrimSpace(q.Get("cat")),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Page(w, result.Items, common.NewPagination(result.Page, result.Limit, result.Total))
}

// Product handles GET /api/v1/products/{productID}.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	product, err := h.Service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// Quote handles GET /api/v1/products/{productID}/quote?qty=N.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	qty, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("qty")))
	if err != nil || qty < 1 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "qty must be a positive integer", map[string]string{"field": "qty"})
		return
	}
	quote, err := h.Service.QuoteProduct(r.Context(), chi.URLParam(r, "productID"), qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, quote)
}

// CreateProduct handles POST /api/v1/products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	in, err := h.decodeProduct(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Service.CreateProduct(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, product)
}

// UpdateProduct handles PUT /api/v1/products/{productID}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	in, err := h.decodeProduct(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// DeleteProduct handles DELETE /api/v1/products/{productID}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	if err := h.Service.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories handles GET /api/v1/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	rows, err := h.Service.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// CreateCategory handles POST /api/v1/categories.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var req categoryPayload
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	cat, err := h.Service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, cat)
}

// DeleteCategory handles DELETE /api/v1/categories/{categoryID}.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	if err := h.Service.DeleteCategory(r.Context(), chi.URLParam(r, "categoryID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeProduct accepts either a JSON body or a multipart form whose
// discRules field holds a JSON array and whose optional image field holds
// the picture.
func (h *Handler) decodeProduct(r *http.Request) (ProductInput, error) {
	badRequest := func(msg string, err error) error {
		return common.NewAppError("BAD_REQUEST", msg, http.StatusBadRequest, err)
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var p productPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return ProductInput{}, badRequest("invalid request payload", err)
		}
		return ProductInput{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			CategoryID:  p.Category,
			DiscRules:   p.DiscRules,
			HasRules:    p.DiscRules != nil,
		}, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ProductInput{}, common.NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		}
		return ProductInput{}, badRequest("invalid multipart form", err)
	}
	form := r.MultipartForm.Value
	field := func(name string) *string {
		if v, ok := form[name]; ok && len(v) > 0 {
			return &v[0]
		}
		return nil
	}

	in := ProductInput{
		Name:        field("name"),
		Description: field("description"),
		CategoryID:  field("category"),
	}
	if raw := field("price"); raw != nil {
		price, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64)
		if err != nil {
			return ProductInput{}, badRequest("price must be an integer", err)
		}
		in.Price = &price
	}
	if raw := field("discRules"); raw != nil {
		in.HasRules = true
		if strings.TrimSpace(*raw) != "" {
			rules, err := pricing.ParseRules([]byte(*raw))
			if err != nil {
				return ProductInput{}, pricingError(err)
			}
			in.DiscRules = rules
		}
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return ProductInput{}, badRequest("invalid image upload", err)
	default:
		defer file.Close()
		if h.MaxUploadBytes > 0 && header.Size > h.MaxUploadBytes {
			return ProductInput{}, common.NewAppError("PAYLOAD_TOO_LARGE", "image is too large", http.StatusRequestEntityTooLarge, nil)
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return ProductInput{}, badRequest("invalid image upload", err)
		}
		in.Image = data
	}
	return in, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
