package cart

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// Handler exposes the authenticated cart endpoints.
type Handler struct {
	Service *Service
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Amount    *int   `json:"amount"`
}

type setAmountRequest struct {
	Amount *int `json:"amount"`
}

// Get handles GET /api/v1/cart?addressId=.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	view, err := h.Service.View(r.Context(), userID, strings.TrimSpace(r.URL.Query().Get("addressId")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// AddItem handles POST /api/v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "productId is required", map[string]string{"field": "productId"})
		return
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	item, err := h.Service.AddItem(r.Context(), userID, strings.TrimSpace(req.ProductID), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, item)
}

// Increment handles POST /api/v1/cart/items/{productID}/increment.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	item, err := h.Service.Increment(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, item)
}

// Decrement handles POST /api/v1/cart/items/{productID}/decrement.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	item, err := h.Service.Decrement(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, item)
}

// SetAmount handles PUT /api/v1/cart/items/{productID}.
func (h *Handler) SetAmount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req setAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "amount is required", map[string]string{"field": "amount"})
		return
	}
	item, err := h.Service.SetAmount(r.Context(), userID, chi.URLParam(r, "productID"), *req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, item)
}

// RemoveItem handles DELETE /api/v1/cart/items/{productID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Service.Remove(r.Context(), userID, chi.URLParam(r, "productID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/v1/cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Service.Clear(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Service == nil || h.Service.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return "", false
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return "", false
	}
	return userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
