package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// Handler exposes REST endpoints for managing address book entries.
type Handler struct {
	Service *Service
}

// List handles GET /api/v1/users/me/addresses.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	page, limit := common.ParsePagination(r, 20, 100)
	addresses, total, err := h.Service.List(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Page(w, addresses, common.NewPagination(page, limit, total))
}

// Get handles GET /api/v1/users/me/addresses/{addressID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	address, err := h.Service.Get(r.Context(), userID, chi.URLParam(r, "addressID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, address)
}

// Create handles POST /api/v1/users/me/addresses.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req AddressInput
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	address, err := h.Service.Create(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, address)
}

// Update handles PUT /api/v1/users/me/addresses/{addressID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req AddressInput
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	address, err := h.Service.Update(r.Context(), userID, chi.URLParam(r, "addressID"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, address)
}

// Delete handles DELETE /api/v1/users/me/addresses/{addressID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), userID, chi.URLParam(r, "addressID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "address service not configured", nil)
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
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
