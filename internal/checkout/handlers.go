package checkout

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// Handler exposes the checkout endpoint.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload Input
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	payload.AddressID = strings.TrimSpace(payload.AddressID)
	if payload.AddressID == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "addressId is required", map[string]string{"field": "addressId"})
		return
	}
	out, err := h.Svc.Checkout(r.Context(), userID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	h.Svc.Logger.Error().Err(err).Msg("checkout failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
}
