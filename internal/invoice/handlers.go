package invoice

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// Handler exposes invoice endpoints.
type Handler struct {
	Service *Service
}

type statusRequest struct {
	PaymentStatus string `json:"paymentStatus"`
}

// List handles GET /api/v1/invoices and GET /api/v1/admin/invoices.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	items, total, err := h.Service.List(r.Context(), viewer, ListParams{
		Status:  r.URL.Query().Get("status"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Page(w, items, common.NewPagination(page, perPage, total))
}

// Get handles GET /api/v1/invoices/{invoiceID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	inv, err := h.Service.Get(r.Context(), viewer, chi.URLParam(r, "invoiceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, inv)
}

// UpdateStatus handles PATCH /api/v1/admin/invoices/{invoiceID}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	var req statusRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	inv, err := h.Service.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "invoiceID"), req.PaymentStatus)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, inv)
}

// Export handles GET /api/v1/admin/invoices/export.csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	body, count, err := h.Service.ExportCSV(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename := "invoices-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Total-Count", strconv.Itoa(count))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (Viewer, bool) {
	if h.Service == nil || h.Service.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice service not configured", nil)
		return Viewer{}, false
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return Viewer{}, false
	}
	return Viewer{UserID: userID, Admin: common.IsAdmin(r.Context())}, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
