package audit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/store"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// LogView is the JSON representation of an audit entry.
type LogView struct {
	ID           string          `json:"id"`
	ActorKind    string          `json:"actorKind"`
	UserID       *string         `json:"userId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int32           `json:"status"`
	IP           string          `json:"ip,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func toView(row store.AuditLog, _ int) LogView {
	return LogView{
		ID:           store.UUIDString(row.ID),
		ActorKind:    row.ActorKind,
		UserID:       store.NullableUUIDString(row.UserID),
		Action:       row.Action,
		ResourceType: row.ResourceType,
		ResourceID:   store.TextValue(row.ResourceID),
		Method:       row.Method,
		Path:         row.Path,
		Status:       row.Status,
		IP:           store.TextValue(row.IP),
		RequestID:    store.TextValue(row.RequestID),
		Metadata:     json.RawMessage(row.Metadata),
		CreatedAt:    store.TimeValue(row.CreatedAt),
	}
}

// List returns a page of audit logs for administrators, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50, 200)
	rows, err := h.Store.ListAuditLogs(r.Context(), int32(perPage), int32(common.Offset(page, perPage)))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.Data(w, http.StatusOK, lo.Map(rows, toView))
}
