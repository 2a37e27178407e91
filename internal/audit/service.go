package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/store"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents an authenticated end-user.
	ActorKindUser ActorKind = "user"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID string
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, arg store.InsertAuditLogParams) (store.AuditLog, error)
	ListAuditLogs(ctx context.Context, limit, offset int32) ([]store.AuditLog, error)
}

// Entry is a single audited action.
type Entry struct {
	Actor        Actor
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     []byte
}

// Service persists audit logs for admin mutations.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit log entry for req when auditing is enabled.
func (s Service) Record(ctx context.Context, req *http.Request, entry Entry) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.Route(req.Context())
	requestID := middleware.GetReqID(req.Context())
	if requestID == "" {
		requestID = req.Header.Get("X-Request-ID")
	}
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}

	_, err := s.Store.InsertAuditLog(ctx, store.InsertAuditLogParams{
		ActorKind:    string(normalizeActorKind(entry.Actor.Kind)),
		UserID:       toNullUUID(entry.Actor.UserID),
		Action:       buildAction(entry.Action, req.Method, route, req.URL.Path),
		ResourceType: buildResource(entry.ResourceType, route, req.URL.Path),
		ResourceID:   store.Text(strings.TrimSpace(entry.ResourceID)),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        store.Text(route),
		Status:       int32(status),
		IP:           store.Text(common.ClientIP(req)),
		UserAgent:    store.Text(strings.TrimSpace(req.UserAgent())),
		RequestID:    store.Text(strings.TrimSpace(requestID)),
		Metadata:     toJSONB(entry.Metadata, req.URL.RawQuery),
	})
	return err
}

func buildAction(action, method, route, path string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = path
	}
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

// buildResource derives a dotted resource name from the route, dropping the
// api/v1 prefix and path parameters.
func buildResource(resourceType, route, path string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	target := strings.Trim(route, "/ ")
	if target == "" {
		target = strings.Trim(path, "/ ")
	}
	if target == "" {
		return "unknown"
	}
	var parts []string
	for i, seg := range strings.Split(target, "/") {
		if (i == 0 && seg == "api") || (i == 1 && seg == "v1") || strings.HasPrefix(seg, "{") || seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func toNullUUID(value string) pgtype.UUID {
	id, err := store.ParseUUID(strings.TrimSpace(value))
	if err != nil {
		return pgtype.UUID{}
	}
	return id
}

func toJSONB(metadata []byte, query string) []byte {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
