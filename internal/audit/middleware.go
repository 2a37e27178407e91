package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/obs"
)

// HTTPRecorder records HTTP requests after they have been handled.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware returns a chi-compatible middleware that records audit entries.
// Only requests that reached a handler are recorded; the resource id is
// read from the chi URL parameter named by cfg.ResourceIDParam.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			entry := Entry{
				Actor:        r.actor(req),
				Action:       cfg.Action,
				ResourceType: cfg.ResourceType,
				Status:       recorder.Status(),
			}
			if cfg.ResourceIDParam != "" {
				entry.ResourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, recorder.Status()); payload != nil {
					if data, err := json.Marshal(payload); err == nil {
						entry.Metadata = data
					}
				}
			}

			if err := r.Service.Record(req.Context(), req, entry); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (r HTTPRecorder) actor(req *http.Request) Actor {
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if userID, ok := common.UserID(req.Context()); ok {
		return Actor{Kind: ActorKindUser, UserID: userID}
	}
	return Actor{Kind: ActorKindAnonymous}
}
