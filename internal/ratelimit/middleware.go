package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler. Store
// failures fail open and are reported through OnError.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// ByUser keys requests by the authenticated user, falling back to client IP.
func ByUser(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := common.UserID(r.Context()); ok {
			return scope + ":user:" + userID
		}
		return scope + ":ip:" + common.ClientIP(r)
	}
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeHeaders(w, max(h.Config.Max, 0), decision.Remaining, decision.ResetAt)

		if !decision.Allowed {
			retryAfter := max(int(time.Until(decision.ResetAt).Seconds()), 0)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", map[string]int{"retry_after": retryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
