package security

import (
	"mime"
	"net/http"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// BodyLimit enforces a maximum request payload size. Multipart uploads may
// be given a larger allowance through MultipartMax.
type BodyLimit struct {
	Max          int64
	MultipartMax int64
}

func (b BodyLimit) limitFor(r *http.Request) int64 {
	if b.MultipartMax > 0 {
		if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mediaType == "multipart/form-data" {
			return b.MultipartMax
		}
	}
	return b.Max
}

// Middleware rejects requests declaring a body over the limit with HTTP 413
// and caps the readable body for the rest.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.limitFor(r)
		if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
