package security

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultHSTSMaxAge = 365 * 24 * 60 * 60

var staticHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
	{"Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'"},
}

// Headers sets browser hardening headers. HSTS is only sent on TLS
// requests, and paths under NoStorePrefixes (the authenticated API) are
// marked Cache-Control: no-store.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	NoStorePrefixes       []string
}

func (h Headers) hsts() string {
	if !h.EnableHSTS {
		return ""
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	var b strings.Builder
	b.WriteString("max-age=")
	b.WriteString(strconv.Itoa(maxAge))
	if h.HSTSIncludeSubdomains {
		b.WriteString("; includeSubDomains")
	}
	return b.String()
}

func (h Headers) noStore(path string) bool {
	for _, prefix := range h.NoStorePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns next unchanged when Enable is false.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		for _, kv := range staticHeaders {
			out.Set(kv[0], kv[1])
		}
		if hsts != "" && r.TLS != nil {
			out.Set("Strict-Transport-Security", hsts)
		}
		if h.noStore(r.URL.Path) {
			out.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
