package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// CSRF protects cookie-authenticated writes using the double-submit
// technique: the token in Header must equal the value of the cookie named
// CookieName. Requests authenticated with a bearer token, or carrying no
// session cookie at all, are not subject to the check.
type CSRF struct {
	Header        string
	CookieName    string
	SessionCookie string
}

func (c CSRF) names() (header, cookie string) {
	header = strings.TrimSpace(c.Header)
	if header == "" {
		header = "X-CSRF-Token"
	}
	cookie = strings.TrimSpace(c.CookieName)
	if cookie == "" {
		cookie = "csrf_token"
	}
	return header, cookie
}

// Issue sets a fresh CSRF cookie readable by the client and returns the token.
func (c CSRF) Issue(w http.ResponseWriter, secure bool, sameSite http.SameSite) (string, error) {
	_, cookieName := c.names()
	token, err := common.RandomHex(32)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		SameSite: sameSite,
	})
	return token, nil
}

// Middleware enforces the double-submit check on non-idempotent requests.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName, cookieName := c.names()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		if c.SessionCookie != "" {
			if _, err := r.Cookie(c.SessionCookie); err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf token", nil)
			return
		}
		cookie, err := r.Cookie(cookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf cookie", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "invalid csrf token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
