package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/security"
)

// Handler exposes HTTP handlers for authentication and account endpoints.
type Handler struct {
	Service           *Service
	CSRF              security.CSRF
	AccessCookieName  string
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req registerRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.Service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req loginRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	result, err := h.Service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setAuthCookies(w, result.Tokens)
	if _, err := h.CSRF.Issue(w, h.CookieSecure, h.CookieSameSite); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token is read from
// the cookie first and from the JSON body otherwise.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	token := h.refreshTokenFromRequest(r)
	if token == "" {
		var req refreshRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		token = strings.TrimSpace(req.RefreshToken)
	}
	tokens, err := h.Service.Refresh(r.Context(), token)
	if err != nil {
		h.clearAuthCookies(w)
		h.writeError(w, err)
		return
	}
	h.setAuthCookies(w, tokens)
	common.Data(w, http.StatusOK, tokens)
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	if token := h.refreshTokenFromRequest(r); token != "" {
		_ = h.Service.Logout(r.Context(), token)
	}
	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, user)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, tokens Tokens) {
	h.setCookie(w, h.AccessCookieName, tokens.AccessToken, tokens.AccessExpiry, 0)
	h.setCookie(w, h.RefreshCookieName, tokens.RefreshToken, tokens.RefreshExpiry, 0)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.setCookie(w, h.AccessCookieName, "", time.Time{}, -1)
	h.setCookie(w, h.RefreshCookieName, "", time.Time{}, -1)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time, maxAge int) {
	if name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   h.CookieDomain,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	})
}

func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if h.RefreshCookieName == "" {
		return ""
	}
	if cookie, err := r.Cookie(h.RefreshCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
