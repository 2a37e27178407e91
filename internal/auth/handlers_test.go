package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/common"
)

func newTestHandler(t *testing.T) (*Handler, *fakeStore) {
	t.Helper()
	svc, fs := newTestService(t)
	return &Handler{
		Service:           svc,
		AccessCookieName:  "access_token",
		RefreshCookieName: "refresh_token",
		CookieSameSite:    http.SameSiteLaxMode,
	}, fs
}

func cookieByName(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandlerLoginSetsCookiesAndRefreshRotates(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"password123"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ann@example.com","password":"password123"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)

	res := rr.Result()
	refresh := cookieByName(res, "refresh_token")
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.NotNil(t, cookieByName(res, "csrf_token"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(refresh)
	rr = httptest.NewRecorder()
	h.Refresh(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	rotated := cookieByName(rr.Result(), "refresh_token")
	require.NotNil(t, rotated)
	require.NotEqual(t, refresh.Value, rotated.Value)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(rotated)
	rr = httptest.NewRecorder()
	h.Logout(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	cleared := cookieByName(rr.Result(), "refresh_token")
	require.NotNil(t, cleared)
	require.Negative(t, cleared.MaxAge)
}

func TestRequireAuthAcceptsBearerAndCookie(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := h.Service.Register(ctx, "Ann", "ann@example.com", "password123")
	require.NoError(t, err)
	login, err := h.Service.Login(ctx, "ann@example.com", "password123", "", "")
	require.NoError(t, err)

	mw := Middleware{Service: h.Service, AccessCookie: "access_token"}
	protected := mw.RequireAuth(http.HandlerFunc(h.Me))

	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: login.AccessToken})
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireRoleUsesFreshRoles(t *testing.T) {
	svc, fs := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "Ann", "ann@example.com", "password123")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, common.IsAdmin(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := RequireRole(svc, common.RoleAdmin)(ok)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", nil)
	req = req.WithContext(common.WithUserID(req.Context(), user.ID))
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	fs.setRoles(user.ID, common.RoleUser, common.RoleAdmin)
	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}
