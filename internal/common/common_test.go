package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int32
	handler := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		Data(w, http.StatusCreated, map[string]int32{"call": n})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		req = req.WithContext(WithUserID(req.Context(), "user-1"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int32
	handler := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "boom", nil)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotencyPendingKeyConflicts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idem := Idem{R: client, TTL: time.Minute}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req.Header.Set("Idempotency-Key", "in-flight")
	require.NoError(t, client.Set(context.Background(), idem.key(req, "in-flight"), idemPending, time.Minute).Err())

	rr := httptest.NewRecorder()
	idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=500", nil)
	page, perPage := ParsePagination(req, 20, 100)
	require.Equal(t, 3, page)
	require.Equal(t, 100, perPage)
	require.Equal(t, 200, Offset(page, perPage))

	req = httptest.NewRequest(http.MethodGet, "/?page=-1&limit=abc", nil)
	page, perPage = ParsePagination(req, 20, 100)
	require.Equal(t, 1, page)
	require.Equal(t, 20, perPage)

	req = httptest.NewRequest(http.MethodGet, "/?page=9223372036854775807&limit=100", nil)
	page, perPage = ParsePagination(req, 20, 100)
	require.Equal(t, 100, perPage)
	require.Equal(t, math.MaxInt32/100+1, page)
	require.LessOrEqual(t, Offset(page, perPage), math.MaxInt32)
	require.Equal(t, math.MaxInt32, Offset(math.MaxInt64, 50))

	p := NewPagination(2, 20, 41)
	require.Equal(t, 3, p.TotalPages)
}

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	err := errors.Join(errors.New("ctx"), NewAppError("EMPTY_CART", "cart is empty", http.StatusBadRequest, nil))
	require.True(t, WriteAppError(rr, err))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "EMPTY_CART", body.Error.Code)

	require.False(t, WriteAppError(httptest.NewRecorder(), errors.New("plain")))
}

func TestRolesContext(t *testing.T) {
	ctx := WithRoles(context.Background(), []string{RoleUser, RoleAdmin})
	require.True(t, IsAdmin(ctx))
	require.False(t, IsAdmin(context.Background()))

	_, ok := UserID(context.Background())
	require.False(t, ok)
	id, ok := UserID(WithUserID(context.Background(), "u1"))
	require.True(t, ok)
	require.Equal(t, "u1", id)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:1234"
	require.Equal(t, "10.1.1.1", ClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestInMemoryEmail(t *testing.T) {
	outbox := &InMemoryEmail{}
	require.NoError(t, outbox.Send(context.Background(), Email{To: "a@b.test", Subject: "hi"}))
	require.Len(t, outbox.Sent(), 1)
}

func TestAppErrorMatchesByCode(t *testing.T) {
	sentinel := NewAppError("INVALID_STATE", "invalid transition", http.StatusConflict, nil)
	detailed := sentinel.WithDetails(map[string]string{"from": "paid"})
	wrapped := fmt.Errorf("update status: %w", sentinel.Wrap(errors.New("row changed")))

	require.ErrorIs(t, detailed, sentinel)
	require.ErrorIs(t, wrapped, sentinel)
	require.NotErrorIs(t, wrapped, NewAppError("NOT_FOUND", "missing", http.StatusNotFound, nil))
	require.NotErrorIs(t, detailed, NewAppError("INVALID_STATE", "other transition", http.StatusConflict, nil))
	require.Equal(t, "INVALID_STATE: row changed", errors.Unwrap(wrapped).Error())

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	rr := httptest.NewRecorder()
	require.True(t, DecodeJSON(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"apel"}`)), &dst))
	require.Equal(t, "apel", dst.Name)

	rr = httptest.NewRecorder()
	require.False(t, DecodeJSON(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), &dst))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a very long product name"}`))
	req.Body = http.MaxBytesReader(rr, req.Body, 8)
	require.False(t, DecodeJSON(rr, req, &dst))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
