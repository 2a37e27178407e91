package user

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	rows []store.Address
}

func (m *memStore) ListAddressesByUser(_ context.Context, userID pgtype.UUID, limit, offset int32) ([]store.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Address
	for _, a := range m.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	if int(offset) >= len(out) {
		return nil, nil
	}
	end := min(len(out), int(offset+limit))
	return out[offset:end], nil
}

func (m *memStore) CountAddressesByUser(_ context.Context, userID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.rows {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetAddressForUser(_ context.Context, userID, id pgtype.UUID) (store.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ID == id && a.UserID == userID {
			return a, nil
		}
	}
	return store.Address{}, store.ErrNoRows
}

func (m *memStore) DeleteAddress(_ context.Context, userID, id pgtype.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.rows {
		if a.ID == id && a.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SaveAddressTx(_ context.Context, userID, id pgtype.UUID, arg store.AddressParams) (store.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	if id.Valid {
		for i, a := range m.rows {
			if a.ID == id && a.UserID == userID {
				idx = i
			}
		}
		if idx < 0 {
			return store.Address{}, store.ErrNoRows
		}
	}
	if arg.IsDefault {
		for i := range m.rows {
			if m.rows[i].UserID == userID {
				m.rows[i].IsDefault = false
			}
		}
	}
	row := store.Address{
		ID: id, UserID: userID, Label: arg.Label, ReceiverName: arg.ReceiverName, Phone: arg.Phone,
		Province: arg.Province, City: arg.City, District: arg.District, PostalCode: arg.PostalCode,
		Detail: arg.Detail, IsDefault: arg.IsDefault,
	}
	if idx < 0 {
		row.ID = pgtype.UUID{Bytes: uuid.New(), Valid: true}
		m.rows = append(m.rows, row)
	} else {
		m.rows[idx] = row
	}
	return row, nil
}

func validInput() AddressInput {
	return AddressInput{ReceiverName: "Budi", Phone: "0812345678", City: "Bandung", Detail: "Jl. Merdeka 1"}
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(&memStore{})
	_, err := svc.Create(context.Background(), uuid.NewString(), AddressInput{Phone: "1"})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	details, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "required", details["receiverName"])
	require.Equal(t, "required", details["detail"])
	require.Equal(t, "min", details["phone"])
}

func TestSingleDefaultAddress(t *testing.T) {
	st := &memStore{}
	svc := NewService(st)
	ctx := context.Background()
	uid := uuid.NewString()

	in := validInput()
	in.IsDefault = true
	first, err := svc.Create(ctx, uid, in)
	require.NoError(t, err)
	require.True(t, first.IsDefault)

	second, err := svc.Create(ctx, uid, in)
	require.NoError(t, err)
	require.True(t, second.IsDefault)

	got, err := svc.Get(ctx, uid, first.ID)
	require.NoError(t, err)
	require.False(t, got.IsDefault)

	list, total, err := svc.List(ctx, uid, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, list, 2)
}

func TestAddressesAreScopedToOwner(t *testing.T) {
	svc := NewService(&memStore{})
	ctx := context.Background()
	owner := uuid.NewString()
	created, err := svc.Create(ctx, owner, validInput())
	require.NoError(t, err)

	other := uuid.NewString()
	_, err = svc.Get(ctx, other, created.ID)
	require.ErrorIs(t, err, ErrAddressNotFound)
	_, err = svc.Update(ctx, other, created.ID, validInput())
	require.ErrorIs(t, err, ErrAddressNotFound)
	require.ErrorIs(t, svc.Delete(ctx, other, created.ID), ErrAddressNotFound)
	require.ErrorIs(t, svc.Delete(ctx, owner, "bogus"), ErrAddressNotFound)

	require.NoError(t, svc.Delete(ctx, owner, created.ID))
}

func TestHandlersCreateAndList(t *testing.T) {
	h := &Handler{Service: NewService(&memStore{})}
	r := chi.NewRouter()
	r.Get("/addresses", h.List)
	r.Post("/addresses", h.Create)
	uid := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/addresses", strings.NewReader(`{"receiverName":"Sari","phone":"08123456","detail":"Gang 2"}`))
	req = req.WithContext(common.WithUserID(req.Context(), uid))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/addresses?page=1&limit=5", nil)
	req = req.WithContext(common.WithUserID(req.Context(), uid))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"receiverName":"Sari"`)
	require.Contains(t, rr.Body.String(), `"pagination"`)
}
