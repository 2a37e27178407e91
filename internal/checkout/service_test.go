package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/checkout"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/lock"
	"github.com/noah-isme/backend-grocery/internal/ratelimit"
	"github.com/noah-isme/backend-grocery/internal/store"
)

func newID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

type memStore struct {
	mu        sync.Mutex
	lines     []store.CartLine
	addresses map[pgtype.UUID]store.Address
	created   []store.CreateInvoiceParams
}

func (m *memStore) ListCartLines(context.Context, pgtype.UUID) ([]store.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.CartLine(nil), m.lines...), nil
}

func (m *memStore) GetAddressForUser(_ context.Context, userID, id pgtype.UUID) (store.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[id]
	if !ok || a.UserID != userID {
		return store.Address{}, store.ErrNoRows
	}
	return a, nil
}

func (m *memStore) CreateInvoiceTx(_ context.Context, arg store.CreateInvoiceParams) (store.Invoice, []store.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, arg)
	inv := store.Invoice{
		ID: newID(), UserID: arg.UserID, UserEmail: "buyer@example.test", Address: arg.Address,
		PaymentStatus: "waiting_for_payment", Subtotal: arg.Subtotal, Discount: arg.Discount,
		DeliveryFee: arg.DeliveryFee, Total: arg.Total, CreatedAt: store.Timestamp(time.Now()),
	}
	items := make([]store.InvoiceItem, 0, len(arg.Items))
	for _, it := range arg.Items {
		items = append(items, store.InvoiceItem{
			ID: newID(), InvoiceID: inv.ID, ProductID: it.ProductID, Name: it.Name, UnitPrice: it.UnitPrice,
			Amount: it.Amount, DiscountRules: it.DiscountRules, Discount: it.Discount, LineTotal: it.LineTotal,
		})
	}
	m.lines = nil
	return inv, items, nil
}

type captureEmitter struct{ topics []string }

func (c *captureEmitter) Emit(_ context.Context, topic string, id pgtype.UUID, _ any) (store.DomainEvent, error) {
	c.topics = append(c.topics, topic)
	return store.DomainEvent{ID: newID(), Topic: topic, AggregateID: id}, nil
}

type fixture struct {
	svc     *checkout.Service
	st      *memStore
	em      *captureEmitter
	user    pgtype.UUID
	address pgtype.UUID
}

func newFixture(t *testing.T, rateMax int) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	user, address := newID(), newID()
	st := &memStore{
		lines: []store.CartLine{
			{ProductID: newID(), Name: "Rice 5kg", Price: 50000, Amount: 3, DiscountRules: []byte(`[{"minQty":3,"discPerc":10}]`)},
			{ProductID: newID(), Name: "Eggs", Price: 2000, Amount: 10, DiscountRules: []byte(`[]`)},
		},
		addresses: map[pgtype.UUID]store.Address{
			address: {ID: address, UserID: user, ReceiverName: "Ana", Phone: "0811", Detail: "Jl. 1", City: store.Text("Bogor")},
		},
	}
	em := &captureEmitter{}
	svc := &checkout.Service{
		Store:       st,
		Events:      em,
		Locker:      lock.Locker{R: client, Prefix: "lock:", MaxWait: 200 * time.Millisecond},
		Limiter:     ratelimit.Limiter{Client: client, Prefix: "rl:"},
		DeliveryFee: 10000,
		LockTTL:     5 * time.Second,
		RateWindow:  time.Minute,
		RateMax:     rateMax,
	}
	return fixture{svc: svc, st: st, em: em, user: user, address: address}
}

func TestCheckoutCreatesInvoice(t *testing.T) {
	f := newFixture(t, 5)
	inv, err := f.svc.Checkout(context.Background(), store.UUIDString(f.user), checkout.Input{AddressID: store.UUIDString(f.address)})
	require.NoError(t, err)

	require.Equal(t, int64(170000), inv.Subtotal)
	require.Equal(t, int64(15000), inv.Discount)
	require.Equal(t, int64(10000), inv.DeliveryFee)
	require.Equal(t, int64(165000), inv.Total)
	require.Len(t, inv.Items, 2)
	require.Equal(t, "Ana", inv.Address.ReceiverName)
	require.Equal(t, "Bogor", inv.Address.City)
	require.Equal(t, []string{events.TopicInvoiceCreated}, f.em.topics)

	require.Len(t, f.st.created, 1)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(f.st.created[0].Address, &snapshot))
	require.Equal(t, "Jl. 1", snapshot["detail"])
	require.Equal(t, int64(15000), f.st.created[0].Items[0].Discount)

	_, err = f.svc.Checkout(context.Background(), store.UUIDString(f.user), checkout.Input{AddressID: store.UUIDString(f.address)})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestCheckoutRejectsForeignAddress(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.svc.Checkout(context.Background(), store.UUIDString(f.user), checkout.Input{AddressID: store.UUIDString(newID())})
	require.ErrorIs(t, err, checkout.ErrAddressNotFound)
	_, err = f.svc.Checkout(context.Background(), store.UUIDString(newID()), checkout.Input{AddressID: store.UUIDString(f.address)})
	require.ErrorIs(t, err, checkout.ErrAddressNotFound)
	require.Empty(t, f.st.created)
}

func TestCheckoutRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	uid := store.UUIDString(f.user)
	in := checkout.Input{AddressID: store.UUIDString(f.address)}

	_, err := f.svc.Checkout(context.Background(), uid, in)
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), uid, in)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "RATE_LIMITED", appErr.Code)
	require.Equal(t, http.StatusTooManyRequests, appErr.HTTPStatus)
}

func TestCheckoutHandler(t *testing.T) {
	f := newFixture(t, 5)
	h := &checkout.Handler{Svc: f.svc}

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`))
	req = req.WithContext(common.WithUserID(req.Context(), store.UUIDString(f.user)))
	rr := httptest.NewRecorder()
	h.Checkout(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"addressId":"`+store.UUIDString(f.address)+`"}`))
	req = req.WithContext(common.WithUserID(req.Context(), store.UUIDString(f.user)))
	rr = httptest.NewRecorder()
	h.Checkout(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":165000`)
}
