package cart_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/cart"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type lineKey struct{ user, product pgtype.UUID }

type fakeStore struct {
	mu        sync.Mutex
	products  map[pgtype.UUID]store.CartLine
	lines     map[lineKey]int32
	order     []lineKey
	addresses map[lineKey]store.Address
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  map[pgtype.UUID]store.CartLine{},
		lines:     map[lineKey]int32{},
		addresses: map[lineKey]store.Address{},
	}
}

func newID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

func (f *fakeStore) addProduct(price int64, rules string) pgtype.UUID {
	id := newID()
	f.products[id] = store.CartLine{ProductID: id, Name: "item", Price: price, DiscountRules: []byte(rules)}
	return id
}

func (f *fakeStore) addAddress(user pgtype.UUID) pgtype.UUID {
	id := newID()
	f.addresses[lineKey{user, id}] = store.Address{ID: id, UserID: user}
	return id
}

func (f *fakeStore) ListCartLines(_ context.Context, userID pgtype.UUID) ([]store.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CartLine
	for _, k := range f.order {
		amount, ok := f.lines[k]
		if !ok || k.user != userID {
			continue
		}
		line := f.products[k.product]
		line.Amount = amount
		out = append(out, line)
	}
	return out, nil
}

func (f *fakeStore) AddCartAmount(_ context.Context, userID, productID pgtype.UUID, delta int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[productID]; !ok {
		return 0, &pgconn.PgError{Code: "23503"}
	}
	k := lineKey{userID, productID}
	if int64(f.lines[k])+int64(delta) > math.MaxInt32 {
		return 0, &pgconn.PgError{Code: "22003"}
	}
	if _, ok := f.lines[k]; !ok {
		f.order = append(f.order, k)
	}
	f.lines[k] += delta
	return f.lines[k], nil
}

func (f *fakeStore) IncrementCartAmount(_ context.Context, userID, productID pgtype.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lineKey{userID, productID}
	amount, ok := f.lines[k]
	if !ok {
		return 0, store.ErrNoRows
	}
	if amount == math.MaxInt32 {
		return 0, &pgconn.PgError{Code: "22003"}
	}
	f.lines[k] = amount + 1
	return amount + 1, nil
}

func (f *fakeStore) DecrementCartAmount(_ context.Context, userID, productID pgtype.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lineKey{userID, productID}
	amount, ok := f.lines[k]
	if !ok {
		return 0, store.ErrNoRows
	}
	if amount <= 1 {
		delete(f.lines, k)
		return 0, nil
	}
	f.lines[k] = amount - 1
	return amount - 1, nil
}

func (f *fakeStore) SetCartAmount(_ context.Context, userID, productID pgtype.UUID, amount int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lineKey{userID, productID}
	if _, ok := f.lines[k]; !ok {
		return store.ErrNoRows
	}
	f.lines[k] = amount
	return nil
}

func (f *fakeStore) DeleteCartLine(_ context.Context, userID, productID pgtype.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lineKey{userID, productID}
	_, ok := f.lines[k]
	delete(f.lines, k)
	return ok, nil
}

func (f *fakeStore) ClearCart(_ context.Context, userID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.lines {
		if k.user == userID {
			delete(f.lines, k)
		}
	}
	return nil
}

func (f *fakeStore) GetAddressForUser(_ context.Context, userID, id pgtype.UUID) (store.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.addresses[lineKey{userID, id}]
	if !ok {
		return store.Address{}, store.ErrNoRows
	}
	return a, nil
}

func TestAddIncrementDecrement(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	user := newID()
	uid := store.UUIDString(user)
	pid := store.UUIDString(fs.addProduct(1000, "[]"))

	item, err := svc.AddItem(ctx, uid, pid, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), item.Amount)
	item, err = svc.AddItem(ctx, uid, pid, 1)
	require.NoError(t, err)
	require.Equal(t, int32(3), item.Amount)

	item, err = svc.Increment(ctx, uid, pid)
	require.NoError(t, err)
	require.Equal(t, int32(4), item.Amount)

	item, err = svc.SetAmount(ctx, uid, pid, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), item.Amount)

	item, err = svc.Decrement(ctx, uid, pid)
	require.NoError(t, err)
	require.True(t, item.Removed)

	_, err = svc.Decrement(ctx, uid, pid)
	require.ErrorIs(t, err, cart.ErrItemNotFound)
}

func TestAddItemValidation(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	uid := store.UUIDString(newID())

	_, err := svc.AddItem(context.Background(), uid, store.UUIDString(newID()), 1)
	require.ErrorIs(t, err, cart.ErrProductNotFound)
	_, err = svc.AddItem(context.Background(), uid, "nope", 1)
	require.ErrorIs(t, err, cart.ErrProductNotFound)
	_, err = svc.AddItem(context.Background(), uid, store.UUIDString(fs.addProduct(10, "[]")), 0)
	require.ErrorIs(t, err, cart.ErrInvalidAmount)
}

func TestAmountBounds(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	uid := store.UUIDString(newID())
	pid := store.UUIDString(fs.addProduct(1000, "[]"))

	_, err := svc.AddItem(ctx, uid, pid, math.MaxInt32+1)
	require.ErrorIs(t, err, cart.ErrInvalidAmount)

	_, err = svc.AddItem(ctx, uid, pid, 5)
	require.NoError(t, err)
	_, err = svc.SetAmount(ctx, uid, pid, 4294967301)
	require.ErrorIs(t, err, cart.ErrInvalidAmount)

	item, err := svc.SetAmount(ctx, uid, pid, math.MaxInt32)
	require.NoError(t, err)
	require.Equal(t, int32(math.MaxInt32), item.Amount)
	_, err = svc.AddItem(ctx, uid, pid, 1)
	require.ErrorIs(t, err, cart.ErrInvalidAmount)
	_, err = svc.Increment(ctx, uid, pid)
	require.ErrorIs(t, err, cart.ErrInvalidAmount)

	view, err := svc.View(ctx, uid, "")
	require.NoError(t, err)
	require.Equal(t, math.MaxInt32, view.Items[0].Quantity)
}

func TestViewRejectsTotalsOutsideMoneyRange(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	uid := store.UUIDString(newID())
	pid := store.UUIDString(fs.addProduct(math.MaxInt64/2, "[]"))

	_, err := svc.AddItem(ctx, uid, pid, 3)
	require.NoError(t, err)

	_, err = svc.View(ctx, uid, "")
	require.ErrorIs(t, err, cart.ErrTotalOutOfRange)
	app, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, app.HTTPStatus)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	uid := store.UUIDString(newID())
	pid := store.UUIDString(fs.addProduct(1000, "[]"))
	_, err := svc.AddItem(ctx, uid, pid, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Increment(ctx, uid, pid)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Increment(ctx, uid, pid)
		}()
	}
	wg.Wait()
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Decrement(ctx, uid, pid)
		}()
	}
	wg.Wait()

	view, err := svc.View(ctx, uid, "")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	require.Equal(t, 50+80-30, view.Items[0].Quantity)
}

func TestItemNotFoundIsDistinctFromProductNotFound(t *testing.T) {
	require.NotErrorIs(t, cart.ErrItemNotFound, cart.ErrProductNotFound)
}

func TestSetAmountNonPositiveRemoves(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	uid := store.UUIDString(newID())
	pid := store.UUIDString(fs.addProduct(1000, "[]"))

	_, err := svc.AddItem(ctx, uid, pid, 5)
	require.NoError(t, err)
	item, err := svc.SetAmount(ctx, uid, pid, -3)
	require.NoError(t, err)
	require.True(t, item.Removed)

	view, err := svc.View(ctx, uid, "")
	require.NoError(t, err)
	require.Empty(t, view.Items)
}

func TestViewDeliveryFeeRequiresOwnAddress(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs, DeliveryFee: 10000}
	ctx := context.Background()
	user := newID()
	uid := store.UUIDString(user)
	pid := store.UUIDString(fs.addProduct(50000, `[{"minQty":3,"discPerc":10}]`))
	own := fs.addAddress(user)
	foreign := fs.addAddress(newID())

	_, err := svc.AddItem(ctx, uid, pid, 3)
	require.NoError(t, err)

	view, err := svc.View(ctx, uid, "")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	require.Equal(t, int64(150000), view.Items[0].Gross)
	require.Equal(t, int64(15000), view.Items[0].Discount)
	require.Equal(t, int64(135000), view.Items[0].Total)
	require.Equal(t, int64(0), view.Summary.DeliveryFee)
	require.Equal(t, int64(135000), view.Summary.Total)

	view, err = svc.View(ctx, uid, store.UUIDString(foreign))
	require.NoError(t, err)
	require.Equal(t, int64(0), view.Summary.DeliveryFee)
	require.Nil(t, view.AddressID)

	view, err = svc.View(ctx, uid, store.UUIDString(own))
	require.NoError(t, err)
	require.Equal(t, int64(10000), view.Summary.DeliveryFee)
	require.Equal(t, int64(145000), view.Summary.Total)
}

func TestClear(t *testing.T) {
	fs := newFakeStore()
	svc := &cart.Service{Store: fs}
	ctx := context.Background()
	uid := store.UUIDString(newID())
	for i := 0; i < 3; i++ {
		_, err := svc.AddItem(ctx, uid, store.UUIDString(fs.addProduct(100, "[]")), 1)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Clear(ctx, uid))
	view, err := svc.View(ctx, uid, "")
	require.NoError(t, err)
	require.Empty(t, view.Items)
	require.Equal(t, int64(0), view.Summary.Total)
}

func TestHandlers(t *testing.T) {
	fs := newFakeStore()
	h := &cart.Handler{Service: &cart.Service{Store: fs}}
	r := chi.NewRouter()
	r.Get("/cart", h.Get)
	r.Post("/cart/items", h.AddItem)
	r.Put("/cart/items/{productID}", h.SetAmount)
	r.Delete("/cart/items/{productID}", h.RemoveItem)

	uid := store.UUIDString(newID())
	pid := store.UUIDString(fs.addProduct(2500, "[]"))
	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(common.WithUserID(req.Context(), uid))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPost, "/cart/items", `{"productId":"`+pid+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"amount":1`)

	rr = do(http.MethodPut, "/cart/items/"+pid, `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(http.MethodPut, "/cart/items/"+pid, `{"amount":4}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data cart.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data.Items, 1)
	require.Equal(t, int64(10000), body.Data.Summary.Total)

	rr = do(http.MethodDelete, "/cart/items/"+pid, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(http.MethodDelete, "/cart/items/"+pid, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
