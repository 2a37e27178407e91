package invoice_test

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/invoice"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	invoices []store.Invoice
	items    map[pgtype.UUID][]store.InvoiceItem
}

func newID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

func (m *memStore) add(user pgtype.UUID, status string) store.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := store.Invoice{
		ID:            newID(),
		UserID:        user,
		UserEmail:     "buyer@example.test",
		Address:       []byte(`{"receiverName":"Ana","phone":"0811","city":"Bogor","detail":"Jl. 1"}`),
		PaymentStatus: status,
		Subtotal:      150000,
		Discount:      15000,
		DeliveryFee:   10000,
		Total:         145000,
		CreatedAt:     store.Timestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
	}
	m.invoices = append(m.invoices, inv)
	if m.items == nil {
		m.items = map[pgtype.UUID][]store.InvoiceItem{}
	}
	m.items[inv.ID] = []store.InvoiceItem{{
		ID: newID(), InvoiceID: inv.ID, ProductID: newID(), Name: "Rice 5kg",
		UnitPrice: 50000, Amount: 3, DiscountRules: []byte(`[{"minQty":3,"discPerc":10}]`),
		Discount: 15000, LineTotal: 135000,
	}}
	return inv
}

func (m *memStore) match(f store.InvoiceFilter) []store.Invoice {
	var out []store.Invoice
	for _, inv := range m.invoices {
		if f.UserID.Valid && inv.UserID != f.UserID {
			continue
		}
		if f.Status != "" && inv.PaymentStatus != f.Status {
			continue
		}
		out = append(out, inv)
	}
	return out
}

func (m *memStore) CountInvoices(_ context.Context, f store.InvoiceFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.match(f))), nil
}

func (m *memStore) ListInvoices(_ context.Context, f store.InvoiceFilter) ([]store.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.match(f)
	if int(f.Offset) >= len(all) {
		return nil, nil
	}
	return all[f.Offset:min(len(all), int(f.Offset+f.Limit))], nil
}

func (m *memStore) GetInvoice(_ context.Context, id pgtype.UUID) (store.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return store.Invoice{}, store.ErrNoRows
}

func (m *memStore) ListInvoiceItems(_ context.Context, id pgtype.UUID) ([]store.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id], nil
}

func (m *memStore) UpdateInvoiceStatus(_ context.Context, id pgtype.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, inv := range m.invoices {
		if inv.ID == id && inv.PaymentStatus == from {
			m.invoices[i].PaymentStatus = to
			return nil
		}
	}
	return store.ErrNoRows
}

type captureEmitter struct {
	topics   []string
	payloads []any
}

func (c *captureEmitter) Emit(_ context.Context, topic string, id pgtype.UUID, payload any) (store.DomainEvent, error) {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
	return store.DomainEvent{ID: newID(), Topic: topic, AggregateID: id}, nil
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
}

func TestCanTransition(t *testing.T) {
	require.True(t, invoice.CanTransition(invoice.StatusWaitingForPayment, invoice.StatusDelivering))
	require.True(t, invoice.CanTransition(invoice.StatusWaitingForPayment, invoice.StatusCompleted))
	require.True(t, invoice.CanTransition(invoice.StatusDelivering, invoice.StatusCompleted))
	require.False(t, invoice.CanTransition(invoice.StatusCompleted, invoice.StatusDelivering))
	require.False(t, invoice.CanTransition(invoice.StatusDelivering, invoice.StatusDelivering))
	require.False(t, invoice.CanTransition("refunded", invoice.StatusCompleted))
}

func TestListScopesToViewer(t *testing.T) {
	st := &memStore{}
	svc := &invoice.Service{Store: st}
	owner, other := newID(), newID()
	st.add(owner, invoice.StatusWaitingForPayment)
	st.add(owner, invoice.StatusDelivering)
	st.add(other, invoice.StatusWaitingForPayment)

	items, total, err := svc.List(context.Background(), invoice.Viewer{UserID: store.UUIDString(owner)}, invoice.ListParams{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, items, 2)
	require.Equal(t, "Ana", items[0].Address.ReceiverName)

	_, total, err = svc.List(context.Background(), invoice.Viewer{Admin: true}, invoice.ListParams{Status: invoice.StatusWaitingForPayment})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	_, _, err = svc.List(context.Background(), invoice.Viewer{Admin: true}, invoice.ListParams{Status: "lost"})
	requireCode(t, err, "INVALID_INPUT")
}

func TestGetRecomputesBreakdown(t *testing.T) {
	st := &memStore{}
	svc := &invoice.Service{Store: st}
	owner := newID()
	inv := st.add(owner, invoice.StatusWaitingForPayment)

	got, err := svc.Get(context.Background(), invoice.Viewer{UserID: store.UUIDString(owner)}, store.UUIDString(inv.ID))
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, int64(150000), got.Items[0].Gross)
	require.Equal(t, int64(15000), got.Items[0].Discount)
	require.Equal(t, int64(135000), got.Items[0].Total)
	require.Equal(t, "10", got.Items[0].DiscountPercent.String())

	_, err = svc.Get(context.Background(), invoice.Viewer{UserID: store.UUIDString(newID())}, store.UUIDString(inv.ID))
	require.ErrorIs(t, err, invoice.ErrNotFound)

	_, err = svc.Get(context.Background(), invoice.Viewer{Admin: true}, store.UUIDString(inv.ID))
	require.NoError(t, err)
}

func TestUpdatePaymentStatusForwardOnly(t *testing.T) {
	st := &memStore{}
	em := &captureEmitter{}
	svc := &invoice.Service{Store: st, Events: em}
	inv := st.add(newID(), invoice.StatusWaitingForPayment)
	id := store.UUIDString(inv.ID)

	updated, err := svc.UpdatePaymentStatus(context.Background(), id, invoice.StatusDelivering)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusDelivering, updated.PaymentStatus)
	require.Equal(t, []string{events.TopicInvoiceStatusChanged}, em.topics)
	payload, ok := em.payloads[0].(events.InvoiceStatusChanged)
	require.True(t, ok)
	require.Equal(t, invoice.StatusWaitingForPayment, payload.From)

	_, err = svc.UpdatePaymentStatus(context.Background(), id, invoice.StatusWaitingForPayment)
	requireCode(t, err, "INVALID_STATE")
	_, err = svc.UpdatePaymentStatus(context.Background(), id, invoice.StatusDelivering)
	requireCode(t, err, "INVALID_STATE")
	_, err = svc.UpdatePaymentStatus(context.Background(), id, "shipped")
	requireCode(t, err, "INVALID_INPUT")
	require.Len(t, em.topics, 1)

	_, err = svc.UpdatePaymentStatus(context.Background(), id, invoice.StatusCompleted)
	require.NoError(t, err)
}

func TestExportCSV(t *testing.T) {
	st := &memStore{}
	svc := &invoice.Service{Store: st}
	st.add(newID(), invoice.StatusWaitingForPayment)
	st.add(newID(), invoice.StatusCompleted)

	body, count, err := svc.ExportCSV(context.Background(), invoice.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "invoice_id", records[0][0])
	require.Contains(t, records[1], "completed")
	require.Contains(t, records[1], "145000")
}

func TestHandlersRequireAuthAndExport(t *testing.T) {
	st := &memStore{}
	st.add(newID(), invoice.StatusWaitingForPayment)
	h := &invoice.Handler{Service: &invoice.Service{Store: st}}
	r := chi.NewRouter()
	r.Get("/invoices", h.List)
	r.Get("/admin/invoices/export.csv", h.Export)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/invoices", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/invoices/export.csv", nil)
	ctx := common.WithUserID(req.Context(), uuid.NewString())
	ctx = common.WithRoles(ctx, []string{common.RoleAdmin})
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	require.Equal(t, "1", rr.Header().Get("X-Total-Count"))
}
