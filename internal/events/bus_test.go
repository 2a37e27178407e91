package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/store"
)

type stubStore struct {
	lastParams store.InsertDomainEventParams
	err        error
}

func (s *stubStore) InsertDomainEvent(_ context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error) {
	s.lastParams = arg
	if s.err != nil {
		return store.DomainEvent{}, s.err
	}
	return store.DomainEvent{
		ID:          pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
		OccurredAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}, nil
}

type captureNotifier struct {
	events []store.DomainEvent
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event store.DomainEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func aggregate() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	st := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: st, Notifiers: []events.Notifier{notifier, nil}}

	payload := events.InvoiceCreated{InvoiceID: "inv-1", Total: 151000}
	event, err := bus.Emit(context.Background(), " "+events.TopicInvoiceCreated+" ", aggregate(), payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicInvoiceCreated, st.lastParams.Topic)
	require.JSONEq(t, `{"invoiceId":"inv-1","userId":"","userEmail":"","itemCount":0,"subtotal":0,"discount":0,"deliveryFee":0,"total":151000}`, string(st.lastParams.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("queue down")
	bus := events.Bus{
		Store: &stubStore{},
		Notifiers: []events.Notifier{
			&captureNotifier{err: boom},
			events.NotifierFunc(func(context.Context, store.DomainEvent) error { return nil }),
		},
	}
	event, err := bus.Emit(context.Background(), events.TopicInvoiceStatusChanged, aggregate(), nil)
	require.ErrorIs(t, err, boom)
	require.True(t, event.ID.Valid, "event is still returned")
}

func TestEmitValidation(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), "", aggregate(), nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicInvoiceCreated, pgtype.UUID{}, nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicInvoiceCreated, aggregate(), "{not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicInvoiceCreated, aggregate(), nil)
	require.Error(t, err)
}

func TestEmitStoreFailure(t *testing.T) {
	bus := events.Bus{Store: &stubStore{err: errors.New("db down")}}
	_, err := bus.Emit(context.Background(), events.TopicInvoiceCreated, aggregate(), []byte(`{"a":1}`))
	require.ErrorContains(t, err, "persist event")
}
