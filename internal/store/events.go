package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// InsertDomainEventParams holds a new domain event.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

// InsertDomainEvent persists an event and returns the stored row.
func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	rows, err := q.db.Query(ctx, `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`, arg.Topic, arg.AggregateID, arg.Payload)
	if err != nil {
		return DomainEvent{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DomainEvent])
}

// ListDomainEventsByAggregate returns the events of an aggregate in order.
func (q *Queries) ListDomainEventsByAggregate(ctx context.Context, aggregateID pgtype.UUID) ([]DomainEvent, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events
WHERE aggregate_id = $1
ORDER BY occurred_at, id`, aggregateID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[DomainEvent])
}
