package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const auditColumns = `id, actor_kind, user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata, created_at`

// InsertAuditLogParams holds a new audit entry.
type InsertAuditLogParams struct {
	ActorKind    string
	UserID       pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Route        pgtype.Text
	Status       int32
	IP           pgtype.Text
	UserAgent    pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
}

// InsertAuditLog persists an audit entry.
func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	rows, err := q.db.Query(ctx, `
INSERT INTO audit_logs (actor_kind, user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING `+auditColumns,
		arg.ActorKind, arg.UserID, arg.Action, arg.ResourceType, arg.ResourceID, arg.Method, arg.Path, arg.Route,
		arg.Status, arg.IP, arg.UserAgent, arg.RequestID, arg.Metadata)
	if err != nil {
		return AuditLog{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[AuditLog])
}

// ListAuditLogs returns one page of audit entries, newest first.
func (q *Queries) ListAuditLogs(ctx context.Context, limit, offset int32) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+auditColumns+` FROM audit_logs
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[AuditLog])
}
