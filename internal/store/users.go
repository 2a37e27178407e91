package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, name, email, password_hash, roles, created_at, updated_at`

// CreateUserParams holds the columns set on registration.
type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	Roles        []string
}

// CreateUser inserts a user. Roles defaults to {user} when empty.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	roles := arg.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	rows, err := q.db.Query(ctx, `
INSERT INTO users (name, email, password_hash, roles)
VALUES ($1, $2, $3, $4)
RETURNING `+userColumns, arg.Name, arg.Email, arg.PasswordHash, roles)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[User])
}

// GetUserByEmail loads a user by normalised email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[User])
}

// GetUserByID loads a user by id.
func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[User])
}

// SetUserRoles replaces the roles of a user, returning the updated row.
func (q *Queries) SetUserRoles(ctx context.Context, id pgtype.UUID, roles []string) (User, error) {
	rows, err := q.db.Query(ctx, `
UPDATE users SET roles = $2, updated_at = now()
WHERE id = $1
RETURNING `+userColumns, id, roles)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[User])
}

// CreateSessionParams holds a new refresh session.
type CreateSessionParams struct {
	UserID       pgtype.UUID
	RefreshToken string
	UserAgent    pgtype.Text
	IP           pgtype.Text
	ExpiresAt    pgtype.Timestamptz
}

const sessionColumns = `id, user_id, refresh_token, user_agent, ip, expires_at, created_at`

// CreateSession inserts a refresh session.
func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	rows, err := q.db.Query(ctx, `
INSERT INTO sessions (user_id, refresh_token, user_agent, ip, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+sessionColumns, arg.UserID, arg.RefreshToken, arg.UserAgent, arg.IP, arg.ExpiresAt)
	if err != nil {
		return Session{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Session])
}

// GetSessionByToken loads a session by refresh token hash.
func (q *Queries) GetSessionByToken(ctx context.Context, refreshToken string) (Session, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = $1`, refreshToken)
	if err != nil {
		return Session{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Session])
}

// RotateSessionTokenParams replaces the token hash and expiry of a session.
type RotateSessionTokenParams struct {
	ID           pgtype.UUID
	RefreshToken string
	ExpiresAt    pgtype.Timestamptz
}

// RotateSessionToken swaps in a new refresh token hash.
func (q *Queries) RotateSessionToken(ctx context.Context, arg RotateSessionTokenParams) (Session, error) {
	rows, err := q.db.Query(ctx, `
UPDATE sessions SET refresh_token = $2, expires_at = $3
WHERE id = $1
RETURNING `+sessionColumns, arg.ID, arg.RefreshToken, arg.ExpiresAt)
	if err != nil {
		return Session{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Session])
}

// DeleteSessionByToken removes a session by refresh token hash.
func (q *Queries) DeleteSessionByToken(ctx context.Context, refreshToken string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE refresh_token = $1`, refreshToken)
	return err
}
