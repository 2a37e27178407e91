package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-grocery/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	sessions map[string]store.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]store.User{}, sessions: map[string]store.Session{}}
}

func newUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

func (f *fakeStore) CreateUser(_ context.Context, arg store.CreateUserParams) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == arg.Email {
			return store.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	now := store.Timestamp(time.Now())
	u := store.User{
		ID:           newUUID(),
		Name:         arg.Name,
		Email:        arg.Email,
		PasswordHash: arg.PasswordHash,
		Roles:        arg.Roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[store.UUIDString(u.ID)] = u
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id pgtype.UUID) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[store.UUIDString(id)]
	if !ok {
		return store.User{}, store.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) setRoles(id string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.Roles = roles
	f.users[id] = u
}

func (f *fakeStore) CreateSession(_ context.Context, arg store.CreateSessionParams) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := store.Session{
		ID:           newUUID(),
		UserID:       arg.UserID,
		RefreshToken: arg.RefreshToken,
		UserAgent:    arg.UserAgent,
		IP:           arg.IP,
		ExpiresAt:    arg.ExpiresAt,
	}
	f.sessions[arg.RefreshToken] = s
	return s, nil
}

func (f *fakeStore) GetSessionByToken(_ context.Context, token string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return store.Session{}, store.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) RotateSessionToken(_ context.Context, arg store.RotateSessionTokenParams) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, s := range f.sessions {
		if s.ID == arg.ID {
			delete(f.sessions, key)
			s.RefreshToken = arg.RefreshToken
			s.ExpiresAt = arg.ExpiresAt
			f.sessions[arg.RefreshToken] = s
			return s, nil
		}
	}
	return store.Session{}, store.ErrNoRows
}

func (f *fakeStore) DeleteSessionByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}
