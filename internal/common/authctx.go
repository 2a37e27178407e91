package common

import (
	"context"
	"slices"
)

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	rolesKey  ctxKey = "auth/roles"
)

// Role names understood by the API.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithRoles stores the roles of the authenticated user.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, slices.Clone(roles))
}

// Roles returns the roles stored by WithRoles.
func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}

// HasRole reports whether the authenticated user holds role.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(Roles(ctx), role)
}

// IsAdmin is shorthand for HasRole(ctx, RoleAdmin).
func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, RoleAdmin)
}
