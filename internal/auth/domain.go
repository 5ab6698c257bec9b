package auth

import (
	"context"
	"sort"
)

// Built-in role names understood by the access and permission checks.
const (
	RoleAdmin         = "admin"
	RoleOwner         = "owner"
	RoleAuthenticated = "authenticated"
	RolePublic        = "public"
)

// UserInfo is the identity derived from a verified bearer credential.
type UserInfo struct {
	ID    string
	Email string
	Roles map[string]struct{}
}

// NewUserInfo builds a UserInfo with the given roles.
func NewUserInfo(id, email string, roles ...string) *UserInfo {
	u := &UserInfo{ID: id, Email: email, Roles: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		if r == "" {
			continue
		}
		u.Roles[r] = struct{}{}
	}
	return u
}

// HasRole reports whether the identity carries role.
func (u *UserInfo) HasRole(role string) bool {
	if u == nil {
		return false
	}
	_, ok := u.Roles[role]
	return ok
}

// IsAdmin reports whether the identity carries the admin role.
func (u *UserInfo) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// RoleList returns the roles in sorted order.
func (u *UserInfo) RoleList() []string {
	if u == nil {
		return nil
	}
	out := make([]string, 0, len(u.Roles))
	for r := range u.Roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type userContextKey struct{}

// ContextWithUser stores the identity in context.
func ContextWithUser(ctx context.Context, u *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext extracts the identity from context, nil when anonymous.
func UserFromContext(ctx context.Context) *UserInfo {
	u, _ := ctx.Value(userContextKey{}).(*UserInfo)
	return u
}
